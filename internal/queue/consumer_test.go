package queue

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"upscaler/internal/domain"
)

func TestDecodeTrigger(t *testing.T) {
	body, err := json.Marshal(TriggerMessage{
		JobID:    "job-1",
		Tool:     domain.ToolUpscaler,
		ImageURL: "http://files.local/inputs/a.png",
		Params:   domain.JobParams{Tier: domain.TierPro, Scale: 2},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg, err := decodeTrigger(body)
	if err != nil {
		t.Fatalf("decodeTrigger: %v", err)
	}
	if msg.JobID != "job-1" || msg.Params.Tier != domain.TierPro {
		t.Fatalf("decoded = %+v", msg)
	}
}

func TestDecodeTriggerRejectsPoison(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("garbage")},
		{"missing job id", []byte(`{"tool":"upscaler-arcano"}`)},
		{"empty body", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeTrigger(tc.body); err == nil {
				t.Fatalf("poison body %q must be rejected", tc.body)
			}
		})
	}
}

func TestRetryDelivery(t *testing.T) {
	if !retryDelivery(amqp.Delivery{Redelivered: false}) {
		t.Fatalf("first failure must requeue")
	}
	if retryDelivery(amqp.Delivery{Redelivered: true}) {
		t.Fatalf("a redelivered failure must dead-letter")
	}
}
