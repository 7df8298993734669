package infra

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/upscaler_test")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxUploadBytes != 25<<20 {
		t.Fatalf("MaxUploadBytes = %d, want 25 MiB", cfg.MaxUploadBytes)
	}
	if cfg.MaxInputDimension != 1536 || cfg.WorkingDimension != 1536 {
		t.Fatalf("dimensions = %d/%d, want 1536", cfg.MaxInputDimension, cfg.WorkingDimension)
	}
	if cfg.RunningRefundPercent != 50 {
		t.Fatalf("RunningRefundPercent = %d, want 50", cfg.RunningRefundPercent)
	}
	if cfg.TriggerQueue != "upscale.triggers" {
		t.Fatalf("TriggerQueue = %s", cfg.TriggerQueue)
	}
	if cfg.DatabaseMaxConns != 10 {
		t.Fatalf("DatabaseMaxConns = %d, want 10", cfg.DatabaseMaxConns)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("missing DATABASE_URL must fail")
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/upscaler_test")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("missing JWT_SECRET must fail")
	}
}

func TestLoadConfigValidatesRefundPercent(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RUNNING_REFUND_PERCENT", "120")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("refund percent outside 0..100 must fail")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_UPLOAD_MB", "10")
	t.Setenv("RUNNING_REFUND_PERCENT", "0")
	t.Setenv("DATABASE_MAX_CONNS", "4")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("MaxUploadBytes = %d, want 10 MiB", cfg.MaxUploadBytes)
	}
	if cfg.RunningRefundPercent != 0 {
		t.Fatalf("RunningRefundPercent = %d, want 0", cfg.RunningRefundPercent)
	}
	if cfg.DatabaseMaxConns != 4 {
		t.Fatalf("DatabaseMaxConns = %d, want 4", cfg.DatabaseMaxConns)
	}
}
