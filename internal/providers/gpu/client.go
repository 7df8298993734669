package gpu

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"upscaler/internal/domain"
	"upscaler/internal/infra"
)

// Options controls how the GPU service client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the external GPU upscaling service. When no API key is
// configured it falls back to a deterministic local upscale so the worker
// stays operational in local and CI environments.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
}

// UpscaleRequest carries the job parameters the GPU service consumes.
type UpscaleRequest struct {
	JobID  string
	Image  []byte
	Params domain.JobParams
}

// UpscaleResult is the produced output asset.
type UpscaleResult struct {
	Data        []byte
	ContentType string
}

type upscalePayload struct {
	JobID      string  `json:"job_id"`
	ImageB64   string  `json:"image_b64"`
	Tier       string  `json:"tier"`
	Scale      int     `json:"scale"`
	Creativity float64 `json:"creativity"`
	Denoise    float64 `json:"denoise"`
	Prompt     string  `json:"prompt,omitempty"`
	Category   string  `json:"category,omitempty"`
}

type upscaleResponse struct {
	ImageB64    string `json:"image_b64"`
	ContentType string `json:"content_type"`
	Error       string `json:"error,omitempty"`
}

// NewClient validates the options and builds a client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" && opts.APIKey != "" {
		return nil, fmt.Errorf("gpu: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Synthetic reports whether the client runs without the real GPU service.
func (c *Client) Synthetic() bool { return c.apiKey == "" }

// Upscale submits one image for processing and blocks until the service
// returns the output.
func (c *Client) Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("gpu: empty input image")
	}
	if c.Synthetic() {
		return c.syntheticUpscale(req)
	}

	payload := upscalePayload{
		JobID:      req.JobID,
		ImageB64:   base64.StdEncoding.EncodeToString(req.Image),
		Tier:       string(req.Params.Tier),
		Scale:      req.Params.Scale,
		Creativity: req.Params.Creativity,
		Denoise:    req.Params.Denoise,
		Prompt:     req.Params.Prompt,
		Category:   req.Params.Category,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gpu: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/upscale", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gpu: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gpu: call service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("gpu: read response: %w", err)
	}

	var decoded upscaleResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("gpu: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("gpu: service error (status %d): %s", resp.StatusCode, msg)
	}
	if decoded.ImageB64 == "" {
		return nil, fmt.Errorf("gpu: service returned no image")
	}
	data, err := base64.StdEncoding.DecodeString(decoded.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("gpu: decode image: %w", err)
	}
	contentType := decoded.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	return &UpscaleResult{Data: data, ContentType: contentType}, nil
}

// syntheticUpscale produces a Lanczos-resampled enlargement locally. Quality
// is nothing like the GPU model's, but the shape of the result is right.
func (c *Client) syntheticUpscale(req UpscaleRequest) (*UpscaleResult, error) {
	img, err := imaging.Decode(bytes.NewReader(req.Image))
	if err != nil {
		return nil, fmt.Errorf("gpu: decode input: %w", err)
	}
	scale := req.Params.Scale
	if scale < 2 {
		scale = 2
	}
	if scale > 4 {
		scale = 4
	}
	bounds := img.Bounds()
	resized := imaging.Resize(img, bounds.Dx()*scale, bounds.Dy()*scale, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, fmt.Errorf("gpu: encode output: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug().Str("job_id", req.JobID).Int("scale", scale).Msg("gpu: synthetic upscale")
	}
	return &UpscaleResult{Data: buf.Bytes(), ContentType: "image/png"}, nil
}
