// Package scrubber is the HTTP client for the remote secret scrubbing service.
//
// The service owns the secret list; callers only see scrubbed text. Batches
// are positional: element i of the response is the scrubbed form of element
// i of the request, and no other correlation is exchanged.
package scrubber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	dserrors "github.com/systmms/secretsweep/internal/errors"
)

const (
	// MaxBatch caps the number of texts per scrub request.
	MaxBatch = 100

	// DefaultTimeout bounds every scrub call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 64 << 20
)

const batchResponseSchema = `{
  "type": "object",
  "required": ["texts"],
  "properties": {
    "texts": {"type": "array", "items": {"type": "string"}}
  }
}`

const healthResponseSchema = `{
  "type": "object",
  "required": ["secrets_loaded"],
  "properties": {
    "secrets_loaded": {"type": "integer", "minimum": 0}
  }
}`

var (
	batchSchema  = mustSchema(batchResponseSchema)
	healthSchema = mustSchema(healthResponseSchema)
)

// HTTPClient is the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Health is the scrubber's answer to a health probe.
type Health struct {
	Available     bool
	SecretsLoaded int
}

// Client talks to the scrubbing service.
type Client struct {
	base    string
	client  HTTPClient
	timeout time.Duration
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) { cl.client = c }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithRateLimit paces scrub calls to rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, dserrors.ConfigError{
			Field:      "scrubber.url",
			Value:      baseURL,
			Message:    "invalid scrubber URL",
			Suggestion: "Use a full URL such as http://scrubber:8001",
			Err:        err,
		}
	}

	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the service base URL.
func (c *Client) URL() string {
	return c.base
}

// Health probes GET {base}/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return Health{}, dserrors.ServiceUnavailableError{URL: c.base, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Health{}, dserrors.ServiceUnavailableError{URL: c.base, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Health{}, dserrors.ServiceUnavailableError{URL: c.base, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Health{}, dserrors.ServiceUnavailableError{URL: c.base, Status: resp.StatusCode}
	}
	if err := validate(healthSchema, body); err != nil {
		return Health{}, dserrors.ServiceUnavailableError{URL: c.base, Status: resp.StatusCode, Err: err}
	}

	var out struct {
		SecretsLoaded int `json:"secrets_loaded"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Health{}, dserrors.ServiceUnavailableError{URL: c.base, Status: resp.StatusCode, Err: err}
	}
	return Health{Available: true, SecretsLoaded: out.SecretsLoaded}, nil
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Texts []string `json:"texts"`
}

// ScrubBatch posts texts to {base}/scrub/batch and returns the scrubbed
// texts in the same order. A response of a different length is an error;
// it is never truncated or padded.
func (c *Client) ScrubBatch(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) > MaxBatch {
		return nil, dserrors.ScrubError{Op: "batch", Err: fmt.Errorf("batch of %d texts exceeds limit of %d", len(texts), MaxBatch)}
	}
	if len(texts) == 0 {
		return []string{}, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, dserrors.ScrubError{Op: "batch", Err: err}
		}
	}

	payload, err := json.Marshal(batchRequest{Texts: texts})
	if err != nil {
		return nil, dserrors.ScrubError{Op: "batch", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/scrub/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, dserrors.ScrubError{Op: "batch", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dserrors.ScrubError{Op: "batch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, dserrors.ScrubError{Op: "batch", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dserrors.ScrubError{Op: "batch", Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body)))}
	}
	if err := validate(batchSchema, body); err != nil {
		return nil, dserrors.ScrubError{Op: "batch", Status: resp.StatusCode, Err: err}
	}

	var out batchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, dserrors.ScrubError{Op: "batch", Status: resp.StatusCode, Err: err}
	}
	if len(out.Texts) != len(texts) {
		return nil, dserrors.ScrubError{
			Op:     "batch",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: sent %d, got %d", dserrors.ErrLengthMismatch, len(texts), len(out.Texts)),
		}
	}
	return out.Texts, nil
}

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("malformed response: %s", strings.Join(msgs, "; "))
	}
	return nil
}
