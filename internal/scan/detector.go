package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	dserrors "github.com/systmms/secretsweep/internal/errors"
	"github.com/systmms/secretsweep/internal/logging"
	"github.com/systmms/secretsweep/internal/metrics"
	"github.com/systmms/secretsweep/internal/scrubber"
	"github.com/systmms/secretsweep/internal/secrets"
	"github.com/systmms/secretsweep/internal/secure"
	"github.com/systmms/secretsweep/internal/store"
)

// Detection marks one message of a detected unit as containing secrets.
type Detection struct {
	// Index is the position of the message in the slice passed to Detect.
	Index int
	// Redacted is the content to write back in fix mode.
	Redacted string
	// Masked holds masked previews of the matched secrets, when known.
	Masked []string
}

// Detector finds secrets in a unit of messages. Every message passed to
// Detect has non-empty content, and at most BatchSize messages are passed
// per call. Detections are returned in input order.
type Detector interface {
	Name() string
	BatchSize() int
	Detect(ctx context.Context, msgs []store.Message) ([]Detection, error)
	Close() error
}

// Prober is implemented by detectors that depend on a remote service and
// must verify it before scanning starts.
type Prober interface {
	Probe(ctx context.Context) error
}

// NewDetector builds the detector for a materialized secret source.
func NewDetector(src secrets.Source, logger *logging.Logger, m *metrics.ScanMetrics) (Detector, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	switch s := src.(type) {
	case *secrets.Local:
		d, err := NewLocalDetector(s)
		if err != nil {
			return nil, err
		}
		return d, nil
	case *secrets.Delegated:
		return NewDelegatedDetector(s.Client, logger, m), nil
	default:
		return nil, dserrors.ConfigError{
			Field:   "mode",
			Value:   fmt.Sprintf("%T", src),
			Message: "unsupported secret source",
		}
	}
}

// Mask renders a secret for display: the first four and last two characters
// for secrets longer than six characters, a fixed mask otherwise.
func Mask(secret string) string {
	r := []rune(secret)
	if len(r) > 6 {
		return string(r[:4]) + "..." + string(r[len(r)-2:])
	}
	return "****"
}

// LocalDetector matches literal secrets held in locked memory.
type LocalDetector struct {
	opened *secure.Opened
	count  int
}

// NewLocalDetector unseals the source's secrets for the life of the detector.
func NewLocalDetector(src *secrets.Local) (*LocalDetector, error) {
	opened, err := src.Unseal()
	if err != nil {
		return nil, fmt.Errorf("unseal secrets: %w", err)
	}
	return &LocalDetector{opened: opened, count: len(opened.Values())}, nil
}

// Name implements Detector.
func (d *LocalDetector) Name() string { return string(secrets.ModeLocal) }

// BatchSize implements Detector. Each message is its own unit.
func (d *LocalDetector) BatchSize() int { return 1 }

// Secrets returns the number of candidate secrets.
func (d *LocalDetector) Secrets() int { return d.count }

// Detect implements Detector.
func (d *LocalDetector) Detect(_ context.Context, msgs []store.Message) ([]Detection, error) {
	var out []Detection
	for i, m := range msgs {
		masked, redacted := redactLiterals(m.Content, d.opened.Values())
		if len(masked) == 0 {
			continue
		}
		out = append(out, Detection{Index: i, Redacted: redacted, Masked: masked})
	}
	return out, nil
}

// Close wipes the unsealed secrets.
func (d *LocalDetector) Close() error {
	d.opened.Destroy()
	return nil
}

// redactLiterals checks every secret against the original content and
// replaces every occurrence of each matched one with the redaction marker.
func redactLiterals(content string, values []string) ([]string, string) {
	var masked, matched []string
	for _, s := range values {
		if s == "" || !strings.Contains(content, s) {
			continue
		}
		masked = append(masked, Mask(s))
		matched = append(matched, s)
	}
	if len(matched) == 0 {
		return nil, content
	}
	return masked, logging.Redact(content, matched)
}

// DelegatedDetector asks the scrubbing service to scrub batches and treats
// any change to a text as a hit.
type DelegatedDetector struct {
	client  secrets.Scrubber
	logger  *logging.Logger
	metrics *metrics.ScanMetrics
}

// NewDelegatedDetector wraps a scrubbing service client.
func NewDelegatedDetector(c secrets.Scrubber, logger *logging.Logger, m *metrics.ScanMetrics) *DelegatedDetector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DelegatedDetector{client: c, logger: logger, metrics: m}
}

// Name implements Detector.
func (d *DelegatedDetector) Name() string { return string(secrets.ModeDelegated) }

// BatchSize implements Detector.
func (d *DelegatedDetector) BatchSize() int { return scrubber.MaxBatch }

// Probe checks the service health before any message is read.
func (d *DelegatedDetector) Probe(ctx context.Context) error {
	h, err := d.client.Health(ctx)
	if err != nil {
		if dserrors.IsServiceUnavailable(err) {
			return err
		}
		return dserrors.ServiceUnavailableError{URL: d.client.URL(), Err: err}
	}
	if !h.Available {
		return dserrors.ServiceUnavailableError{URL: d.client.URL()}
	}
	d.logger.Info("Scrubber has %d secrets loaded", h.SecretsLoaded)
	return nil
}

// Detect implements Detector.
func (d *DelegatedDetector) Detect(ctx context.Context, msgs []store.Message) ([]Detection, error) {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Content
	}

	start := time.Now()
	scrubbed, err := d.client.ScrubBatch(ctx, texts)
	if err == nil && len(scrubbed) != len(texts) {
		err = dserrors.ScrubError{
			Op:  "batch",
			Err: fmt.Errorf("%w: sent %d, got %d", dserrors.ErrLengthMismatch, len(texts), len(scrubbed)),
		}
	}
	d.metrics.ScrubBatch(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	var out []Detection
	for i := range texts {
		if scrubbed[i] != texts[i] {
			out = append(out, Detection{Index: i, Redacted: scrubbed[i]})
		}
	}
	return out, nil
}

// Close implements Detector.
func (d *DelegatedDetector) Close() error { return nil }
