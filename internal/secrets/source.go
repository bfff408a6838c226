// Package secrets materializes the secret source for a scan.
//
// A run uses exactly one of two variants: Local holds literal secret values
// read from a YAML key/value document, Delegated holds nothing and defers
// detection to the scrubbing service.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/secretsweep/internal/errors"
	"github.com/systmms/secretsweep/internal/scrubber"
	"github.com/systmms/secretsweep/internal/secure"
)

// MinLength is the shortest value, in characters, kept as a local secret.
// Shorter values match too much ordinary text.
const MinLength = 5

// Mode names the active detection strategy.
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeDelegated Mode = "delegated"
)

// Source is a materialized secret source.
type Source interface {
	Mode() Mode
}

// Scrubber is the part of the scrubbing service client the delegated source needs.
type Scrubber interface {
	URL() string
	Health(ctx context.Context) (scrubber.Health, error)
	ScrubBatch(ctx context.Context, texts []string) ([]string, error)
}

// Local is a set of literal secrets sealed in memory.
type Local struct {
	bufs []*secure.SecureBuffer
}

// ParseLocal reads a YAML mapping and keeps every string value longer than
// four characters. Keys, nested values and non-string scalars are dropped.
// Order follows the document; duplicates are kept once.
func ParseLocal(r io.Reader) (*Local, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, notMapping("empty document")
		}
		return nil, dserrors.ConfigError{
			Field:      "secrets",
			Message:    "secret input is not valid YAML",
			Suggestion: "Pipe a YAML key/value document, e.g. ansible-vault view secrets/vault.yml",
			Err:        err,
		}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, notMapping(fmt.Sprintf("top-level %s", kindName(root.Kind)))
	}

	values := make([]string, 0, len(root.Content)/2)
	for i := 1; i < len(root.Content); i += 2 {
		v := root.Content[i]
		if v.Kind == yaml.AliasNode && v.Alias != nil {
			v = v.Alias
		}
		if v.Kind != yaml.ScalarNode || v.ShortTag() != "!!str" {
			continue
		}
		values = append(values, v.Value)
	}
	return NewLocal(values...)
}

// NewLocal seals the given values, applying the same filter as ParseLocal.
func NewLocal(values ...string) (*Local, error) {
	l := &Local{}
	seen := make(map[string]struct{})
	for _, v := range values {
		if utf8.RuneCountInString(v) < MinLength {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		buf, err := secure.NewSecureBuffer([]byte(v))
		if err != nil {
			l.Destroy()
			return nil, err
		}
		l.bufs = append(l.bufs, buf)
	}
	return l, nil
}

// Mode implements Source.
func (l *Local) Mode() Mode { return ModeLocal }

// Len returns the number of candidate secrets.
func (l *Local) Len() int { return len(l.bufs) }

// Unseal decrypts every secret for the duration of a scan. The caller must
// Destroy the result.
func (l *Local) Unseal() (*secure.Opened, error) {
	return secure.OpenAll(l.bufs)
}

// Destroy drops all sealed secrets.
func (l *Local) Destroy() {
	for _, b := range l.bufs {
		b.Destroy()
	}
	l.bufs = nil
}

// Delegated defers detection to the scrubbing service.
type Delegated struct {
	Client Scrubber
}

// NewDelegated wraps a scrubbing service client.
func NewDelegated(c Scrubber) *Delegated {
	return &Delegated{Client: c}
}

// Mode implements Source.
func (d *Delegated) Mode() Mode { return ModeDelegated }

// Options selects the secret source. Exactly one of UseInput and
// ScrubberURL must be set.
type Options struct {
	UseInput    bool
	Input       io.Reader
	ScrubberURL string

	// ScrubberOptions configure the client built for ScrubberURL.
	ScrubberOptions []scrubber.Option
}

// Select validates the mode selection and materializes the source. It does
// no network or database I/O.
func Select(opts Options) (Source, error) {
	switch {
	case opts.UseInput && opts.ScrubberURL != "":
		return nil, dserrors.ConfigError{
			Field:      "mode",
			Message:    "cannot use both a local secret list and --scrubber-url",
			Suggestion: "Pick exactly one detection mode",
		}
	case !opts.UseInput && opts.ScrubberURL == "":
		return nil, dserrors.ConfigError{
			Field:      "mode",
			Message:    "no detection mode selected",
			Suggestion: "Use --secrets-stdin, --secrets-file or --scrubber-url",
		}
	case opts.UseInput:
		if opts.Input == nil {
			return nil, dserrors.ConfigError{Field: "secrets", Message: "no secret input provided"}
		}
		l, err := ParseLocal(opts.Input)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		c, err := scrubber.New(opts.ScrubberURL, opts.ScrubberOptions...)
		if err != nil {
			return nil, err
		}
		return NewDelegated(c), nil
	}
}

func notMapping(what string) error {
	return dserrors.ConfigError{
		Field:      "secrets",
		Message:    "secret input must be a YAML mapping, got " + what,
		Suggestion: "Provide key: value pairs, one secret per key",
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "unknown node"
	}
}
