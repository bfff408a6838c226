// Package scan walks the message store, asks the active detector for
// secrets and, in fix mode, writes redacted content back.
package scan

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/secretsweep/internal/logging"
	"github.com/systmms/secretsweep/internal/metrics"
	"github.com/systmms/secretsweep/internal/store"
)

// PreviewLength is the number of characters of original content kept in a Finding.
const PreviewLength = 100

// State is the engine's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateScanning
	StateFixing
	StateReporting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateScanning:
		return "scanning"
	case StateFixing:
		return "fixing"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Finding is one message found to contain secrets.
type Finding struct {
	MessageID int64
	// Masked lists masked previews of the matched secrets; empty when the
	// detector cannot tell which secret matched.
	Masked []string
	// Preview is the start of the original content.
	Preview string
}

// Result is the outcome of one scan. Findings are in message id order.
type Result struct {
	Findings []Finding
	Scanned  int
	Fixed    int
}

// Options control a scan.
type Options struct {
	// Fix writes redacted content back. The default is a dry run.
	Fix bool
	// Workers bounds how many detection units run concurrently. Values
	// below 1 mean 1.
	Workers int
	Logger  *logging.Logger
	Metrics *metrics.ScanMetrics
}

// Engine runs one scan with one detector.
type Engine struct {
	st   Store
	det  Detector
	opts Options
	log  *logging.Logger

	mu    sync.Mutex
	state State
}

// New creates an engine.
func New(st Store, det Detector, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Engine{st: st, det: det, opts: opts, log: opts.Logger}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		e.log.Debug("scan state %s -> %s", prev, s)
	}
}

// Run performs the scan. On error the partial result is returned with it;
// fixes committed before the error stay applied. Cancelling ctx stops new
// detection and store calls, but calls already in flight complete.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	if err := e.run(ctx, res); err != nil {
		e.setState(StateFailed)
		return res, err
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, res *Result) error {
	if p, ok := e.det.(Prober); ok {
		e.setState(StateProbing)
		if err := p.Probe(ctx); err != nil {
			return err
		}
	}

	e.setState(StateScanning)
	total, err := e.st.Count(ctx)
	if err != nil {
		return err
	}
	e.log.Info("Scanning %d messages using %s detection...", total, e.det.Name())

	cur, err := e.st.ReadAll(ctx)
	if err != nil {
		return err
	}
	defer cur.Close()

	size := e.det.BatchSize()
	if size < 1 {
		size = 1
	}

	var (
		window [][]store.Message
		batch  = make([]store.Message, 0, size)
	)
	for cur.Next() {
		m := cur.Message()
		if m.Empty() {
			continue
		}
		batch = append(batch, m)
		if len(batch) < size {
			continue
		}
		window = append(window, batch)
		batch = make([]store.Message, 0, size)
		if len(window) < e.opts.Workers {
			continue
		}
		if err := e.process(ctx, window, res); err != nil {
			return err
		}
		window = window[:0]
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		window = append(window, batch)
	}
	if len(window) > 0 {
		if err := e.process(ctx, window, res); err != nil {
			return err
		}
	}

	e.setState(StateReporting)
	e.log.Debug("scanned %d messages, %d findings, %d fixed", res.Scanned, len(res.Findings), res.Fixed)
	e.setState(StateDone)
	return nil
}

// process detects a window of batches, concurrently when there is more than
// one, and then applies them strictly in order. If any batch fails nothing
// from the window is applied.
func (e *Engine) process(ctx context.Context, window [][]store.Message, res *Result) error {
	if err := interrupted(ctx); err != nil {
		return err
	}

	// in-flight calls are allowed to finish after cancellation
	call := context.WithoutCancel(ctx)

	dets := make([][]Detection, len(window))
	if len(window) == 1 {
		d, err := e.det.Detect(call, window[0])
		if err != nil {
			return err
		}
		dets[0] = d
	} else {
		var g errgroup.Group
		g.SetLimit(e.opts.Workers)
		for i := range window {
			g.Go(func() error {
				d, err := e.det.Detect(call, window[i])
				if err != nil {
					return err
				}
				dets[i] = d
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for i, batch := range window {
		if i > 0 {
			if err := interrupted(ctx); err != nil {
				return err
			}
		}
		if err := e.apply(call, batch, dets[i], res); err != nil {
			return err
		}
	}
	return nil
}

// apply records findings for one unit and, in fix mode, commits its updates:
// directly for single-message units, in one transaction otherwise.
func (e *Engine) apply(ctx context.Context, batch []store.Message, dets []Detection, res *Result) error {
	res.Scanned += len(batch)
	e.opts.Metrics.Scanned(len(batch))

	for _, d := range dets {
		m := batch[d.Index]
		res.Findings = append(res.Findings, Finding{
			MessageID: m.ID,
			Masked:    d.Masked,
			Preview:   Preview(m.Content, PreviewLength),
		})
	}
	e.opts.Metrics.Found(len(dets))

	if !e.opts.Fix || len(dets) == 0 {
		return nil
	}

	e.setState(StateFixing)
	defer e.setState(StateScanning)

	if e.det.BatchSize() == 1 {
		for _, d := range dets {
			id := batch[d.Index].ID
			if err := e.st.Update(ctx, id, d.Redacted); err != nil {
				return err
			}
			res.Fixed++
			e.opts.Metrics.Fixed(1)
			e.log.Debug("redacted message %d", id)
		}
		return nil
	}

	tx, err := e.st.Begin(ctx)
	if err != nil {
		return err
	}
	for _, d := range dets {
		if err := tx.Update(ctx, batch[d.Index].ID, d.Redacted); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	res.Fixed += len(dets)
	e.opts.Metrics.Fixed(len(dets))
	e.log.Debug("committed %d redactions", len(dets))
	return nil
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	return nil
}

// Preview returns at most n characters of s.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
