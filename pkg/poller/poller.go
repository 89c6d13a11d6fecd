// Package poller drives a credential exchange to completion: it asks
// the status endpoint on a fixed interval until a terminal state or
// cancellation, then fetches the decoded attributes on success.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

const DefaultInterval = 3 * time.Second

type State int

const (
	StateIdle State = iota
	StatePolling
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

var (
	// ErrExchangeFailed surfaces an upstream terminal error state.
	ErrExchangeFailed = errors.New("exchange ended in error state")
	// ErrExchangeExpired surfaces an upstream expiry.
	ErrExchangeExpired = errors.New("exchange expired")
)

// Status is one observation of the exchange.
type Status struct {
	ExecutionState string
	Payload        json.RawMessage
}

// Outcome is the result of a completed poll loop.
type Outcome struct {
	ExecutionState string
	Attributes     json.RawMessage
}

type Config struct {
	// Interval between polls; DefaultInterval when zero.
	Interval time.Duration
	// Poll observes the exchange once. Transient errors keep the
	// loop alive.
	Poll func(ctx context.Context) (*Status, error)
	// FetchAttributes runs after a success observation. A failure
	// leaves the loop running, so success can be observed again and
	// the fetch retried against the same exchange.
	FetchAttributes func(ctx context.Context) (json.RawMessage, error)
	// OnStatus, when set, is invoked for every observation.
	OnStatus func(status *Status)
}

type Poller struct {
	id  string
	cfg Config

	mux   sync.Mutex
	state State
}

func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		id:    ksuid.New().String(),
		cfg:   cfg,
		state: StateIdle,
	}
}

func (p *Poller) State() State {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mux.Lock()
	p.state = s
	p.mux.Unlock()
}

// Run polls until a terminal state or context cancellation. After the
// context is done no further poll is issued; an in-flight call is
// allowed to finish and its result is discarded.
func (p *Poller) Run(ctx context.Context) (*Outcome, error) {
	p.setState(StatePolling)
	defer p.setState(StateTerminal)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		status, err := p.cfg.Poll(ctx)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case err != nil:
			// transient; keep polling for as long as the caller cares
			slog.Debug("poll attempt failed", "poller", p.id, "error", err)

		case status.ExecutionState == "success":
			if p.cfg.OnStatus != nil {
				p.cfg.OnStatus(status)
			}
			attrs, err := p.cfg.FetchAttributes(ctx)
			if err == nil {
				return &Outcome{ExecutionState: status.ExecutionState, Attributes: attrs}, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// the exchange reference survives, retry next interval
			slog.Warn("attribute fetch after success failed, retrying", "poller", p.id, "error", err)

		case status.ExecutionState == "error":
			if p.cfg.OnStatus != nil {
				p.cfg.OnStatus(status)
			}
			return &Outcome{ExecutionState: status.ExecutionState}, ErrExchangeFailed

		case status.ExecutionState == "expired":
			if p.cfg.OnStatus != nil {
				p.cfg.OnStatus(status)
			}
			return &Outcome{ExecutionState: status.ExecutionState}, ErrExchangeExpired

		default:
			if p.cfg.OnStatus != nil {
				p.cfg.OnStatus(status)
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
