package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/logging"
)

const (
	defaultRelayInterval = 2 * time.Second
	defaultRelayBatch    = 100
	defaultRelayRetries  = 5
	defaultRelayDelay    = 200 * time.Millisecond
)

// Source is the read side of the event log.
type Source interface {
	EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Publisher delivers a batch of messages in order.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// Message is the envelope sent downstream for one audit event.
type Message struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	AssignmentID string          `json:"assignment_id,omitempty"`
	EntityKind   string          `json:"entity_kind"`
	EntityID     string          `json:"entity_id,omitempty"`
	ActorID      string          `json:"actor_id"`
	TS           string          `json:"ts"`
	Payload      json.RawMessage `json:"payload"`
	PayloadRaw   string          `json:"payload_raw,omitempty"`
}

func NewMessage(evt domain.Event) Message {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	return Message{
		ID:           evt.ID,
		Type:         evt.Type,
		AssignmentID: evt.AssignmentID,
		EntityKind:   evt.EntityKind,
		EntityID:     evt.EntityID,
		ActorID:      evt.ActorID,
		TS:           evt.TS,
		Payload:      payload,
		PayloadRaw:   raw,
	}
}

// Relay tails the event log and forwards matching events to a Publisher.
// The cursor lives in memory; a fresh relay starts at the newest event unless
// FromStart is set.
type Relay struct {
	Source     Source
	Publisher  Publisher
	Logger     *logging.Logger
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	FromStart  bool
	Filter     []string

	cursor  int64
	started bool
}

func (r *Relay) Cursor() int64 { return r.cursor }

// Run drains the log every Interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.Logger.Warn(ctx, "event relay: drain failed", zap.Error(err), zap.Int64("cursor", r.cursor))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain publishes every pending event and returns how many were sent.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	if !r.started {
		if !r.FromStart {
			cur, err := r.Source.LatestEventID(ctx)
			if err != nil {
				return 0, fmt.Errorf("init cursor: %w", err)
			}
			r.cursor = cur
		}
		r.started = true
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	filter := newEventFilter(r.Filter)
	sent := 0
	for {
		evts, err := r.Source.EventsAfter(ctx, r.cursor, batch)
		if err != nil {
			return sent, fmt.Errorf("fetch events: %w", err)
		}
		if len(evts) == 0 {
			return sent, nil
		}
		msgs := make([]Message, 0, len(evts))
		for _, evt := range evts {
			if filter.match(evt.Type) {
				msgs = append(msgs, NewMessage(evt))
			}
		}
		if len(msgs) > 0 {
			if _, err := RetryWithBackoff(ctx, r.retries(), r.delay(), func() (struct{}, error) {
				return struct{}{}, r.Publisher.Publish(ctx, msgs)
			}); err != nil {
				return sent, fmt.Errorf("publish: %w", err)
			}
		}
		sent += len(msgs)
		r.cursor = evts[len(evts)-1].ID
		r.Logger.Debug(ctx, "event relay: published", zap.Int("count", len(msgs)), zap.Int64("cursor", r.cursor))
		if len(evts) < batch {
			return sent, nil
		}
	}
}

func (r *Relay) retries() int {
	if r.MaxRetries > 0 {
		return r.MaxRetries
	}
	return defaultRelayRetries
}

func (r *Relay) delay() time.Duration {
	if r.BaseDelay > 0 {
		return r.BaseDelay
	}
	return defaultRelayDelay
}

// RetryWithBackoff retries fn with exponential backoff and jitter. Context
// errors are never retried.
func RetryWithBackoff[T any](ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if maxRetries <= 0 {
		return zero, fmt.Errorf("maxRetries must be > 0, got %d", maxRetries)
	}
	var lastErr error
	for i := range maxRetries {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if i < maxRetries-1 {
			jitter := time.Duration(rand.Int63n(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto rand
			delay := time.Duration(math.Pow(2, float64(i)))*baseDelay + jitter
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
