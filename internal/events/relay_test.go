package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/domain"
)

type memSource struct {
	events []domain.Event
}

func (s *memSource) EventsAfter(_ context.Context, cursor int64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s.events {
		if e.ID > cursor {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memSource) LatestEventID(context.Context) (int64, error) {
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].ID, nil
}

func (s *memSource) add(typ string) {
	s.events = append(s.events, domain.Event{ID: int64(len(s.events) + 1), Type: typ, EntityKind: "signup", ActorID: "a", Payload: `{"topic_id":"t1"}`})
}

type recordingPublisher struct {
	failures int
	batches  [][]Message
}

func (p *recordingPublisher) Publish(_ context.Context, msgs []Message) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.batches = append(p.batches, msgs)
	return nil
}

func (p *recordingPublisher) ids() []int64 {
	var ids []int64
	for _, b := range p.batches {
		for _, m := range b {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestRelayStartsAtLatestByDefault(t *testing.T) {
	src := &memSource{}
	src.add(SignUpConfirmed)
	src.add(SignUpWaitlisted)
	pub := &recordingPublisher{}
	r := &Relay{Source: src, Publisher: pub}

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	src.add(SignUpPromoted)
	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, pub.ids())
	assert.Equal(t, int64(3), r.Cursor())
}

func TestRelayBatchesAndFilters(t *testing.T) {
	src := &memSource{}
	for i := 0; i < 5; i++ {
		src.add(SignUpConfirmed)
		src.add(BidSet)
	}
	pub := &recordingPublisher{}
	r := &Relay{Source: src, Publisher: pub, FromStart: true, BatchSize: 3, Filter: []string{SignUpConfirmed, " "}}

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, pub.ids())
	assert.Equal(t, int64(10), r.Cursor())
}

func TestRelayRetriesPublisher(t *testing.T) {
	src := &memSource{}
	src.add(SignUpConfirmed)
	pub := &recordingPublisher{failures: 2}
	r := &Relay{Source: src, Publisher: pub, FromStart: true, MaxRetries: 3, BaseDelay: time.Millisecond}

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelayKeepsCursorOnFailure(t *testing.T) {
	src := &memSource{}
	src.add(SignUpConfirmed)
	pub := &recordingPublisher{failures: 10}
	r := &Relay{Source: src, Publisher: pub, FromStart: true, MaxRetries: 2, BaseDelay: time.Millisecond}

	_, err := r.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(0), r.Cursor())
}

func TestNewMessagePayload(t *testing.T) {
	m := NewMessage(domain.Event{ID: 1, Payload: `{"a":1}`})
	assert.JSONEq(t, `{"a":1}`, string(m.Payload))
	assert.Empty(t, m.PayloadRaw)

	m = NewMessage(domain.Event{ID: 2, Payload: `not json`})
	assert.JSONEq(t, `{}`, string(m.Payload))
	assert.Equal(t, "not json", m.PayloadRaw)
}

func TestRetryWithBackoffStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryWithBackoff(ctx, 3, time.Millisecond, func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)

	_, err = RetryWithBackoff(context.Background(), 0, time.Millisecond, func() (int, error) { return 1, nil })
	require.Error(t, err)
}
