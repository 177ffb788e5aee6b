package testrun

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmalmrose/promptlab/internal/models"
)

const (
	EventConnected = "connected"
	EventUpdate    = "update"
	EventComplete  = "complete"
	EventError     = "error"
)

// Event is one frame of the run-progress feed.
type Event struct {
	Type    string          `json:"type"`
	TestRun *models.TestRun `json:"testRun,omitempty"`
	Message string          `json:"message,omitempty"`
}

// EventSink receives feed events; the HTTP layer adapts it onto SSE.
type EventSink interface {
	Send(Event) error
}

// Streamer emits the run-progress feed: connected, then a full snapshot on
// every progress notification or ticker tick, then a single complete once
// all result rows are filled. Query failures produce a non-terminal error
// event; only client disconnect or completion ends the feed.
type Streamer struct {
	store    Store
	sub      Subscriber
	interval time.Duration
}

func NewStreamer(store Store, sub Subscriber, interval time.Duration) *Streamer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Streamer{store: store, sub: sub, interval: interval}
}

// Stream blocks until the run completes or ctx is done. The caller must
// have checked ownership of runID already.
func (s *Streamer) Stream(ctx context.Context, runID uuid.UUID, sink EventSink) error {
	if err := sink.Send(Event{Type: EventConnected}); err != nil {
		return err
	}

	var notify <-chan struct{}
	cancelSub := func() {}
	if s.sub != nil {
		notify, cancelSub = s.sub.Subscribe(ctx, runID)
	}
	defer cancelSub()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-notify:
			if !ok {
				// Subscription gone; keep running on the ticker alone.
				notify = nil
				continue
			}
		}

		run, err := s.store.Run(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := sink.Send(Event{Type: EventError, Message: "Error fetching updates"}); err != nil {
				return err
			}
			continue
		}

		if err := sink.Send(Event{Type: EventUpdate, TestRun: run}); err != nil {
			return err
		}

		if RunComplete(run) {
			return sink.Send(Event{Type: EventComplete})
		}
	}
}

// RunComplete reports whether every result row has output and at least one
// row exists.
func RunComplete(run *models.TestRun) bool {
	if len(run.Results) == 0 {
		return false
	}
	for _, r := range run.Results {
		if !r.Completed() {
			return false
		}
	}
	return true
}
