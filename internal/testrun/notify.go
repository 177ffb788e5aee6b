package testrun

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Subscriber delivers run-progress notifications to a stream. The channel
// carries no payload; a tick just means "re-query now".
type Subscriber interface {
	Subscribe(ctx context.Context, runID uuid.UUID) (<-chan struct{}, func())
}

// RunNotifier pushes per-run progress over a Redis pub/sub channel, so a
// stream subscriber reacts to each completed result instead of rediscovering
// it on the next poll interval. Publishing is best-effort: the stream's
// ticker covers lost notifications.
type RunNotifier struct {
	rdb *redis.Client
}

func NewRunNotifier(rdb *redis.Client) *RunNotifier {
	return &RunNotifier{rdb: rdb}
}

func runChannel(runID uuid.UUID) string {
	return "testrun:progress:" + runID.String()
}

func (n *RunNotifier) Publish(ctx context.Context, runID uuid.UUID) {
	if err := n.rdb.Publish(ctx, runChannel(runID), "1").Err(); err != nil {
		slog.Debug("publish run progress", "run_id", runID, "error", err)
	}
}

func (n *RunNotifier) Subscribe(ctx context.Context, runID uuid.UUID) (<-chan struct{}, func()) {
	sub := n.rdb.Subscribe(ctx, runChannel(runID))

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for range sub.Channel() {
			// Coalesce: one pending tick is enough to trigger a re-query.
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()

	return ch, func() { _ = sub.Close() }
}
