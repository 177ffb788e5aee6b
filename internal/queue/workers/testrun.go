package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmalmrose/promptlab/internal/queue"
	"github.com/jmalmrose/promptlab/internal/testrun"
)

type TestRunWorker struct {
	svc *testrun.Service
}

func NewTestRunWorker(svc *testrun.Service) *TestRunWorker {
	return &TestRunWorker{svc: svc}
}

func (w *TestRunWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TestRunExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("parse run ID %q: %w", payload.RunID, err)
	}

	start := time.Now()
	slog.Info("executing test run", "run_id", runID, "models", len(payload.Models))

	if err := w.svc.Execute(ctx, runID, payload.Prompt, payload.Models); err != nil {
		return fmt.Errorf("execute run %s: %w", runID, err)
	}

	slog.Info("test run finished", "run_id", runID, "duration", time.Since(start))
	return nil
}
