package testrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmalmrose/promptlab/internal/models"
)

var (
	// ErrNotFound is returned for runs, versions and results that either
	// do not exist or belong to someone else; the two cases are
	// indistinguishable to the caller.
	ErrNotFound = errors.New("test run not found")
	// ErrValidation covers bad run-initiation input.
	ErrValidation = errors.New("invalid test run request")
)

// Store is the persistence surface the orchestrator and reporter need.
type Store interface {
	VersionForUser(ctx context.Context, promptID uuid.UUID, version int, userID uuid.UUID) (*models.PromptVersion, error)
	CreateRun(ctx context.Context, versionID uuid.UUID, vars map[string]string, modelNames []string) (*models.TestRun, error)
	Run(ctx context.Context, runID uuid.UUID) (*models.TestRun, error)
	RunForUser(ctx context.Context, runID, userID uuid.UUID) (*models.TestRun, error)
	CompleteResult(ctx context.Context, runID uuid.UUID, model, output string, responseTimeMs int, totalTokens *int, costUSD *float64) error
	JudgeResult(ctx context.Context, runID, resultID, userID uuid.UUID, passed bool) (*models.TestResult, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) VersionForUser(ctx context.Context, promptID uuid.UUID, version int, userID uuid.UUID) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := s.db.QueryRow(ctx,
		`SELECT v.id, v.prompt_id, v.version, v.content, v.variables, v.created_at
		 FROM prompt_versions v
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.prompt_id = $1 AND v.version = $2 AND p.user_id = $3`,
		promptID, version, userID,
	).Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.Variables, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt version: %w", err)
	}
	return &v, nil
}

// CreateRun writes the run snapshot plus one empty result row per model in
// a single transaction, so the reporter can see the full expected
// cardinality from the first poll.
func (s *PGStore) CreateRun(ctx context.Context, versionID uuid.UUID, vars map[string]string, modelNames []string) (*models.TestRun, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	varsJSON, _ := json.Marshal(vars)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var run models.TestRun
	err = tx.QueryRow(ctx,
		`INSERT INTO test_runs (prompt_version_id, variable_values)
		 VALUES ($1, $2)
		 RETURNING id, prompt_version_id, variable_values, created_at`,
		versionID, varsJSON,
	).Scan(&run.ID, &run.PromptVersionID, &run.VariableValues, &run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert test run: %w", err)
	}

	for _, name := range modelNames {
		var r models.TestResult
		err = tx.QueryRow(ctx,
			`INSERT INTO test_results (test_run_id, model)
			 VALUES ($1, $2)
			 RETURNING id, test_run_id, model, output, response_time_ms, total_tokens, cost_usd, passed, created_at, completed_at`,
			run.ID, name,
		).Scan(&r.ID, &r.TestRunID, &r.Model, &r.Output, &r.ResponseTimeMs, &r.TotalTokens, &r.CostUSD, &r.Passed, &r.CreatedAt, &r.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("insert result row for %s: %w", name, err)
		}
		run.Results = append(run.Results, r)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &run, nil
}

func (s *PGStore) Run(ctx context.Context, runID uuid.UUID) (*models.TestRun, error) {
	var run models.TestRun
	err := s.db.QueryRow(ctx,
		`SELECT id, prompt_version_id, variable_values, created_at
		 FROM test_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.PromptVersionID, &run.VariableValues, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test run: %w", err)
	}

	if err := s.loadResults(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PGStore) RunForUser(ctx context.Context, runID, userID uuid.UUID) (*models.TestRun, error) {
	var run models.TestRun
	err := s.db.QueryRow(ctx,
		`SELECT tr.id, tr.prompt_version_id, tr.variable_values, tr.created_at
		 FROM test_runs tr
		 JOIN prompt_versions v ON v.id = tr.prompt_version_id
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE tr.id = $1 AND p.user_id = $2`,
		runID, userID,
	).Scan(&run.ID, &run.PromptVersionID, &run.VariableValues, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test run: %w", err)
	}

	if err := s.loadResults(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PGStore) loadResults(ctx context.Context, run *models.TestRun) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, test_run_id, model, output, response_time_ms, total_tokens, cost_usd, passed, created_at, completed_at
		 FROM test_results WHERE test_run_id = $1
		 ORDER BY created_at ASC, model ASC`,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.TestResult
		if err := rows.Scan(&r.ID, &r.TestRunID, &r.Model, &r.Output, &r.ResponseTimeMs, &r.TotalTokens, &r.CostUSD, &r.Passed, &r.CreatedAt, &r.CompletedAt); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		run.Results = append(run.Results, r)
	}
	return rows.Err()
}

// CompleteResult fills the pending row for (run, model). The output guard
// makes it a no-op when the row was already completed, so a crashed task
// retried by the queue never clobbers a finished result.
func (s *PGStore) CompleteResult(ctx context.Context, runID uuid.UUID, model, output string, responseTimeMs int, totalTokens *int, costUSD *float64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE test_results
		 SET output = $3, response_time_ms = $4, total_tokens = $5, cost_usd = $6, completed_at = now()
		 WHERE test_run_id = $1 AND model = $2 AND output = ''`,
		runID, model, output, responseTimeMs, totalTokens, costUSD,
	)
	if err != nil {
		return fmt.Errorf("complete result %s: %w", model, err)
	}
	return nil
}

func (s *PGStore) JudgeResult(ctx context.Context, runID, resultID, userID uuid.UUID, passed bool) (*models.TestResult, error) {
	var r models.TestResult
	err := s.db.QueryRow(ctx,
		`UPDATE test_results r SET passed = $4
		 FROM test_runs tr
		 JOIN prompt_versions v ON v.id = tr.prompt_version_id
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE r.id = $1 AND r.test_run_id = $2 AND tr.id = r.test_run_id AND p.user_id = $3
		 RETURNING r.id, r.test_run_id, r.model, r.output, r.response_time_ms, r.total_tokens, r.cost_usd, r.passed, r.created_at, r.completed_at`,
		resultID, runID, userID, passed,
	).Scan(&r.ID, &r.TestRunID, &r.Model, &r.Output, &r.ResponseTimeMs, &r.TotalTokens, &r.CostUSD, &r.Passed, &r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("judge result: %w", err)
	}
	return &r, nil
}
