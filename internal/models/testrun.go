package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TestRun snapshots the variable values it was started with; later edits
// to the prompt version never change a recorded run.
type TestRun struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	PromptVersionID uuid.UUID       `json:"prompt_version_id" db:"prompt_version_id"`
	VariableValues  json.RawMessage `json:"variable_values" db:"variable_values"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	Results         []TestResult    `json:"results,omitempty"`
}

// TestResult rows are created empty when the run starts and written
// exactly once when the provider call finishes. Failures land in Output
// as text; Passed is only ever set by a human review.
type TestResult struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	TestRunID      uuid.UUID  `json:"test_run_id" db:"test_run_id"`
	Model          string     `json:"model" db:"model"`
	Output         string     `json:"output" db:"output"`
	ResponseTimeMs int        `json:"response_time_ms" db:"response_time_ms"`
	TotalTokens    *int       `json:"total_tokens,omitempty" db:"total_tokens"`
	CostUSD        *float64   `json:"cost_usd,omitempty" db:"cost_usd"`
	Passed         *bool      `json:"passed" db:"passed"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

func (r *TestResult) Completed() bool {
	return r.Output != ""
}
