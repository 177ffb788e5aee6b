package queue

const TypeTestRunExecute = "testrun:execute"

// TestRunExecutePayload carries everything the worker needs so it never
// re-reads the prompt version: the prompt is rendered once at submission
// and snapshotted here.
type TestRunExecutePayload struct {
	RunID  string   `json:"run_id"`
	Prompt string   `json:"prompt"`
	Models []string `json:"models"`
}
