package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmalmrose/promptlab/internal/auth"
	"github.com/jmalmrose/promptlab/internal/models"
	"github.com/jmalmrose/promptlab/internal/testrun"
)

// judgeStore holds one result owned by ownerID. JudgeResult mirrors the
// SQL contract: the verdict is the only mutable field.
type judgeStore struct {
	ownerID uuid.UUID
	runID   uuid.UUID
	result  models.TestResult
}

func (s *judgeStore) VersionForUser(ctx context.Context, promptID uuid.UUID, version int, userID uuid.UUID) (*models.PromptVersion, error) {
	return nil, testrun.ErrNotFound
}

func (s *judgeStore) CreateRun(ctx context.Context, versionID uuid.UUID, vars map[string]string, modelNames []string) (*models.TestRun, error) {
	return nil, testrun.ErrNotFound
}

func (s *judgeStore) Run(ctx context.Context, runID uuid.UUID) (*models.TestRun, error) {
	return nil, testrun.ErrNotFound
}

func (s *judgeStore) RunForUser(ctx context.Context, runID, userID uuid.UUID) (*models.TestRun, error) {
	return nil, testrun.ErrNotFound
}

func (s *judgeStore) CompleteResult(ctx context.Context, runID uuid.UUID, model, output string, responseTimeMs int, totalTokens *int, costUSD *float64) error {
	return nil
}

func (s *judgeStore) JudgeResult(ctx context.Context, runID, resultID, userID uuid.UUID, passed bool) (*models.TestResult, error) {
	if runID != s.runID || resultID != s.result.ID || userID != s.ownerID {
		return nil, testrun.ErrNotFound
	}
	s.result.Passed = &passed
	out := s.result
	return &out, nil
}

func judgeRouter(store testrun.Store, user *models.User) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithUser(req.Context(), user)))
		})
	})
	r.Put("/test-runs/{id}/results", NewTestRunHandler(store, nil).Judge)
	return r
}

func judge(t *testing.T, h http.Handler, runID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/test-runs/"+runID.String()+"/results", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJudgeOverwritesOnlyTheVerdict(t *testing.T) {
	owner := &models.User{ID: uuid.New()}
	runID := uuid.New()
	tokens := 42
	store := &judgeStore{
		ownerID: owner.ID,
		runID:   runID,
		result: models.TestResult{
			ID:             uuid.New(),
			TestRunID:      runID,
			Model:          "gpt-4",
			Output:         "the original answer",
			ResponseTimeMs: 830,
			TotalTokens:    &tokens,
		},
	}
	h := judgeRouter(store, owner)

	body := fmt.Sprintf(`{"resultId":%q,"passed":true}`, store.result.ID)
	rec := judge(t, h, runID, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result models.TestResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result.Passed)
	assert.True(t, *resp.Result.Passed)
	assert.Equal(t, "the original answer", resp.Result.Output)
	assert.Equal(t, 830, resp.Result.ResponseTimeMs)

	// Re-judging flips the verdict and nothing else.
	body = fmt.Sprintf(`{"resultId":%q,"passed":false}`, store.result.ID)
	rec = judge(t, h, runID, body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result.Passed)
	assert.False(t, *resp.Result.Passed)
	assert.Equal(t, "the original answer", resp.Result.Output)
	assert.Equal(t, 830, resp.Result.ResponseTimeMs)
}

func TestJudgeRequiresVerdict(t *testing.T) {
	owner := &models.User{ID: uuid.New()}
	runID := uuid.New()
	store := &judgeStore{ownerID: owner.ID, runID: runID, result: models.TestResult{ID: uuid.New(), TestRunID: runID}}
	h := judgeRouter(store, owner)

	rec := judge(t, h, runID, fmt.Sprintf(`{"resultId":%q}`, store.result.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJudgeHidesOtherUsersResults(t *testing.T) {
	owner := &models.User{ID: uuid.New()}
	runID := uuid.New()
	store := &judgeStore{ownerID: uuid.New(), runID: runID, result: models.TestResult{ID: uuid.New(), TestRunID: runID}}
	h := judgeRouter(store, owner)

	rec := judge(t, h, runID, fmt.Sprintf(`{"resultId":%q,"passed":true}`, store.result.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
