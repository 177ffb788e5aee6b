package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmalmrose/promptlab/internal/auth"
	"github.com/jmalmrose/promptlab/internal/testrun"
)

type TestRunHandler struct {
	store    testrun.Store
	streamer *testrun.Streamer
}

func NewTestRunHandler(store testrun.Store, streamer *testrun.Streamer) *TestRunHandler {
	return &TestRunHandler{store: store, streamer: streamer}
}

func (h *TestRunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid test run ID")
		return
	}

	user := auth.UserFromContext(r.Context())
	run, err := h.store.RunForUser(r.Context(), id, user.ID)
	if errors.Is(err, testrun.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "test run not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"testRun": run})
}

// sseSink writes feed events as SSE data frames, flushing after each one.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(ev testrun.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Stream serves the run-progress feed. Ownership is checked up front with
// a plain 404 so unauthorized probes never see a stream at all.
func (h *TestRunHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid test run ID")
		return
	}

	user := auth.UserFromContext(r.Context())
	if _, err := h.store.RunForUser(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, testrun.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "test run not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Blocks until completion or client disconnect.
	_ = h.streamer.Stream(r.Context(), id, &sseSink{w: w, flusher: flusher})
}

type judgeRequest struct {
	ResultID string `json:"resultId"`
	Passed   *bool  `json:"passed"`
}

// Judge records the human pass/fail verdict on one result. Only the
// verdict changes; output and timing are immutable once written.
func (h *TestRunHandler) Judge(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid test run ID")
		return
	}

	var req judgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Passed == nil {
		writeErr(w, http.StatusBadRequest, "result ID and passed status are required")
		return
	}
	resultID, err := uuid.Parse(req.ResultID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid result ID")
		return
	}

	user := auth.UserFromContext(r.Context())
	result, err := h.store.JudgeResult(r.Context(), runID, resultID, user.ID, *req.Passed)
	if errors.Is(err, testrun.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "test result not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}
