package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmalmrose/promptlab/internal/auth"
	"github.com/jmalmrose/promptlab/internal/prompt"
	"github.com/jmalmrose/promptlab/internal/testrun"
)

type PromptHandler struct {
	svc  *prompt.Service
	runs *testrun.Service
}

func NewPromptHandler(svc *prompt.Service, runs *testrun.Service) *PromptHandler {
	return &PromptHandler{svc: svc, runs: runs}
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req prompt.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Content == "" {
		writeErr(w, http.StatusBadRequest, "title and content required")
		return
	}

	user := auth.UserFromContext(r.Context())
	p, v, err := h.svc.Create(r.Context(), user.ID, req)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"prompt": p, "version": v})
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	prompts, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": prompts, "count": len(prompts)})
}

func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	user := auth.UserFromContext(r.Context())
	p, versions, err := h.svc.GetByID(r.Context(), user.ID, id)
	if errors.Is(err, prompt.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"prompt": p, "versions": versions})
}

func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	user := auth.UserFromContext(r.Context())
	err = h.svc.Delete(r.Context(), user.ID, id)
	switch {
	case errors.Is(err, prompt.ErrNotFound):
		writeErr(w, http.StatusNotFound, "prompt not found")
	case errors.Is(err, prompt.ErrHasRuns):
		writeErr(w, http.StatusConflict, "prompt has recorded test runs")
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *PromptHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	var req prompt.NewVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeErr(w, http.StatusBadRequest, "content required")
		return
	}

	user := auth.UserFromContext(r.Context())
	v, err := h.svc.CreateVersion(r.Context(), user.ID, id, req)
	if errors.Is(err, prompt.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

func (h *PromptHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	user := auth.UserFromContext(r.Context())
	versions, err := h.svc.Versions(r.Context(), user.ID, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// Test kicks off a run against the selected models and acknowledges
// immediately; progress is observed through the test-run endpoints.
func (h *PromptHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	var req testrun.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := auth.UserFromContext(r.Context())
	runID, err := h.runs.Start(r.Context(), user.ID, id, req)
	switch {
	case errors.Is(err, testrun.ErrValidation):
		writeErr(w, http.StatusBadRequest, "version number and models are required")
	case errors.Is(err, testrun.ErrNotFound):
		writeErr(w, http.StatusNotFound, "prompt version not found")
	case err != nil:
		writeErr(w, http.StatusInternalServerError, "failed to start test")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"testRunId": runID.String()})
	}
}
