package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmalmrose/promptlab/internal/registry"
)

// AdminHandler manages provider configs and model presets. Routes using it
// sit behind the admin role gate.
type AdminHandler struct {
	registry *registry.Service
}

func NewAdminHandler(reg *registry.Service) *AdminHandler {
	return &AdminHandler{registry: reg}
}

func (h *AdminHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.registry.ListProviders(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

func (h *AdminHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req registry.ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.DisplayName == "" || req.Kind == "" {
		writeErr(w, http.StatusBadRequest, "name, display name, and kind are required")
		return
	}

	p, err := h.registry.CreateProvider(r.Context(), req)
	if errors.Is(err, registry.ErrDuplicateName) {
		writeErr(w, http.StatusConflict, "model with this name already exists")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"provider": p})
}

func (h *AdminHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid provider ID")
		return
	}

	var req registry.ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.DisplayName == "" || req.Kind == "" {
		writeErr(w, http.StatusBadRequest, "name, display name, and kind are required")
		return
	}

	p, err := h.registry.UpdateProvider(r.Context(), id, req)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeErr(w, http.StatusNotFound, "provider not found")
	case errors.Is(err, registry.ErrDuplicateName):
		writeErr(w, http.StatusConflict, "model with this name already exists")
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"provider": p})
	}
}

func (h *AdminHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid provider ID")
		return
	}

	err = h.registry.DeleteProvider(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.registry.ListPresets(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"presets": presets})
}

func (h *AdminHandler) CreatePreset(w http.ResponseWriter, r *http.Request) {
	var req registry.PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.DisplayName == "" || req.Models == nil {
		writeErr(w, http.StatusBadRequest, "name, display name, and models array are required")
		return
	}

	p, err := h.registry.CreatePreset(r.Context(), req)
	if errors.Is(err, registry.ErrDuplicateName) {
		writeErr(w, http.StatusConflict, "preset with this name already exists")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"preset": p})
}

func (h *AdminHandler) DeletePreset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid preset ID")
		return
	}

	err = h.registry.DeletePreset(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "preset not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
