package handlers

import (
	"net/http"

	"github.com/jmalmrose/promptlab/internal/registry"
)

type ModelsHandler struct {
	registry *registry.Service
}

func NewModelsHandler(reg *registry.Service) *ModelsHandler {
	return &ModelsHandler{registry: reg}
}

// List returns the enabled providers and all presets for the model picker.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.registry.ListEnabled(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	presets, err := h.registry.ListPresets(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers, "presets": presets})
}
