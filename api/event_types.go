package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsekit/pulse"
)

type registerEventTypeRequest struct {
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

func (h *Handler) createEventType(w http.ResponseWriter, r *http.Request) {
	var req registerEventTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	et, err := h.pulse.Catalog().Register(r.Context(), req.Name, req.Category, req.Description, req.Schema)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, et)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.pulse.Catalog().List(r.Context(), queryParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	et, err := h.pulse.Catalog().Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, pulse.ErrEventTypeNotFound) {
			writeError(w, http.StatusNotFound, "event type not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, et)
}
