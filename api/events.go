package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/routing"
)

type triggerEventRequest struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	AgencyID string         `json:"agency_id,omitempty"`
}

func (h *Handler) processEvent(w http.ResponseWriter, r *http.Request) {
	var evt routing.Event
	if err := decodeJSON(r, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if evt.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	results, err := h.pulse.ProcessEvent(r.Context(), evt)
	if err != nil {
		if errors.Is(err, pulse.ErrPayloadValidationFailed) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matches": len(results),
		"results": results,
	})
}

func (h *Handler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	if err := h.pulse.TriggerEvent(r.Context(), req.Type, req.Data, req.AgencyID); err != nil {
		if errors.Is(err, pulse.ErrPayloadValidationFailed) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Deliveries are asynchronous; accepted means queued, not delivered.
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := delivery.ListOpts{
		EventType: queryParam(r, "event_type"),
		Limit:     queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := delivery.Status(s)
		opts.Status = &status
	}

	events, err := h.pulse.Deliveries().ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) listWebhookEvents(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	opts := delivery.ListOpts{
		WebhookID: whID,
		EventType: queryParam(r, "event_type"),
		Limit:     queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := delivery.Status(s)
		opts.Status = &status
	}

	events, listErr := h.pulse.Deliveries().ListEvents(r.Context(), opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseWebhookEventID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook event ID")
		return
	}

	evt, getErr := h.pulse.Store().GetWebhookEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, pulse.ErrWebhookEventNotFound) {
			writeError(w, http.StatusNotFound, "webhook event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) retryEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseWebhookEventID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook event ID")
		return
	}

	if retryErr := h.pulse.Deliveries().RetryEvent(r.Context(), evtID); retryErr != nil {
		if errors.Is(retryErr, pulse.ErrWebhookEventNotFound) {
			writeError(w, http.StatusNotFound, "webhook event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, retryErr.Error())
		return
	}

	evt, getErr := h.pulse.Store().GetWebhookEvent(r.Context(), evtID)
	if getErr != nil {
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, evt)
}
