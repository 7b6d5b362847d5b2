package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/webhook"
)

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, err := h.pulse.Webhooks().Create(r.Context(), in)
	if err != nil {
		var verr *webhook.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The secret is returned exactly once, on creation.
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": wh,
		"secret":  wh.SecretToken,
	})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	opts := webhook.ListOpts{
		AgencyID:   queryParam(r, "agency_id"),
		ActiveOnly: queryParam(r, "active") == "true",
	}
	webhooks, err := h.pulse.Webhooks().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	wh, getErr := h.pulse.Webhooks().Get(r.Context(), whID)
	if getErr != nil {
		if errors.Is(getErr, pulse.ErrWebhookNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, updateErr := h.pulse.Webhooks().Update(r.Context(), whID, in)
	if updateErr != nil {
		switch {
		case errors.Is(updateErr, pulse.ErrWebhookNotFound):
			writeError(w, http.StatusNotFound, "webhook not found")
		default:
			var verr *webhook.ValidationError
			if errors.As(updateErr, &verr) {
				writeError(w, http.StatusBadRequest, verr.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, updateErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	if deleteErr := h.pulse.Webhooks().Delete(r.Context(), whID); deleteErr != nil {
		if errors.Is(deleteErr, pulse.ErrWebhookNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	result, testErr := h.pulse.Deliveries().Test(r.Context(), whID)
	if testErr != nil {
		if errors.Is(testErr, pulse.ErrWebhookNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, testErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	secret, rotateErr := h.pulse.Webhooks().RotateSecret(r.Context(), whID)
	if rotateErr != nil {
		if errors.Is(rotateErr, pulse.ErrWebhookNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}
