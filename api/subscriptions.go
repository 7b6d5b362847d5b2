package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/subscription"
)

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var in subscription.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.pulse.Subscriptions().Create(r.Context(), in)
	if err != nil {
		var verr *subscription.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := queryParam(r, "user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, h.pulse.Subscriptions().ForUser(r.Context(), userID))
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.pulse.Subscriptions().Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, pulse.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var in subscription.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, updateErr := h.pulse.Subscriptions().Update(r.Context(), subID, in)
	if updateErr != nil {
		if errors.Is(updateErr, pulse.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.pulse.Subscriptions().Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, pulse.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var in subscription.RuleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.pulse.Subscriptions().CreateRule(r.Context(), in)
	if err != nil {
		var verr *subscription.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pulse.Subscriptions().RulesInScope(r.Context(), queryParam(r, "agency_id")))
}
