package api

import (
	"net/http"

	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
)

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	opts := delivery.StatsOpts{
		AgencyID: queryParam(r, "agency_id"),
	}
	if v := queryParam(r, "webhook_id"); v != "" {
		whID, err := id.ParseWebhookID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook ID")
			return
		}
		opts.WebhookID = whID
	}

	stats, err := h.pulse.Deliveries().GetStats(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
