package handlers

import (
	"errors"
	"io"
	"net/http"

	"creditledger/internal/logging"
	"creditledger/internal/services"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook hands a signed provider event to the reconciler. Malformed
// payloads answer 400 and events the log could not record answer 500.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	outcome, err := h.webhooks.HandleWebhook(r.Context(), body)
	if err != nil {
		if errors.Is(err, services.ErrMalformedPayload) {
			respondError(w, http.StatusBadRequest, "malformed payload")
			return
		}
		h.log.Error("record webhook", logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to record webhook")
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (h *Handler) ResetCredits(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reset.Run(r.Context())
	if err != nil {
		h.log.Error("reset credits", logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to reset credits")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
