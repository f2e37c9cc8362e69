package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditledger/internal/logging"
	"creditledger/internal/middleware"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/validator"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	req, err := decodeGrant(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.ledger.AddBonusCredits(r.Context(), req.UserID, req.Amount, req.Reason, actorID)
	if err != nil {
		h.log.Error("grant bonus", logging.UserID(req.UserID), logging.Amount(req.Amount), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to grant bonus")
		return
	}
	respondResult(w, result)
}

func (h *Handler) RefundCredits(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGrant(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.ledger.RefundCredits(r.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		h.log.Error("refund credits", logging.UserID(req.UserID), logging.Amount(req.Amount), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to refund credits")
		return
	}
	respondResult(w, result)
}

// Reconcile compares every stored balance with the sum of its history.
// ?user_id narrows the check to one account.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	checks, err := h.ledger.VerifyLedger(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to reconcile balances")
		return
	}
	drifted := 0
	for _, check := range checks {
		if check.Difference != 0 {
			drifted++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"accounts": len(checks),
		"drifted":  drifted,
		"checks":   checks,
	})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type promoteRequest struct {
	UserID string `json:"user_id"`
	Super  bool   `json:"super"`
}

// PromoteAdmin is mounted behind the super admin check.
func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || validator.ValidateUserID(req.UserID) != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	exists, err := h.users.Exists(r.Context(), req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to resolve user")
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	now := h.now().UTC()
	if err := h.admin.CreateAdmin(r.Context(), req.UserID, req.Super, now); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to promote admin")
		return
	}
	data, _ := json.Marshal(map[string]any{"target_user_id": req.UserID, "super": req.Super})
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.audit.Log(r.Context(), tx, actorID, "promote_admin", "admin", req.UserID, string(data), now)
	})
	if err != nil {
		h.log.Warn("audit promote_admin", logging.UserID(req.UserID), logging.Error(err))
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

func (h *Handler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := models.WebhookEventStatus(query.Get("status"))
	if status == "" {
		status = models.WebhookFailed
	}
	switch status {
	case models.WebhookReceived, models.WebhookProcessed, models.WebhookDropped, models.WebhookFailed:
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	events, err := h.events.ListByStatus(r.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load webhook events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handler) ReplayWebhook(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	outcome, err := h.webhooks.Replay(r.Context(), eventID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEventNotFound):
			respondError(w, http.StatusNotFound, "webhook event not found")
		case errors.Is(err, services.ErrMalformedPayload):
			respondError(w, http.StatusUnprocessableEntity, "stored payload is malformed")
		default:
			h.log.Error("replay webhook", logging.EventID(eventID), logging.Error(err))
			respondError(w, http.StatusInternalServerError, "unable to replay webhook")
		}
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}
