package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"creditledger/internal/logging"
	"creditledger/internal/middleware"
	"creditledger/internal/services"
	"creditledger/internal/validator"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
)

const defaultReportWindow = 30 * 24 * time.Hour

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.log.Error("load balance", logging.UserID(userID), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
		"variant": h.ledger.Variant(),
	})
}

type checkRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) CheckCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateAmount(req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sufficient, err := h.ledger.CheckCredits(r.Context(), userID, req.Amount)
	if err != nil {
		h.log.Error("check credits", logging.UserID(userID), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to check credits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sufficient": sufficient,
		"required":   req.Amount,
	})
}

type deductRequest struct {
	Amount   int64          `json:"amount"`
	Feature  string         `json:"feature"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) DeductCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateAmount(req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateFeatureTag(req.Feature); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.ledger.DeductCredits(r.Context(), userID, req.Amount, req.Feature, req.Metadata)
	if err != nil {
		h.log.Error("deduct credits", logging.UserID(userID), logging.Amount(req.Amount), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to deduct credits")
		return
	}
	respondResult(w, result)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	page, err := h.ledger.GetTransactionHistory(r.Context(), userID,
		parseInt(query.Get("page"), 1), parseInt(query.Get("limit"), 20))
	if err != nil {
		h.log.Error("load transactions", logging.UserID(userID), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) MonthlyUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	usage, err := h.ledger.GetMonthlyUsage(r.Context(), userID)
	if err != nil {
		h.log.Error("load usage", logging.UserID(userID), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to load usage")
		return
	}
	respondJSON(w, http.StatusOK, usage)
}

func (h *Handler) UsageReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	end := h.now().UTC()
	start := end.Add(-defaultReportWindow)
	if raw := query.Get("start"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid start date")
			return
		}
		start = parsed
	}
	if raw := query.Get("end"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid end date")
			return
		}
		end = parsed
	}
	report, err := h.ledger.GenerateUsageReport(r.Context(), userID, start, end)
	if err != nil {
		if errors.Is(err, services.ErrInvalidDateRange) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("usage report", logging.UserID(userID), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to build report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.GetCreditPackages(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load packages")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

type purchaseRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (h *Handler) PurchasePackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.PaymentIntentID) == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	packageID := chi.URLParam(r, "id")
	result, err := h.ledger.PurchaseCreditPackage(r.Context(), userID, packageID, req.PaymentIntentID)
	if err != nil {
		h.log.Error("purchase package", logging.UserID(userID), logging.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to purchase package")
		return
	}
	respondResult(w, result)
}

func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	checks, err := h.ledger.VerifyLedger(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to verify balance")
		return
	}
	if len(checks) == 0 {
		respondError(w, http.StatusNotFound, "credit account not found")
		return
	}
	check := checks[0]
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":            check.UserID,
		"stored_balance":     check.StoredBalance,
		"calculated_balance": check.CalculatedBalance,
		"difference":         check.Difference,
		"consistent":         check.Difference == 0,
	})
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	websocket.ServeWS(w, r, h.upgrader, h.hub, userID)
}
