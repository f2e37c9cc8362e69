package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"creditledger/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondResult writes a ledger result. Business rejections keep the result
// body so callers see code, required and available.
func respondResult(w http.ResponseWriter, result services.OperationResult) {
	if result.Success {
		respondJSON(w, http.StatusOK, result)
		return
	}
	respondJSON(w, statusForReason(result.Reason), result)
}

func statusForReason(reason error) int {
	switch {
	case errors.Is(reason, services.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(reason, services.ErrAccountNotInitialized),
		errors.Is(reason, services.ErrPackageNotFound):
		return http.StatusNotFound
	case errors.Is(reason, services.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(reason, services.ErrPlanConfigurationMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(reason, services.ErrInvalidAmount),
		errors.Is(reason, services.ErrInvalidTransactionType):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// parseDate accepts RFC 3339 timestamps or bare dates in UTC.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}
