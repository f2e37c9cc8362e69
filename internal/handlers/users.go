package handlers

import (
	"net/http"
	"net/url"

	"creditledger/internal/validator"

	"github.com/go-chi/chi/v5"
)

// GetUserByEmail resolves a user and returns their credit account when one
// exists.
func (h *Handler) GetUserByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || validator.ValidateEmail(email) != nil {
		respondError(w, http.StatusBadRequest, "invalid email")
		return
	}
	userID, err := h.users.GetIDByEmail(r.Context(), email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	if userID == "" {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	account, ok, err := h.ledger.GetAccount(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load credit account")
		return
	}
	payload := map[string]any{"id": userID, "email": email}
	if ok {
		payload["account"] = account
	}
	respondJSON(w, http.StatusOK, payload)
}
