package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"creditledger/internal/validator"
)

var errReasonRequired = errors.New("reason is required")

type grantRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// decodeGrant reads an admin credit grant and validates every field.
func decodeGrant(body io.Reader) (grantRequest, error) {
	var req grantRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return grantRequest{}, err
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validator.ValidateUserID(req.UserID); err != nil {
		return grantRequest{}, err
	}
	if err := validator.ValidateAmount(req.Amount); err != nil {
		return grantRequest{}, err
	}
	if req.Reason == "" {
		return grantRequest{}, errReasonRequired
	}
	return req, nil
}
