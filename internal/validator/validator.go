package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidEmail      = errors.New("invalid email")
	ErrInvalidUserID     = errors.New("invalid user id")
	ErrInvalidFeatureTag = errors.New("invalid feature tag")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

var (
	emailRegex   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	userIDRegex  = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,128}$`)
	featureRegex = regexp.MustCompile(`^[a-z0-9_\-]{1,64}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateUserID accepts the opaque identifiers issued by the auth provider.
func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return ErrInvalidUserID
	}
	return nil
}

func ValidateFeatureTag(feature string) error {
	if !featureRegex.MatchString(feature) {
		return ErrInvalidFeatureTag
	}
	return nil
}

func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
