package services

import "errors"

// Business outcomes. These travel in OperationResult.Reason and are never
// returned as the error value of a ledger call.
var (
	ErrAccountNotInitialized    = errors.New("credit account not initialized")
	ErrInsufficientCredits      = errors.New("insufficient credits")
	ErrPlanConfigurationMissing = errors.New("plan configuration missing")
	ErrNotSupported             = errors.New("operation not supported by ledger variant")
	ErrPackageNotFound          = errors.New("credit package not found")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrInvalidTransactionType   = errors.New("invalid transaction type for credit grant")
	errAlreadyReset             = errors.New("account already reset this cycle")
)

var (
	// ErrCreditOperationFailed wraps every store or transaction fault.
	ErrCreditOperationFailed = errors.New("credit operation failed")
	ErrInvalidDateRange      = errors.New("end date must be after start date")
	ErrUserResolution        = errors.New("unable to resolve user for payment event")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrEventNotFound         = errors.New("webhook event not found")
	errLedgerDrift           = errors.New("ledger entries do not match balance change")
)
