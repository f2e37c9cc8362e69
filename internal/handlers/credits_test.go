package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"creditledger/internal/services"
	"creditledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditsRequireAuth(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{})
	rr := serve(t, h, http.MethodGet, "/credits/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetBalance(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		getBalanceFn: func(_ context.Context, userID string) (int64, error) {
			assert.Equal(t, "user-1", userID)
			return 42, nil
		},
	}})
	rr := serve(t, h, http.MethodGet, "/credits/balance", "", "user-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(42), body["balance"])
	assert.Equal(t, "v2", body["variant"])
}

func TestCheckCredits(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		checkFn: func(_ context.Context, _ string, amount int64) (bool, error) { return amount <= 10, nil },
	}})
	rr := serve(t, h, http.MethodPost, "/credits/check", `{"amount":5}`, "user-1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"sufficient":true,"required":5}`, rr.Body.String())

	rr = serve(t, h, http.MethodPost, "/credits/check", `{"amount":0}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeductCreditsValidation(t *testing.T) {
	called := false
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		deductFn: func(context.Context, string, int64, string, map[string]any) (services.OperationResult, error) {
			called = true
			return services.OperationResult{Success: true}, nil
		},
	}})
	cases := []string{
		`{"amount":-1,"feature":"watermark_removal"}`,
		`{"amount":5,"feature":"Bad Feature"}`,
		`not json`,
	}
	for _, body := range cases {
		rr := serve(t, h, http.MethodPost, "/credits/deduct", body, "user-1")
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	assert.False(t, called)
}

func TestDeductCreditsSuccess(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		deductFn: func(_ context.Context, userID string, amount int64, feature string, metadata map[string]any) (services.OperationResult, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, int64(5), amount)
			assert.Equal(t, "watermark_removal", feature)
			assert.Equal(t, "img-9", metadata["image_id"])
			return services.OperationResult{Success: true, NewBalance: 95, TransactionID: "tx-1"}, nil
		},
	}})
	rr := serve(t, h, http.MethodPost, "/credits/deduct",
		`{"amount":5,"feature":"watermark_removal","metadata":{"image_id":"img-9"}}`, "user-1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"new_balance":95,"transaction_id":"tx-1"}`, rr.Body.String())
}

func TestDeductCreditsInsufficient(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		deductFn: func(context.Context, string, int64, string, map[string]any) (services.OperationResult, error) {
			return services.OperationResult{
				NewBalance: 3, Error: "Insufficient credits. Required: 5, Available: 3",
				Code: "insufficient_credits", Required: 5, Available: 3, Reason: services.ErrInsufficientCredits,
			}, nil
		},
	}})
	rr := serve(t, h, http.MethodPost, "/credits/deduct", `{"amount":5,"feature":"watermark_removal"}`, "user-1")
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "insufficient_credits", body["code"])
	assert.Equal(t, float64(3), body["available"])
}

func TestDeductCreditsInfraError(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		deductFn: func(context.Context, string, int64, string, map[string]any) (services.OperationResult, error) {
			return services.OperationResult{}, services.ErrCreditOperationFailed
		},
	}})
	rr := serve(t, h, http.MethodPost, "/credits/deduct", `{"amount":5,"feature":"watermark_removal"}`, "user-1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestListTransactionsPaging(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		historyFn: func(_ context.Context, _ string, page, limit int) (services.TransactionPage, error) {
			return services.TransactionPage{Page: page, Limit: limit, Total: 7}, nil
		},
	}})
	rr := serve(t, h, http.MethodGet, "/credits/transactions?page=2&limit=5", "", "user-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var page services.TransactionPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 5, page.Limit)

	rr = serve(t, h, http.MethodGet, "/credits/transactions?page=x", "", "user-1")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
}

func TestUsageReportDates(t *testing.T) {
	var gotStart, gotEnd time.Time
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		reportFn: func(_ context.Context, _ string, start, end time.Time) (services.UsageReport, error) {
			gotStart, gotEnd = start, end
			if !end.After(start) {
				return services.UsageReport{}, services.ErrInvalidDateRange
			}
			return services.UsageReport{Start: start, End: end}, nil
		},
	}})

	rr := serve(t, h, http.MethodGet, "/credits/report", "", "user-1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), gotEnd)
	assert.Equal(t, gotEnd.Add(-defaultReportWindow), gotStart)

	rr = serve(t, h, http.MethodGet, "/credits/report?start=2025-02-01&end=2025-03-01", "", "user-1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), gotStart)

	rr = serve(t, h, http.MethodGet, "/credits/report?start=2025-03-01&end=2025-02-01", "", "user-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, h, http.MethodGet, "/credits/report?start=yesterday", "", "user-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPurchasePackage(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		purchaseFn: func(_ context.Context, _ string, packageID, intent string) (services.OperationResult, error) {
			assert.Equal(t, "pi_1", intent)
			switch packageID {
			case "popular":
				return services.OperationResult{Success: true, NewBalance: 150}, nil
			case "subscription":
				return services.OperationResult{Code: "not_supported", Reason: services.ErrNotSupported}, nil
			default:
				return services.OperationResult{Code: "package_not_found", Reason: services.ErrPackageNotFound}, nil
			}
		},
	}})
	rr := serve(t, h, http.MethodPost, "/credits/packages/popular/purchase", `{"payment_intent_id":"pi_1"}`, "user-1")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, h, http.MethodPost, "/credits/packages/mega/purchase", `{"payment_intent_id":"pi_1"}`, "user-1")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(t, h, http.MethodPost, "/credits/packages/subscription/purchase", `{"payment_intent_id":"pi_1"}`, "user-1")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	rr = serve(t, h, http.MethodPost, "/credits/packages/popular/purchase", `{"payment_intent_id":" "}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSelfCheck(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{Ledger: stubLedger{
		verifyLedgerFn: func(_ context.Context, userID string) ([]store.BalanceCheck, error) {
			if userID == "user-1" {
				return []store.BalanceCheck{{UserID: userID, StoredBalance: 10, CalculatedBalance: 10}}, nil
			}
			return nil, nil
		},
	}})
	rr := serve(t, h, http.MethodGet, "/credits/self-check", "", "user-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["consistent"])

	rr = serve(t, h, http.MethodGet, "/credits/self-check", "", "user-2")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusForReason(t *testing.T) {
	cases := map[error]int{
		services.ErrInsufficientCredits:      http.StatusPaymentRequired,
		services.ErrAccountNotInitialized:    http.StatusNotFound,
		services.ErrNotSupported:             http.StatusNotImplemented,
		services.ErrPlanConfigurationMissing: http.StatusUnprocessableEntity,
		services.ErrInvalidTransactionType:   http.StatusBadRequest,
	}
	for reason, status := range cases {
		assert.Equal(t, status, statusForReason(reason), reason.Error())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHandler(testConfig(), Deps{})
	rr := serve(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","variant":"v2"}`, rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
