package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

const maxWebhookBody = 1 << 20

// SignatureHeaders are checked in order for the hex HMAC-SHA256 of the body.
var SignatureHeaders = []string{"X-Webhook-Signature", "Creem-Signature", "X-Signature"}

// VerifySignature rejects webhook requests whose body HMAC does not match.
// An empty secret disables the check. The body is restored for the next handler.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, "unable to read body", http.StatusBadRequest)
				return
			}
			if !validSignature(secret, body, signatureFromRequest(r)) {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureFromRequest(r *http.Request) string {
	for _, name := range SignatureHeaders {
		if v := r.Header.Get(name); v != "" {
			return strings.TrimPrefix(strings.TrimSpace(v), "sha256=")
		}
	}
	return ""
}

func validSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
