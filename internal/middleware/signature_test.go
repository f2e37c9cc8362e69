package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerifySignatureValid(t *testing.T) {
	body := `{"id":"evt-1"}`
	handler := VerifySignature("whsec")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		if string(got) != body {
			t.Fatalf("body not restored: %s", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Creem-Signature", Sign("whsec", []byte(body)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestVerifySignatureInvalid(t *testing.T) {
	handler := VerifySignature("whsec")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called")
	}))
	for _, sig := range []string{"", "zz", Sign("other", []byte("{}"))} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
		if sig != "" {
			req.Header.Set("X-Webhook-Signature", sig)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %q, got %d", sig, rr.Code)
		}
	}
}

func TestVerifySignatureDisabled(t *testing.T) {
	var called bool
	handler := VerifySignature("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	if !called {
		t.Fatalf("expected handler to be called")
	}
}
