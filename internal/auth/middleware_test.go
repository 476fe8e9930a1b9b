package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// passHandler answers 200 "ok".
var passHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok")) //nolint:errcheck
})

func callWithKey(t *testing.T, h http.Handler, method, header, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/api/v1/conveyor/start", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPIKey_ModeNone_PassesThrough(t *testing.T) {
	h := APIKey("none", "x-api-key", "secret")(passHandler)
	// No key on the request; should still pass because mode != "apikey".
	if rr := callWithKey(t, h, http.MethodPost, "x-api-key", ""); rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rr.Code)
	}
}

func TestAPIKey_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured; allow all.
	h := APIKey("apikey", "x-api-key", "")(passHandler)
	if rr := callWithKey(t, h, http.MethodPost, "x-api-key", ""); rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rr.Code)
	}
}

func TestAPIKey_CorrectKey_Passes(t *testing.T) {
	h := APIKey("apikey", "x-api-key", "supersecret")(passHandler)
	rr := callWithKey(t, h, http.MethodPost, "x-api-key", "supersecret")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("got %d %q, want 200 ok", rr.Code, rr.Body.String())
	}
}

func TestAPIKey_WrongKey_Unauthorized(t *testing.T) {
	h := APIKey("apikey", "x-api-key", "supersecret")(passHandler)
	rr := callWithKey(t, h, http.MethodPost, "x-api-key", "wrong")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
}

func TestAPIKey_MissingKey_Unauthorized(t *testing.T) {
	h := APIKey("apikey", "x-api-key", "supersecret")(passHandler)
	if rr := callWithKey(t, h, http.MethodPost, "x-api-key", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rr.Code)
	}
}

func TestAPIKey_CustomHeader(t *testing.T) {
	h := APIKey("apikey", "x-sort-key", "k")(passHandler)
	if rr := callWithKey(t, h, http.MethodPost, "x-api-key", "k"); rr.Code != http.StatusUnauthorized {
		t.Errorf("default header accepted: got %d, want 401", rr.Code)
	}
	if rr := callWithKey(t, h, http.MethodPost, "x-sort-key", "k"); rr.Code != http.StatusOK {
		t.Errorf("custom header: got %d, want 200", rr.Code)
	}
}

func TestMutatingOnly_GetIsOpen(t *testing.T) {
	h := MutatingOnly(APIKey("apikey", "x-api-key", "k"))(passHandler)
	if rr := callWithKey(t, h, http.MethodGet, "x-api-key", ""); rr.Code != http.StatusOK {
		t.Errorf("GET: got %d, want 200", rr.Code)
	}
	if rr := callWithKey(t, h, http.MethodDelete, "x-api-key", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("DELETE: got %d, want 401", rr.Code)
	}
}
