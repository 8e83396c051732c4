package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func signInitData(botToken string, values url.Values) string {
	pairs := ""
	keys := []string{"auth_date", "query_id", "user"}
	for i, k := range keys {
		if i > 0 {
			pairs += "\n"
		}
		pairs += k + "=" + values.Get(k)
	}

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(pairs))
	return hex.EncodeToString(mac.Sum(nil))
}

func identityProbe(t *testing.T) (http.Handler, *string) {
	t.Helper()

	var captured string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := GetTelegramIDFromContext(r.Context()); ok {
			captured = id
		}
		w.WriteHeader(http.StatusOK)
	})
	return h, &captured
}

func TestIdentityMiddlewarePassesHeaderID(t *testing.T) {
	probe, captured := identityProbe(t)
	m := NewIdentityMiddleware("")

	req := httptest.NewRequest(http.MethodGet, "/api/cart/orders", nil)
	req.Header.Set("X-Telegram-Id", "12345")

	w := httptest.NewRecorder()
	m.Middleware(probe).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *captured != "12345" {
		t.Fatalf("telegram id = %q, want 12345", *captured)
	}
}

func TestIdentityMiddlewareAllowsAnonymous(t *testing.T) {
	probe, captured := identityProbe(t)
	m := NewIdentityMiddleware("bot-token")

	req := httptest.NewRequest(http.MethodGet, "/api/cart/orders", nil)

	w := httptest.NewRecorder()
	m.Middleware(probe).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *captured != "" {
		t.Fatalf("unexpected telegram id %q for anonymous request", *captured)
	}
}

func TestIdentityMiddlewareVerifiesInitData(t *testing.T) {
	const botToken = "123456:test-token"

	values := url.Values{}
	values.Set("auth_date", "1700000000")
	values.Set("query_id", "AAE")
	values.Set("user", `{"id":12345}`)
	values.Set("hash", signInitData(botToken, values))

	probe, captured := identityProbe(t)
	m := NewIdentityMiddleware(botToken)

	req := httptest.NewRequest(http.MethodGet, "/api/cart/orders", nil)
	req.Header.Set("X-Telegram-Id", "12345")
	req.Header.Set("X-Telegram-Init-Data", values.Encode())

	w := httptest.NewRecorder()
	m.Middleware(probe).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *captured != "12345" {
		t.Fatalf("telegram id = %q, want 12345", *captured)
	}
}

func TestIdentityMiddlewareRejectsForgedInitData(t *testing.T) {
	values := url.Values{}
	values.Set("auth_date", "1700000000")
	values.Set("query_id", "AAE")
	values.Set("user", `{"id":12345}`)
	values.Set("hash", "deadbeef")

	probe, _ := identityProbe(t)
	m := NewIdentityMiddleware("123456:test-token")

	req := httptest.NewRequest(http.MethodGet, "/api/cart/orders", nil)
	req.Header.Set("X-Telegram-Id", "12345")
	req.Header.Set("X-Telegram-Init-Data", values.Encode())

	w := httptest.NewRecorder()
	m.Middleware(probe).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
}
