package yookassa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreatePayment(t *testing.T) {
	var gotBody paymentBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/payments" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop-1" || pass != "secret-1" {
			t.Fatalf("basic auth not set correctly: %q %q", user, pass)
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Fatalf("Idempotence-Key header missing")
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "yk-123",
			"status": "pending",
			"confirmation": map[string]any{
				"type":             "redirect",
				"confirmation_url": "https://yookassa.ru/pay/yk-123",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	resp, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		ShopID:      "shop-1",
		SecretKey:   "secret-1",
		Amount:      799,
		Description: "Оплата заказа ORD-1",
		ReturnURL:   "https://app.example/return",
		Metadata:    map[string]any{"orderId": int64(1)},
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}

	if resp.PaymentID != "yk-123" {
		t.Fatalf("PaymentID = %q, want yk-123", resp.PaymentID)
	}
	if resp.Status != "pending" {
		t.Fatalf("Status = %q, want pending", resp.Status)
	}
	if resp.ConfirmationURL != "https://yookassa.ru/pay/yk-123" {
		t.Fatalf("ConfirmationURL = %q", resp.ConfirmationURL)
	}

	if gotBody.Amount.Value != "799.00" || gotBody.Amount.Currency != "RUB" {
		t.Fatalf("unexpected amount: %+v", gotBody.Amount)
	}
	if !gotBody.Capture {
		t.Fatalf("capture must be true")
	}
	if gotBody.Confirmation.Type != "redirect" || gotBody.Confirmation.ReturnURL != "https://app.example/return" {
		t.Fatalf("unexpected confirmation: %+v", gotBody.Confirmation)
	}
}

func TestCreatePaymentMissingCredentials(t *testing.T) {
	c := NewClient("http://yookassa.invalid")

	_, err := c.CreatePayment(context.Background(), CreatePaymentRequest{Amount: 100})
	if err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestCreatePaymentProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"description": "Invalid credentials"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	_, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		ShopID:    "shop-1",
		SecretKey: "bad",
		Amount:    100,
	})
	if err == nil {
		t.Fatalf("expected provider error")
	}
}
