// Package yookassa предоставляет клиент для API ЮKassa.
package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client инкапсулирует HTTP-взаимодействие с API ЮKassa.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент ЮKassa для указанного базового адреса API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreatePaymentRequest описывает параметры создания платежа.
type CreatePaymentRequest struct {
	ShopID      string
	SecretKey   string
	Amount      float64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]any
}

// CreatePaymentResponse описывает ответ ЮKassa на создание платежа.
type CreatePaymentResponse struct {
	PaymentID       string
	Status          string
	ConfirmationURL string
}

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationBody struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentBody struct {
	Amount       amountBody       `json:"amount"`
	Capture      bool             `json:"capture"`
	Confirmation confirmationBody `json:"confirmation"`
	Description  string           `json:"description,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Confirmation confirmationBody `json:"confirmation"`
	Description  string           `json:"description"`
}

// CreatePayment создаёт платёж с подтверждением через redirect и возвращает
// ссылку на страницу оплаты.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if req.ShopID == "" || req.SecretKey == "" {
		return nil, fmt.Errorf("yookassa: не заданы shop_id/secret_key")
	}

	currency := req.Currency
	if currency == "" {
		currency = "RUB"
	}

	body := paymentBody{
		Amount: amountBody{
			Value:    fmt.Sprintf("%.2f", req.Amount),
			Currency: currency,
		},
		Capture: true,
		Confirmation: confirmationBody{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Description: req.Description,
		Metadata:    req.Metadata,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v3/payments", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())
	httpReq.SetBasicAuth(req.ShopID, req.SecretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Description string `json:"description"`
		}
		message := http.StatusText(resp.StatusCode)
		if jsonErr := json.Unmarshal(data, &errBody); jsonErr == nil && errBody.Description != "" {
			message = errBody.Description
		}
		return nil, fmt.Errorf("yookassa: статус %d: %s", resp.StatusCode, message)
	}

	var parsed paymentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("yookassa: в ответе нет id платежа")
	}

	return &CreatePaymentResponse{
		PaymentID:       parsed.ID,
		Status:          parsed.Status,
		ConfirmationURL: parsed.Confirmation.ConfirmationURL,
	}, nil
}
