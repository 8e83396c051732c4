// Package iiko предоставляет клиент для iiko Cloud API.
package iiko

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mariko-app/cart-system/internal/model"
	"github.com/mariko-app/cart-system/internal/validation"
)

// Options настраивают поведение клиента iiko.
type Options struct {
	BaseURL string
	// Timeout ограничивает длительность одного HTTP-запроса к iiko.
	Timeout time.Duration
	// TokenTTL используется, если провайдер не сообщил срок жизни токена.
	TokenTTL time.Duration
	// Tokens — хранилище access-токенов. По умолчанию хранилище в памяти.
	Tokens TokenStore
	// Now — источник времени, подменяется в тестах.
	Now func() time.Time
}

// Client инкапсулирует HTTP-взаимодействие с iiko Cloud API.
type Client struct {
	baseURL    string
	tokenTTL   time.Duration
	tokens     TokenStore
	now        func() time.Time
	httpClient *http.Client
}

// Result описывает исход отправки заказа в iiko. Неуспех — это данные,
// а не ошибка: вызывающий код логирует и продолжает работу.
type Result struct {
	Success bool
	OrderID string
	Status  string
	Error   string
}

// NewClient создаёт клиент iiko Cloud API.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 10 * time.Minute
	}
	if opts.Tokens == nil {
		opts.Tokens = NewMemoryTokenStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		tokenTTL: opts.TokenTTL,
		tokens:   opts.Tokens,
		now:      opts.Now,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("iiko: статус %d: %s", e.status, e.message)
}

func (c *Client) requestJSON(ctx context.Context, url, token string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := http.StatusText(resp.StatusCode)
		var errBody struct {
			Message string `json:"message"`
			Error   struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(data, &errBody); jsonErr == nil {
			if errBody.Message != "" {
				message = errBody.Message
			} else if errBody.Error.Message != "" {
				message = errBody.Error.Message
			}
		}
		return &apiError{status: resp.StatusCode, message: message}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("некорректный ответ JSON: %w", err)
		}
	}

	return nil
}

func (c *Client) fetchAccessToken(ctx context.Context, apiLogin string) (Token, error) {
	var resp struct {
		Token         string          `json:"token"`
		TokenLifetime json.RawMessage `json:"token_lifetime"`
	}

	err := c.requestJSON(ctx, c.baseURL+"/api/1/access_token", "",
		map[string]string{"apiLogin": apiLogin}, &resp)
	if err != nil {
		return Token{}, err
	}
	if resp.Token == "" {
		return Token{}, fmt.Errorf("iiko: не удалось получить access token")
	}

	ttl := c.tokenTTL
	if seconds, ok := parseLifetime(resp.TokenLifetime); ok {
		ttl = time.Duration(seconds) * time.Second
	}

	return Token{Value: resp.Token, ExpiresAt: c.now().Add(ttl)}, nil
}

// parseLifetime разбирает token_lifetime, который провайдер присылает
// то числом, то строкой.
func parseLifetime(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n = 0
		for _, ch := range s {
			if ch < '0' || ch > '9' {
				return 0, false
			}
			n = n*10 + int64(ch-'0')
		}
		if n > 0 {
			return n, true
		}
	}
	return 0, false
}

func (c *Client) ensureAccessToken(ctx context.Context, apiLogin string, force bool) (string, error) {
	if !force {
		if cached, ok := c.tokens.Get(apiLogin); ok && cached.ExpiresAt.After(c.now().Add(expiryMargin)) {
			return cached.Value, nil
		}
	}

	fresh, err := c.fetchAccessToken(ctx, apiLogin)
	if err != nil {
		return "", err
	}
	c.tokens.Set(apiLogin, fresh)
	return fresh.Value, nil
}

// CreateOrder отправляет заказ в iiko через deliveries/create.
// Любой сбой возвращается внутри Result, ошибок наружу метод не отдаёт.
func (c *Client) CreateOrder(ctx context.Context, cfg *model.IntegrationConfig, order *model.Order) Result {
	if cfg == nil || cfg.OrganizationID == "" || cfg.TerminalGroupID == "" {
		return Result{Error: "iiko: не заполнены organization/terminal IDs"}
	}
	if cfg.APILogin == "" {
		return Result{Error: "iiko: не указан api_login"}
	}

	token, err := c.ensureAccessToken(ctx, cfg.APILogin, false)
	if err != nil {
		return Result{Error: err.Error()}
	}

	payload := buildDeliveryPayload(cfg, order)

	var resp createOrderResponse
	err = c.requestJSON(ctx, c.baseURL+"/api/1/deliveries/create", token, payload, &resp)

	// Токен мог быть отозван провайдером раньше заявленного срока жизни:
	// одна повторная попытка с принудительным обновлением.
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusUnauthorized {
		token, tokenErr := c.ensureAccessToken(ctx, cfg.APILogin, true)
		if tokenErr != nil {
			return Result{Error: tokenErr.Error()}
		}
		err = c.requestJSON(ctx, c.baseURL+"/api/1/deliveries/create", token, payload, &resp)
	}

	if err != nil {
		return Result{Error: err.Error()}
	}

	orderID := resp.OrderInfo.ID
	if orderID == "" {
		orderID = resp.ID
	}
	status := resp.OrderInfo.State
	if status == "" {
		status = resp.OrderInfo.Status
	}

	return Result{Success: true, OrderID: orderID, Status: status}
}

type createOrderResponse struct {
	ID        string `json:"id"`
	OrderInfo struct {
		ID     string `json:"id"`
		State  string `json:"state"`
		Status string `json:"status"`
	} `json:"orderInfo"`
}

type orderItemPayload struct {
	ProductID string  `json:"productId"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Comment   string  `json:"comment,omitempty"`
}

type paymentPayload struct {
	PaymentTypeID         string  `json:"paymentTypeId"`
	Sum                   float64 `json:"sum"`
	IsProcessedExternally bool    `json:"isProcessedExternally"`
}

type deliveryPointPayload struct {
	Address struct {
		Street struct {
			Name string `json:"name"`
		} `json:"street"`
		House string `json:"house"`
	} `json:"address"`
	Comment    string `json:"comment,omitempty"`
	TerminalID string `json:"terminalId,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type orderPayload struct {
	OrderServiceType string                `json:"orderServiceType"`
	SourceKey        string                `json:"sourceKey,omitempty"`
	Phone            string                `json:"phone"`
	Customer         customerPayload       `json:"customer"`
	Comment          string                `json:"comment,omitempty"`
	Items            []orderItemPayload    `json:"items"`
	Payments         []paymentPayload      `json:"payments,omitempty"`
	DeliveryPoint    *deliveryPointPayload `json:"deliveryPoint,omitempty"`
}

type createOrderPayload struct {
	OrganizationID      string `json:"organizationId"`
	TerminalGroupID     string `json:"terminalGroupId"`
	CreateOrderSettings struct {
		TransportToFrontTimeout int `json:"transportToFrontTimeout"`
	} `json:"createOrderSettings"`
	Order orderPayload `json:"order"`
}

func buildDeliveryPayload(cfg *model.IntegrationConfig, order *model.Order) createOrderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		productID := item.IikoProductID
		if productID == "" {
			productID = item.ProductID
		}
		amount := item.Amount
		if amount <= 0 {
			amount = 1
		}
		items = append(items, orderItemPayload{
			ProductID: productID,
			Type:      "Product",
			Amount:    amount,
			Price:     item.Price,
			Comment:   item.Name,
		})
	}

	phone := validation.NormalizePhone(order.CustomerPhone)

	customerName := order.CustomerName
	if customerName == "" {
		customerName = "Гость"
	}

	var payments []paymentPayload
	if cfg.DefaultPaymentType != "" && order.Total > 0 {
		payments = []paymentPayload{{
			PaymentTypeID:         cfg.DefaultPaymentType,
			Sum:                   order.Total,
			IsProcessedExternally: true,
		}}
	}

	isDelivery := order.OrderType == model.OrderTypeDelivery
	serviceType := "DeliveryByClient" // самовывоз
	if isDelivery {
		serviceType = "DeliveryByCourier"
	}

	p := createOrderPayload{
		OrganizationID:  cfg.OrganizationID,
		TerminalGroupID: cfg.TerminalGroupID,
	}
	p.CreateOrderSettings.TransportToFrontTimeout = 40
	p.Order = orderPayload{
		OrderServiceType: serviceType,
		SourceKey:        cfg.SourceKey,
		Phone:            phone,
		Customer:         customerPayload{Name: customerName, Phone: phone},
		Items:            items,
		Payments:         payments,
	}
	if order.Comment != nil {
		p.Order.Comment = *order.Comment
	}

	if isDelivery && order.DeliveryAddress != nil && *order.DeliveryAddress != "" {
		dp := &deliveryPointPayload{
			Comment:    *order.DeliveryAddress,
			TerminalID: cfg.DeliveryTerminalID,
		}
		dp.Address.Street.Name = *order.DeliveryAddress
		dp.Address.House = "1"
		p.Order.DeliveryPoint = dp
	}

	return p
}
