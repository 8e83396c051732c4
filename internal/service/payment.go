package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mariko-app/cart-system/internal/model"
	"github.com/mariko-app/cart-system/internal/repository"
	"github.com/mariko-app/cart-system/internal/yookassa"
)

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrOrderNotFound) ||
		errors.Is(err, repository.ErrPaymentNotFound) ||
		errors.Is(err, repository.ErrProfileNotFound)
}

// findOrder разрешает идентификатор заказа: клиент может передать как
// внутренний числовой id, так и внешний идентификатор.
func (s *Service) findOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		order, err := s.repo.GetOrderByID(ctx, id)
		if err == nil || !errors.Is(err, repository.ErrOrderNotFound) {
			return order, err
		}
	}
	return s.repo.GetOrderByExternalID(ctx, orderID)
}

// PaymentSession описывает созданную платёжную сессию.
type PaymentSession struct {
	PaymentID         int64
	ProviderPaymentID string
	ConfirmationURL   string
	Status            model.PaymentStatus
}

// CreatePaymentSession создаёт платёж у провайдера и связывает его с заказом.
func (s *Service) CreatePaymentSession(ctx context.Context, orderID, restaurantID, returnURL string) (*PaymentSession, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, repository.ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}

	if restaurantID == "" {
		restaurantID = order.RestaurantID
	}
	if restaurantID == "" {
		return nil, ErrNoRestaurant
	}

	cfg, err := s.repo.GetIntegrationConfig(ctx, restaurantID, "yookassa")
	if err != nil {
		return nil, fmt.Errorf("resolve payment config: %w", err)
	}
	if cfg == nil {
		return nil, ErrPaymentNotConfigured
	}

	amount := order.Total
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, ErrInvalidAmount
	}

	payment := &model.Payment{
		OrderID:      order.ID,
		RestaurantID: restaurantID,
		ProviderCode: cfg.Provider,
		Amount:       amount,
		Currency:     "RUB",
		Description:  fmt.Sprintf("Оплата заказа %s", order.ExternalID),
		Status:       model.PaymentStatusPending,
	}

	paymentID, err := s.repo.CreatePayment(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	resp, err := s.payments.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		ShopID:      cfg.ShopID,
		SecretKey:   cfg.SecretKey,
		Amount:      amount,
		Currency:    "RUB",
		Description: payment.Description,
		ReturnURL:   returnURL,
		Metadata: map[string]any{
			"orderId":      order.ID,
			"paymentId":    paymentID,
			"restaurantId": restaurantID,
			"callbackUrl":  cfg.CallbackURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create provider payment: %w", err)
	}

	status := normalizeProviderStatus(resp.Status)

	updated, err := s.repo.UpdatePaymentStatus(ctx, paymentID, status, &resp.PaymentID,
		map[string]any{"confirmationUrl": resp.ConfirmationURL})
	if err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	// Зеркальные поля заказа обновляются в лучшем случае: их рассинхронизация
	// не должна ломать создание платежа.
	if err := s.repo.SetOrderPayment(ctx, order.ID, paymentID, string(updated.Status), cfg.Provider); err != nil {
		s.logger.Error("mirror payment onto order error",
			zap.Error(err), zap.Int64("orderID", order.ID), zap.Int64("paymentID", paymentID))
	}

	return &PaymentSession{
		PaymentID:         paymentID,
		ProviderPaymentID: resp.PaymentID,
		ConfirmationURL:   resp.ConfirmationURL,
		Status:            updated.Status,
	}, nil
}

// normalizeProviderStatus приводит словарь статусов провайдера к внутреннему.
func normalizeProviderStatus(raw string) model.PaymentStatus {
	switch strings.ToLower(raw) {
	case "succeeded":
		return model.PaymentStatusSucceeded
	case "canceled", "cancelled":
		return model.PaymentStatusCancelled
	case "failed":
		return model.PaymentStatusFailed
	case "pending", "waiting_for_capture", "":
		return model.PaymentStatusPending
	default:
		return model.PaymentStatusPending
	}
}

// HandleWebhook обрабатывает уведомление платёжного провайдера.
// Возвращает nil без ошибки, если платёж неизвестен: провайдер не должен
// бесконечно ретраить чужие уведомления.
func (s *Service) HandleWebhook(ctx context.Context, payload map[string]any) (*model.Payment, error) {
	providerPaymentID := extractProviderPaymentID(payload)
	if providerPaymentID == "" {
		return nil, ErrWebhookMalformed
	}

	payment, err := s.repo.GetPaymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, fmt.Errorf("find payment: %w", err)
		}
		// Резервный путь: наш id платежа мог прийти в metadata.
		if metaID, ok := extractMetadataPaymentID(payload); ok {
			payment, err = s.repo.GetPaymentByID(ctx, metaID)
			if err != nil && !errors.Is(err, repository.ErrPaymentNotFound) {
				return nil, fmt.Errorf("find payment by metadata id: %w", err)
			}
		}
	}

	if payment == nil {
		s.logger.Warn("webhook for unknown payment swallowed",
			zap.String("providerPaymentID", providerPaymentID))
		return nil, nil
	}

	status := normalizeProviderStatus(extractStatus(payload))

	updated, err := s.repo.UpdatePaymentStatus(ctx, payment.ID, status, &providerPaymentID, payload)
	if err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	if err := s.repo.UpdateOrderPaymentStatus(ctx, updated.OrderID, string(updated.Status)); err != nil {
		s.logger.Error("mirror webhook status onto order error",
			zap.Error(err), zap.Int64("orderID", updated.OrderID), zap.Int64("paymentID", updated.ID))
	}

	return updated, nil
}

// GetPayment возвращает платёж по внутреннему идентификатору.
func (s *Service) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	return s.repo.GetPaymentByID(ctx, id)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// extractProviderPaymentID достаёт идентификатор платежа провайдера из одной
// из известных форм нотификации.
func extractProviderPaymentID(payload map[string]any) string {
	if obj := asMap(payload["object"]); obj != nil {
		if id := asString(obj["id"]); id != "" {
			return id
		}
	}
	if id := asString(payload["id"]); id != "" {
		return id
	}
	return asString(payload["payment_id"])
}

func extractStatus(payload map[string]any) string {
	if obj := asMap(payload["object"]); obj != nil {
		if st := asString(obj["status"]); st != "" {
			return st
		}
	}
	return asString(payload["status"])
}

func extractMetadataPaymentID(payload map[string]any) (int64, bool) {
	var meta map[string]any
	if obj := asMap(payload["object"]); obj != nil {
		meta = asMap(obj["metadata"])
	}
	if meta == nil {
		meta = asMap(payload["metadata"])
	}
	if meta == nil {
		return 0, false
	}

	switch v := meta["paymentId"].(type) {
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
