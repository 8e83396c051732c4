// Package service реализует бизнес-логику сервиса корзины Марико.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariko-app/cart-system/internal/iiko"
	"github.com/mariko-app/cart-system/internal/model"
	"github.com/mariko-app/cart-system/internal/pricing"
	"github.com/mariko-app/cart-system/internal/yookassa"
)

// ErrMissingContact возвращается, если в заказе не указаны имя или телефон.
var (
	ErrMissingContact = errors.New("customer name and phone are required")
	// ErrEmptyCart возвращается при попытке оформить заказ без позиций.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMissingAddress возвращается для доставки без адреса.
	ErrMissingAddress = errors.New("delivery address is required")
	// ErrNoCustomerKey возвращается, если не передан ни Telegram ID, ни телефон.
	ErrNoCustomerKey = errors.New("telegram id or phone is required")
	// ErrNoRestaurant возвращается, если у заказа не определён ресторан.
	ErrNoRestaurant = errors.New("order has no restaurant")
	// ErrPaymentNotConfigured возвращается, если у ресторана нет платёжной конфигурации.
	ErrPaymentNotConfigured = errors.New("payment is not configured for restaurant")
	// ErrInvalidAmount возвращается для заказа с некорректной суммой.
	ErrInvalidAmount = errors.New("invalid order amount")
	// ErrWebhookMalformed возвращается, если из вебхука не удалось извлечь идентификатор платежа.
	ErrWebhookMalformed = errors.New("webhook payload has no payment id")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*model.Order, error)
	GetOrdersByCustomer(ctx context.Context, telegramID, phone string, limit int) ([]model.Order, error)
	SetOrderPayment(ctx context.Context, orderID, paymentID int64, status, provider string) error
	UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error
	GetIntegrationConfig(ctx context.Context, restaurantID, provider string) (*model.IntegrationConfig, error)
	CreatePayment(ctx context.Context, p *model.Payment) (int64, error)
	GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error)
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus, providerPaymentID *string, metadata map[string]any) (*model.Payment, error)
	UpsertUserProfile(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error)
	GetUserProfile(ctx context.Context, id string) (*model.UserProfile, error)
}

// POSClient описывает контракт отправки заказов во внешнюю POS-систему.
type POSClient interface {
	CreateOrder(ctx context.Context, cfg *model.IntegrationConfig, order *model.Order) iiko.Result
}

// PaymentClient описывает контракт создания платежа у платёжного провайдера.
type PaymentClient interface {
	CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest) (*yookassa.CreatePaymentResponse, error)
}

// Service содержит бизнес-логику сервиса корзины.
type Service struct {
	repo           Repository
	pos            POSClient
	payments       PaymentClient
	logger         *zap.Logger
	maxOrdersLimit int
	dispatchQueue  chan dispatchJob
}

// NewService создаёт новый сервис с указанным репозиторием и внешними клиентами.
func NewService(repo Repository, pos POSClient, payments PaymentClient, logger *zap.Logger, maxOrdersLimit int) *Service {
	if maxOrdersLimit <= 0 {
		maxOrdersLimit = 50
	}
	return &Service{
		repo:           repo,
		pos:            pos,
		payments:       payments,
		logger:         logger,
		maxOrdersLimit: maxOrdersLimit,
		dispatchQueue:  make(chan dispatchJob, dispatchQueueSize),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Recalculate пересчитывает стоимость корзины.
func (s *Service) Recalculate(items []model.OrderItem, orderType model.OrderType) pricing.Quote {
	return pricing.Recalculate(items, orderType)
}

// SubmitOrderRequest описывает входные данные оформления заказа.
type SubmitOrderRequest struct {
	RestaurantID    string
	CityID          string
	OrderType       model.OrderType
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress string
	Comment         string
	Items           []model.OrderItem
	Meta            model.OrderMeta
	Draft           bool
}

// SubmitOrder проверяет заказ, пересчитывает суммы на сервере, сохраняет заказ
// и ставит его в очередь отправки в POS, если у ресторана включена интеграция.
// Сбой отправки в POS не влияет на результат оформления.
func (s *Service) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*model.Order, error) {
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerPhone) == "" {
		return nil, ErrMissingContact
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if req.OrderType == "" {
		req.OrderType = model.OrderTypeDelivery
	}
	if req.OrderType == model.OrderTypeDelivery && strings.TrimSpace(req.DeliveryAddress) == "" {
		return nil, ErrMissingAddress
	}

	// Суммы клиента носят справочный характер: пересчитываем на сервере.
	quote := pricing.Recalculate(req.Items, req.OrderType)

	status := model.OrderStatusProcessing
	if req.Draft {
		status = model.OrderStatusDraft
	}

	order := &model.Order{
		ExternalID:    newExternalID(),
		RestaurantID:  req.RestaurantID,
		CityID:        req.CityID,
		OrderType:     req.OrderType,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Items:         req.Items,
		Subtotal:      quote.Subtotal,
		DeliveryFee:   quote.DeliveryFee,
		Total:         quote.Total,
		Status:        status,
		Warnings:      quote.Warnings,
		Meta:          req.Meta,
	}
	if addr := strings.TrimSpace(req.DeliveryAddress); addr != "" {
		order.DeliveryAddress = &addr
	}
	if comment := strings.TrimSpace(req.Comment); comment != "" {
		order.Comment = &comment
	}

	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.ID = id

	if order.RestaurantID != "" {
		cfg, err := s.repo.GetIntegrationConfig(ctx, order.RestaurantID, "iiko")
		if err != nil {
			s.logger.Error("resolve iiko config error",
				zap.Error(err), zap.String("restaurantID", order.RestaurantID))
		} else if cfg != nil {
			s.enqueueDispatch(cfg, order)
		}
	}

	return order, nil
}

func newExternalID() string {
	return fmt.Sprintf("ORD-%s-%s",
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}

// GetOrdersByCustomer возвращает заказы покупателя от новых к старым.
// Требуется хотя бы один идентифицирующий ключ; размер результата ограничен.
func (s *Service) GetOrdersByCustomer(ctx context.Context, telegramID, phone string, limit int) ([]model.Order, error) {
	telegramID = strings.TrimSpace(telegramID)
	phone = strings.TrimSpace(phone)
	if telegramID == "" && phone == "" {
		return nil, ErrNoCustomerKey
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > s.maxOrdersLimit {
		limit = s.maxOrdersLimit
	}

	return s.repo.GetOrdersByCustomer(ctx, telegramID, phone, limit)
}

// SyncProfile создаёт или обновляет профиль пользователя мини-приложения.
func (s *Service) SyncProfile(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, ErrNoCustomerKey
	}
	if p.TelegramID == "" {
		p.TelegramID = p.ID
	}
	return s.repo.UpsertUserProfile(ctx, p)
}

// GetProfile возвращает профиль пользователя; для неизвестного пользователя
// возвращается профиль по умолчанию.
func (s *Service) GetProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNoCustomerKey
	}

	p, err := s.repo.GetUserProfile(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return &model.UserProfile{
				ID:                   id,
				TelegramID:           id,
				NotificationsEnabled: true,
			}, nil
		}
		return nil, err
	}
	return p, nil
}
