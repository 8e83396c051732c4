// Package model содержит доменные сущности сервиса корзины Марико.
package model

import "time"

// OrderType описывает способ получения заказа.
type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
)

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusKitchen    OrderStatus = "kitchen"
	OrderStatusPacked     OrderStatus = "packed"
	OrderStatusDelivery   OrderStatus = "delivery"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusDraft      OrderStatus = "draft"
)

// OrderItem описывает одну позицию корзины.
type OrderItem struct {
	ProductID     string  `json:"id"`
	IikoProductID string  `json:"iiko_product_id,omitempty"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Amount        float64 `json:"amount"`
}

// OrderMeta содержит данные платформы, с которой пришёл заказ.
type OrderMeta struct {
	TelegramUserID   string `json:"telegramUserId,omitempty"`
	TelegramUsername string `json:"telegramUsername,omitempty"`
	TelegramFullName string `json:"telegramFullName,omitempty"`
}

// Order описывает заказ покупателя.
type Order struct {
	ID              int64
	ExternalID      string
	RestaurantID    string
	CityID          string
	OrderType       OrderType
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress *string
	Comment         *string
	Items           []OrderItem
	Subtotal        float64
	DeliveryFee     float64
	Total           float64
	Status          OrderStatus
	Warnings        []string
	Meta            OrderMeta
	PaymentID       *int64
	PaymentStatus   *string
	PaymentProvider *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentStatus описывает нормализованный статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal сообщает, является ли статус платежа конечным.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// Payment описывает запись о платеже, связанную с заказом.
type Payment struct {
	ID                int64
	OrderID           int64
	RestaurantID      string
	ProviderCode      string
	Amount            float64
	Currency          string
	Description       string
	Status            PaymentStatus
	ProviderPaymentID *string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IntegrationConfig содержит настройки внешней интеграции ресторана.
type IntegrationConfig struct {
	RestaurantID       string
	Provider           string
	Enabled            bool
	APILogin           string
	OrganizationID     string
	TerminalGroupID    string
	DeliveryTerminalID string
	SourceKey          string
	DefaultPaymentType string
	ShopID             string
	SecretKey          string
	CallbackURL        string
}

// UserProfile описывает профиль пользователя мини-приложения.
type UserProfile struct {
	ID                   string
	TelegramID           string
	Name                 string
	Phone                string
	BirthDate            *string
	Gender               *string
	Photo                *string
	NotificationsEnabled bool
	FavoriteCityID       *string
	FavoriteRestaurantID *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
