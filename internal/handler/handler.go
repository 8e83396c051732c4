// Package handler содержит HTTP-обработчики API сервиса корзины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mariko-app/cart-system/internal/middleware"
	"github.com/mariko-app/cart-system/internal/model"
	"github.com/mariko-app/cart-system/internal/pricing"
	"github.com/mariko-app/cart-system/internal/repository"
	"github.com/mariko-app/cart-system/internal/service"
	"github.com/mariko-app/cart-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Recalculate(items []model.OrderItem, orderType model.OrderType) pricing.Quote
	SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*model.Order, error)
	GetOrdersByCustomer(ctx context.Context, telegramID, phone string, limit int) ([]model.Order, error)
	SyncProfile(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error)
	GetProfile(ctx context.Context, id string) (*model.UserProfile, error)
	CreatePaymentSession(ctx context.Context, orderID, restaurantID, returnURL string) (*service.PaymentSession, error)
	HandleWebhook(ctx context.Context, payload map[string]any) (*model.Payment, error)
	GetPayment(ctx context.Context, id int64) (*model.Payment, error)
}

// Handler реализует HTTP-обработчики API сервиса корзины.
type Handler struct {
	service  Service
	logger   *zap.Logger
	identity *middleware.IdentityMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, identity *middleware.IdentityMiddleware) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		identity: identity,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   message,
	})
}

// Health сообщает готовность сервиса принимать запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type recalculateRequest struct {
	Items     []model.OrderItem `json:"items"`
	OrderType string            `json:"orderType"`
}

// Recalculate возвращает серверный расчёт стоимости корзины.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный формат запроса")
		return
	}

	quote := h.service.Recalculate(req.Items, model.OrderType(req.OrderType))

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"subtotal":    quote.Subtotal,
		"deliveryFee": quote.DeliveryFee,
		"total":       quote.Total,
		"minOrder":    quote.MinOrder,
		"canSubmit":   quote.CanSubmit,
		"warnings":    quote.Warnings,
	})
}

type submitRequest struct {
	RestaurantID    string            `json:"restaurantId"`
	CityID          string            `json:"cityId"`
	OrderType       string            `json:"orderType"`
	CustomerName    string            `json:"customerName"`
	CustomerPhone   string            `json:"customerPhone"`
	DeliveryAddress string            `json:"deliveryAddress"`
	Comment         string            `json:"comment"`
	Items           []model.OrderItem `json:"items"`
	Meta            model.OrderMeta   `json:"meta"`
	Draft           bool              `json:"draft"`
}

// SubmitOrder оформляет заказ из корзины.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный формат запроса")
		return
	}

	order, err := h.service.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		RestaurantID:    req.RestaurantID,
		CityID:          req.CityID,
		OrderType:       model.OrderType(req.OrderType),
		CustomerName:    req.CustomerName,
		CustomerPhone:   validation.NormalizePhone(req.CustomerPhone),
		DeliveryAddress: req.DeliveryAddress,
		Comment:         req.Comment,
		Items:           req.Items,
		Meta:            req.Meta,
		Draft:           req.Draft,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingContact):
			writeError(w, http.StatusBadRequest, "Заполните имя и телефон")
		case errors.Is(err, service.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, "Корзина пуста")
		case errors.Is(err, service.ErrMissingAddress):
			writeError(w, http.StatusBadRequest, "Укажите адрес доставки")
		default:
			h.logger.Error("submit order error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Не удалось оформить заказ")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"orderId":    order.ID,
		"externalId": order.ExternalID,
		"status":     string(order.Status),
		"subtotal":   order.Subtotal,
		"total":      order.Total,
		"warnings":   order.Warnings,
		"message":    "Заказ принят",
	})
}

type orderResponse struct {
	ID              int64             `json:"id"`
	ExternalID      string            `json:"externalId"`
	RestaurantID    string            `json:"restaurantId,omitempty"`
	CityID          string            `json:"cityId,omitempty"`
	OrderType       string            `json:"orderType"`
	CustomerName    string            `json:"customerName"`
	CustomerPhone   string            `json:"customerPhone"`
	DeliveryAddress *string           `json:"deliveryAddress,omitempty"`
	Comment         *string           `json:"comment,omitempty"`
	Items           []model.OrderItem `json:"items"`
	Subtotal        float64           `json:"subtotal"`
	DeliveryFee     float64           `json:"deliveryFee"`
	Total           float64           `json:"total"`
	Status          string            `json:"status"`
	PaymentStatus   *string           `json:"paymentStatus,omitempty"`
	CreatedAt       string            `json:"createdAt"`
}

func toOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ExternalID:      o.ExternalID,
		RestaurantID:    o.RestaurantID,
		CityID:          o.CityID,
		OrderType:       string(o.OrderType),
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		DeliveryAddress: o.DeliveryAddress,
		Comment:         o.Comment,
		Items:           o.Items,
		Subtotal:        o.Subtotal,
		DeliveryFee:     o.DeliveryFee,
		Total:           o.Total,
		Status:          string(o.Status),
		PaymentStatus:   o.PaymentStatus,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

// GetOrders возвращает историю заказов покупателя от новых к старым.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	telegramID := r.URL.Query().Get("telegramId")
	if telegramID == "" {
		telegramID, _ = middleware.GetTelegramIDFromContext(r.Context())
	}
	phone := validation.NormalizePhone(r.URL.Query().Get("phone"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Некорректный параметр limit")
			return
		}
		limit = parsed
	}

	orders, err := h.service.GetOrdersByCustomer(r.Context(), telegramID, phone, limit)
	if err != nil {
		if errors.Is(err, service.ErrNoCustomerKey) {
			writeError(w, http.StatusBadRequest, "Не указан идентификатор пользователя")
			return
		}
		h.logger.Error("get orders error", zap.Error(err), zap.String("telegramID", telegramID))
		writeError(w, http.StatusServiceUnavailable, "Сервис временно недоступен")
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  resp,
	})
}

type profileSyncRequest struct {
	TelegramID           string  `json:"telegramId"`
	Name                 string  `json:"name"`
	Phone                string  `json:"phone"`
	BirthDate            *string `json:"birthDate"`
	Gender               *string `json:"gender"`
	Photo                *string `json:"photo"`
	NotificationsEnabled *bool   `json:"notificationsEnabled"`
	FavoriteCityID       *string `json:"favoriteCityId"`
	FavoriteRestaurantID *string `json:"favoriteRestaurantId"`
}

type profileResponse struct {
	ID                   string  `json:"id"`
	TelegramID           string  `json:"telegramId"`
	Name                 string  `json:"name"`
	Phone                string  `json:"phone"`
	BirthDate            *string `json:"birthDate,omitempty"`
	Gender               *string `json:"gender,omitempty"`
	Photo                *string `json:"photo,omitempty"`
	NotificationsEnabled bool    `json:"notificationsEnabled"`
	FavoriteCityID       *string `json:"favoriteCityId,omitempty"`
	FavoriteRestaurantID *string `json:"favoriteRestaurantId,omitempty"`
}

func toProfileResponse(p *model.UserProfile) profileResponse {
	return profileResponse{
		ID:                   p.ID,
		TelegramID:           p.TelegramID,
		Name:                 p.Name,
		Phone:                p.Phone,
		BirthDate:            p.BirthDate,
		Gender:               p.Gender,
		Photo:                p.Photo,
		NotificationsEnabled: p.NotificationsEnabled,
		FavoriteCityID:       p.FavoriteCityID,
		FavoriteRestaurantID: p.FavoriteRestaurantID,
	}
}

// SyncProfile создаёт или обновляет профиль пользователя мини-приложения.
func (h *Handler) SyncProfile(w http.ResponseWriter, r *http.Request) {
	var req profileSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный формат запроса")
		return
	}

	id, _ := middleware.GetTelegramIDFromContext(r.Context())
	if id == "" {
		id = req.TelegramID
	}

	notifications := true
	if req.NotificationsEnabled != nil {
		notifications = *req.NotificationsEnabled
	}

	profile, err := h.service.SyncProfile(r.Context(), &model.UserProfile{
		ID:                   id,
		TelegramID:           id,
		Name:                 req.Name,
		Phone:                validation.NormalizePhone(req.Phone),
		BirthDate:            req.BirthDate,
		Gender:               req.Gender,
		Photo:                req.Photo,
		NotificationsEnabled: notifications,
		FavoriteCityID:       req.FavoriteCityID,
		FavoriteRestaurantID: req.FavoriteRestaurantID,
	})
	if err != nil {
		if errors.Is(err, service.ErrNoCustomerKey) {
			writeError(w, http.StatusBadRequest, "Не указан идентификатор пользователя")
			return
		}
		h.logger.Error("sync profile error", zap.Error(err), zap.String("telegramID", id))
		writeError(w, http.StatusInternalServerError, "Не удалось сохранить профиль")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"profile": toProfileResponse(profile),
	})
}

// GetProfile возвращает профиль текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetTelegramIDFromContext(r.Context())
	if id == "" {
		id = r.URL.Query().Get("telegramId")
	}

	profile, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNoCustomerKey) {
			writeError(w, http.StatusBadRequest, "Не указан идентификатор пользователя")
			return
		}
		h.logger.Error("get profile error", zap.Error(err), zap.String("telegramID", id))
		writeError(w, http.StatusInternalServerError, "Не удалось загрузить профиль")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"profile": toProfileResponse(profile),
	})
}

type profilePatchRequest struct {
	Name                 *string `json:"name"`
	Phone                *string `json:"phone"`
	BirthDate            *string `json:"birthDate"`
	Gender               *string `json:"gender"`
	Photo                *string `json:"photo"`
	NotificationsEnabled *bool   `json:"notificationsEnabled"`
	FavoriteCityID       *string `json:"favoriteCityId"`
	FavoriteRestaurantID *string `json:"favoriteRestaurantId"`
}

// PatchProfile частично обновляет профиль текущего пользователя:
// не переданные поля сохраняют прежние значения.
func (h *Handler) PatchProfile(w http.ResponseWriter, r *http.Request) {
	var req profilePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный формат запроса")
		return
	}

	id, _ := middleware.GetTelegramIDFromContext(r.Context())
	if id == "" {
		id = r.URL.Query().Get("telegramId")
	}

	current, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNoCustomerKey) {
			writeError(w, http.StatusBadRequest, "Не указан идентификатор пользователя")
			return
		}
		h.logger.Error("load profile for patch error", zap.Error(err), zap.String("telegramID", id))
		writeError(w, http.StatusInternalServerError, "Не удалось загрузить профиль")
		return
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Phone != nil {
		current.Phone = validation.NormalizePhone(*req.Phone)
	}
	if req.BirthDate != nil {
		current.BirthDate = req.BirthDate
	}
	if req.Gender != nil {
		current.Gender = req.Gender
	}
	if req.Photo != nil {
		current.Photo = req.Photo
	}
	if req.NotificationsEnabled != nil {
		current.NotificationsEnabled = *req.NotificationsEnabled
	}
	if req.FavoriteCityID != nil {
		current.FavoriteCityID = req.FavoriteCityID
	}
	if req.FavoriteRestaurantID != nil {
		current.FavoriteRestaurantID = req.FavoriteRestaurantID
	}

	profile, err := h.service.SyncProfile(r.Context(), current)
	if err != nil {
		h.logger.Error("patch profile error", zap.Error(err), zap.String("telegramID", id))
		writeError(w, http.StatusInternalServerError, "Не удалось сохранить профиль")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"profile": toProfileResponse(profile),
	})
}

type createPaymentRequest struct {
	OrderID      string `json:"orderId"`
	RestaurantID string `json:"restaurantId"`
	ReturnURL    string `json:"returnUrl"`
}

// CreatePayment создаёт платёжную сессию для заказа.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный формат запроса")
		return
	}

	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "Не указан заказ")
		return
	}

	session, err := h.service.CreatePaymentSession(r.Context(), req.OrderID, req.RestaurantID, req.ReturnURL)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Заказ не найден")
		case errors.Is(err, service.ErrNoRestaurant):
			writeError(w, http.StatusBadRequest, "Не удалось определить ресторан заказа")
		case errors.Is(err, service.ErrPaymentNotConfigured):
			writeError(w, http.StatusBadRequest, "Оплата для ресторана не настроена")
		case errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Некорректная сумма заказа")
		default:
			h.logger.Error("create payment error", zap.Error(err), zap.String("orderID", req.OrderID))
			writeError(w, http.StatusInternalServerError, "Не удалось создать платёж")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"paymentId":         session.PaymentID,
		"providerPaymentId": session.ProviderPaymentID,
		"confirmationUrl":   session.ConfirmationURL,
		"status":            string(session.Status),
	})
}

// PaymentWebhook обрабатывает уведомление платёжного провайдера.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный формат уведомления")
		return
	}

	payment, err := h.service.HandleWebhook(r.Context(), payload)
	if err != nil {
		if errors.Is(err, service.ErrWebhookMalformed) {
			writeError(w, http.StatusBadRequest, "Некорректный формат уведомления")
			return
		}
		h.logger.Error("payment webhook error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Не удалось обработать уведомление")
		return
	}

	resp := map[string]any{"success": true}
	if payment != nil {
		resp["paymentId"] = payment.ID
		resp["status"] = string(payment.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPayment возвращает текущее состояние платежа.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный идентификатор платежа")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "Платёж не найден")
			return
		}
		h.logger.Error("get payment error", zap.Error(err), zap.Int64("paymentID", id))
		writeError(w, http.StatusInternalServerError, "Не удалось загрузить платёж")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"payment": map[string]any{
			"paymentId":         payment.ID,
			"orderId":           payment.OrderID,
			"status":            string(payment.Status),
			"amount":            payment.Amount,
			"currency":          payment.Currency,
			"providerPaymentId": payment.ProviderPaymentID,
		},
	})
}
