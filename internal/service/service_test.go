package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mariko-app/cart-system/internal/iiko"
	"github.com/mariko-app/cart-system/internal/model"
	"github.com/mariko-app/cart-system/internal/repository"
	"github.com/mariko-app/cart-system/internal/yookassa"
)

type stubRepo struct {
	createOrderID  int64
	createOrderErr error
	createdOrders  []*model.Order

	orderByID    *model.Order
	orderByIDErr error

	integrationCfg    *model.IntegrationConfig
	integrationCfgErr error

	createPaymentID  int64
	createPaymentErr error

	paymentByProviderID    *model.Payment
	paymentByProviderIDErr error

	paymentByID    *model.Payment
	paymentByIDErr error

	updatedPayment    *model.Payment
	updatePaymentErr  error
	updatePaymentArgs []model.PaymentStatus

	orderPaymentStatus []string

	profile    *model.UserProfile
	profileErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	if s.createOrderErr != nil {
		return 0, s.createOrderErr
	}
	s.createdOrders = append(s.createdOrders, o)
	return s.createOrderID, nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	if s.orderByIDErr != nil {
		return nil, s.orderByIDErr
	}
	return s.orderByID, nil
}

func (s *stubRepo) GetOrderByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	if s.orderByID != nil && s.orderByID.ExternalID == externalID {
		return s.orderByID, nil
	}
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) GetOrdersByCustomer(ctx context.Context, telegramID, phone string, limit int) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) SetOrderPayment(ctx context.Context, orderID, paymentID int64, status, provider string) error {
	return nil
}

func (s *stubRepo) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error {
	s.orderPaymentStatus = append(s.orderPaymentStatus, status)
	return nil
}

func (s *stubRepo) GetIntegrationConfig(ctx context.Context, restaurantID, provider string) (*model.IntegrationConfig, error) {
	return s.integrationCfg, s.integrationCfgErr
}

func (s *stubRepo) CreatePayment(ctx context.Context, p *model.Payment) (int64, error) {
	return s.createPaymentID, s.createPaymentErr
}

func (s *stubRepo) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	if s.paymentByIDErr != nil {
		return nil, s.paymentByIDErr
	}
	if s.paymentByID == nil {
		return nil, repository.ErrPaymentNotFound
	}
	return s.paymentByID, nil
}

func (s *stubRepo) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*model.Payment, error) {
	if s.paymentByProviderIDErr != nil {
		return nil, s.paymentByProviderIDErr
	}
	if s.paymentByProviderID == nil {
		return nil, repository.ErrPaymentNotFound
	}
	return s.paymentByProviderID, nil
}

func (s *stubRepo) UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus, providerPaymentID *string, metadata map[string]any) (*model.Payment, error) {
	s.updatePaymentArgs = append(s.updatePaymentArgs, status)
	if s.updatePaymentErr != nil {
		return nil, s.updatePaymentErr
	}
	if s.updatedPayment != nil {
		return s.updatedPayment, nil
	}
	p := model.Payment{ID: id, Status: status}
	return &p, nil
}

func (s *stubRepo) UpsertUserProfile(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error) {
	return p, nil
}

func (s *stubRepo) GetUserProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

type stubPOS struct {
	result iiko.Result
	calls  chan dispatchedCall
}

type dispatchedCall struct {
	cfg   *model.IntegrationConfig
	order *model.Order
}

func newStubPOS(result iiko.Result) *stubPOS {
	return &stubPOS{result: result, calls: make(chan dispatchedCall, 8)}
}

func (s *stubPOS) CreateOrder(ctx context.Context, cfg *model.IntegrationConfig, order *model.Order) iiko.Result {
	s.calls <- dispatchedCall{cfg: cfg, order: order}
	return s.result
}

type stubPayments struct {
	resp *yookassa.CreatePaymentResponse
	err  error
}

func (s *stubPayments) CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest) (*yookassa.CreatePaymentResponse, error) {
	return s.resp, s.err
}

func validSubmitRequest() SubmitOrderRequest {
	return SubmitOrderRequest{
		RestaurantID:    "rest-1",
		CityID:          "city-1",
		OrderType:       model.OrderTypeDelivery,
		CustomerName:    "Иван",
		CustomerPhone:   "89991234567",
		DeliveryAddress: "ул. Ленина, 1",
		Items: []model.OrderItem{
			{ProductID: "p1", Name: "Хачапури", Price: 650, Amount: 1},
		},
	}
}

func newTestService(repo *stubRepo, pos POSClient, payments PaymentClient) *Service {
	return NewService(repo, pos, payments, zap.NewNop(), 50)
}

func TestSubmitOrderValidation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	req := validSubmitRequest()
	req.CustomerName = ""
	if _, err := svc.SubmitOrder(context.Background(), req); !errors.Is(err, ErrMissingContact) {
		t.Fatalf("expected ErrMissingContact, got %v", err)
	}

	req = validSubmitRequest()
	req.Items = nil
	if _, err := svc.SubmitOrder(context.Background(), req); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	req = validSubmitRequest()
	req.DeliveryAddress = ""
	if _, err := svc.SubmitOrder(context.Background(), req); !errors.Is(err, ErrMissingAddress) {
		t.Fatalf("expected ErrMissingAddress, got %v", err)
	}
}

func TestSubmitOrderRecomputesTotals(t *testing.T) {
	repo := &stubRepo{createOrderID: 7}
	svc := newTestService(repo, nil, nil)

	order, err := svc.SubmitOrder(context.Background(), validSubmitRequest())
	if err != nil {
		t.Fatalf("SubmitOrder error: %v", err)
	}

	if order.ID != 7 {
		t.Fatalf("ID = %d, want 7", order.ID)
	}
	if order.Subtotal != 650 || order.DeliveryFee != 199 || order.Total != 849 {
		t.Fatalf("totals not recomputed server-side: %+v", order)
	}
	if order.Status != model.OrderStatusProcessing {
		t.Fatalf("Status = %q, want processing", order.Status)
	}
	if order.ExternalID == "" {
		t.Fatalf("external id must be generated")
	}
}

func TestSubmitOrderStoreDown(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &stubRepo{createOrderErr: storeErr}
	svc := newTestService(repo, nil, nil)

	order, err := svc.SubmitOrder(context.Background(), validSubmitRequest())
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if order != nil {
		t.Fatalf("no order must be returned when the store is down")
	}
	if len(repo.createdOrders) != 0 {
		t.Fatalf("no order row must be recorded")
	}
}

func TestSubmitOrderWithoutIntegrationSkipsDispatch(t *testing.T) {
	repo := &stubRepo{createOrderID: 1, integrationCfg: nil}
	pos := newStubPOS(iiko.Result{Success: true})
	svc := newTestService(repo, pos, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.StartDispatchWorker(ctx)

	if _, err := svc.SubmitOrder(ctx, validSubmitRequest()); err != nil {
		t.Fatalf("SubmitOrder error: %v", err)
	}

	select {
	case <-pos.calls:
		t.Fatalf("dispatch must not be invoked without integration config")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitOrderDispatchFailureDoesNotFailSubmission(t *testing.T) {
	repo := &stubRepo{
		createOrderID:  1,
		integrationCfg: &model.IntegrationConfig{Provider: "iiko", APILogin: "l", OrganizationID: "o", TerminalGroupID: "t"},
	}
	pos := newStubPOS(iiko.Result{Success: false, Error: "terminal offline"})
	svc := newTestService(repo, pos, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.StartDispatchWorker(ctx)

	order, err := svc.SubmitOrder(ctx, validSubmitRequest())
	if err != nil {
		t.Fatalf("SubmitOrder must succeed despite POS failure: %v", err)
	}
	if order.Status != model.OrderStatusProcessing {
		t.Fatalf("Status = %q, want processing", order.Status)
	}

	select {
	case call := <-pos.calls:
		if call.order.ExternalID != order.ExternalID {
			t.Fatalf("dispatched wrong order: %+v", call.order)
		}
	case <-time.After(time.Second):
		t.Fatalf("dispatch was not invoked")
	}
}

func TestGetOrdersByCustomerRequiresKey(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	if _, err := svc.GetOrdersByCustomer(context.Background(), "", "", 10); !errors.Is(err, ErrNoCustomerKey) {
		t.Fatalf("expected ErrNoCustomerKey, got %v", err)
	}
}

func TestCreatePaymentSessionPreconditions(t *testing.T) {
	t.Run("order not found", func(t *testing.T) {
		repo := &stubRepo{orderByIDErr: repository.ErrOrderNotFound}
		svc := newTestService(repo, nil, &stubPayments{})

		_, err := svc.CreatePaymentSession(context.Background(), "99", "", "")
		if !errors.Is(err, repository.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("no restaurant", func(t *testing.T) {
		repo := &stubRepo{orderByID: &model.Order{ID: 1, Total: 500}}
		svc := newTestService(repo, nil, &stubPayments{})

		_, err := svc.CreatePaymentSession(context.Background(), "1", "", "")
		if !errors.Is(err, ErrNoRestaurant) {
			t.Fatalf("expected ErrNoRestaurant, got %v", err)
		}
	})

	t.Run("payment not configured", func(t *testing.T) {
		repo := &stubRepo{orderByID: &model.Order{ID: 1, RestaurantID: "rest-1", Total: 500}}
		svc := newTestService(repo, nil, &stubPayments{})

		_, err := svc.CreatePaymentSession(context.Background(), "1", "", "")
		if !errors.Is(err, ErrPaymentNotConfigured) {
			t.Fatalf("expected ErrPaymentNotConfigured, got %v", err)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		repo := &stubRepo{
			orderByID:      &model.Order{ID: 1, RestaurantID: "rest-1", Total: 0},
			integrationCfg: &model.IntegrationConfig{Provider: "yookassa", ShopID: "s", SecretKey: "k"},
		}
		svc := newTestService(repo, nil, &stubPayments{})

		_, err := svc.CreatePaymentSession(context.Background(), "1", "", "")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
	})
}

func TestCreatePaymentSessionSuccess(t *testing.T) {
	repo := &stubRepo{
		orderByID:       &model.Order{ID: 1, ExternalID: "ORD-1", RestaurantID: "rest-1", Total: 849},
		integrationCfg:  &model.IntegrationConfig{Provider: "yookassa", ShopID: "s", SecretKey: "k"},
		createPaymentID: 5,
		updatedPayment:  &model.Payment{ID: 5, OrderID: 1, Status: model.PaymentStatusPending},
	}
	payments := &stubPayments{
		resp: &yookassa.CreatePaymentResponse{
			PaymentID:       "yk-1",
			Status:          "pending",
			ConfirmationURL: "https://yookassa.ru/pay/yk-1",
		},
	}
	svc := newTestService(repo, nil, payments)

	session, err := svc.CreatePaymentSession(context.Background(), "1", "", "https://app/return")
	if err != nil {
		t.Fatalf("CreatePaymentSession error: %v", err)
	}

	if session.PaymentID != 5 || session.ProviderPaymentID != "yk-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.ConfirmationURL != "https://yookassa.ru/pay/yk-1" {
		t.Fatalf("ConfirmationURL = %q", session.ConfirmationURL)
	}
	if session.Status != model.PaymentStatusPending {
		t.Fatalf("Status = %q, want pending", session.Status)
	}
}

func TestCreatePaymentSessionProviderFailure(t *testing.T) {
	repo := &stubRepo{
		orderByID:       &model.Order{ID: 1, ExternalID: "ORD-1", RestaurantID: "rest-1", Total: 849},
		integrationCfg:  &model.IntegrationConfig{Provider: "yookassa", ShopID: "s", SecretKey: "k"},
		createPaymentID: 5,
	}
	payments := &stubPayments{err: errors.New("provider down")}
	svc := newTestService(repo, nil, payments)

	_, err := svc.CreatePaymentSession(context.Background(), "1", "", "")
	if err == nil {
		t.Fatalf("expected provider error to surface")
	}
}

func TestHandleWebhookUnknownPaymentSwallowed(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil, nil)

	payment, err := svc.HandleWebhook(context.Background(), map[string]any{
		"object": map[string]any{"id": "yk-unknown", "status": "succeeded"},
	})
	if err != nil {
		t.Fatalf("unknown payment must be swallowed, got %v", err)
	}
	if payment != nil {
		t.Fatalf("expected nil payment for unknown webhook")
	}
	if len(repo.updatePaymentArgs) != 0 {
		t.Fatalf("no record must be mutated for unknown webhook")
	}
}

func TestHandleWebhookMalformed(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	_, err := svc.HandleWebhook(context.Background(), map[string]any{"event": "payment.succeeded"})
	if !errors.Is(err, ErrWebhookMalformed) {
		t.Fatalf("expected ErrWebhookMalformed, got %v", err)
	}
}

func TestHandleWebhookUpdatesPaymentAndOrder(t *testing.T) {
	repo := &stubRepo{
		paymentByProviderID: &model.Payment{ID: 5, OrderID: 1, Status: model.PaymentStatusPending},
		updatedPayment:      &model.Payment{ID: 5, OrderID: 1, Status: model.PaymentStatusSucceeded},
	}
	svc := newTestService(repo, nil, nil)

	payment, err := svc.HandleWebhook(context.Background(), map[string]any{
		"object": map[string]any{"id": "yk-1", "status": "succeeded"},
	})
	if err != nil {
		t.Fatalf("HandleWebhook error: %v", err)
	}

	if payment.Status != model.PaymentStatusSucceeded {
		t.Fatalf("Status = %q, want succeeded", payment.Status)
	}
	if len(repo.updatePaymentArgs) != 1 || repo.updatePaymentArgs[0] != model.PaymentStatusSucceeded {
		t.Fatalf("unexpected update args: %v", repo.updatePaymentArgs)
	}
	if len(repo.orderPaymentStatus) != 1 || repo.orderPaymentStatus[0] != "succeeded" {
		t.Fatalf("order mirror not updated: %v", repo.orderPaymentStatus)
	}
}

func TestHandleWebhookMetadataFallback(t *testing.T) {
	repo := &stubRepo{
		paymentByID:    &model.Payment{ID: 5, OrderID: 1, Status: model.PaymentStatusPending},
		updatedPayment: &model.Payment{ID: 5, OrderID: 1, Status: model.PaymentStatusCancelled},
	}
	svc := newTestService(repo, nil, nil)

	payment, err := svc.HandleWebhook(context.Background(), map[string]any{
		"object": map[string]any{
			"id":       "yk-new",
			"status":   "canceled",
			"metadata": map[string]any{"paymentId": float64(5)},
		},
	})
	if err != nil {
		t.Fatalf("HandleWebhook error: %v", err)
	}
	if payment == nil || payment.Status != model.PaymentStatusCancelled {
		t.Fatalf("expected cancelled payment via metadata fallback, got %+v", payment)
	}
}

func TestNormalizeProviderStatus(t *testing.T) {
	tests := map[string]model.PaymentStatus{
		"succeeded":           model.PaymentStatusSucceeded,
		"canceled":            model.PaymentStatusCancelled,
		"cancelled":           model.PaymentStatusCancelled,
		"failed":              model.PaymentStatusFailed,
		"pending":             model.PaymentStatusPending,
		"waiting_for_capture": model.PaymentStatusPending,
		"":                    model.PaymentStatusPending,
		"something_new":       model.PaymentStatusPending,
	}

	for raw, want := range tests {
		if got := normalizeProviderStatus(raw); got != want {
			t.Fatalf("normalizeProviderStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestGetProfileDefaultsForUnknownUser(t *testing.T) {
	repo := &stubRepo{profileErr: repository.ErrProfileNotFound}
	svc := newTestService(repo, nil, nil)

	p, err := svc.GetProfile(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if p.ID != "12345" || !p.NotificationsEnabled {
		t.Fatalf("unexpected default profile: %+v", p)
	}
}
