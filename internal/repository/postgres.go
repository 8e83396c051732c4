// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mariko-app/cart-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrProfileNotFound возвращается, если профиль пользователя не найден.
	ErrProfileNotFound = errors.New("profile not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ и возвращает его внутренний идентификатор.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO cart_orders (
				external_id, restaurant_id, city_id, order_type,
				customer_name, customer_phone, delivery_address, comment,
				items, subtotal, delivery_fee, total, status, warnings, meta
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 RETURNING id`,
			o.ExternalID, o.RestaurantID, o.CityID, string(o.OrderType),
			o.CustomerName, o.CustomerPhone, o.DeliveryAddress, o.Comment,
			o.Items, o.Subtotal, o.DeliveryFee, o.Total, string(o.Status), o.Warnings, o.Meta,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

const orderColumns = `id, external_id, COALESCE(restaurant_id, ''), COALESCE(city_id, ''),
	order_type, customer_name, customer_phone, delivery_address, comment,
	items, subtotal, delivery_fee, total, status, warnings, meta,
	payment_id, payment_status, payment_provider, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o         model.Order
		orderType string
		status    string
	)
	err := row.Scan(
		&o.ID, &o.ExternalID, &o.RestaurantID, &o.CityID,
		&orderType, &o.CustomerName, &o.CustomerPhone, &o.DeliveryAddress, &o.Comment,
		&o.Items, &o.Subtotal, &o.DeliveryFee, &o.Total, &status, &o.Warnings, &o.Meta,
		&o.PaymentID, &o.PaymentStatus, &o.PaymentProvider, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.OrderType = model.OrderType(orderType)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrderByID возвращает заказ по внутреннему идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM cart_orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByExternalID возвращает заказ по внешнему идентификатору.
func (r *PostgresRepository) GetOrderByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM cart_orders WHERE external_id = $1`, externalID)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by external id: %w", err)
	}
	return o, nil
}

// GetOrdersByCustomer возвращает заказы покупателя по Telegram ID или телефону,
// отсортированные от новых к старым.
func (r *PostgresRepository) GetOrdersByCustomer(ctx context.Context, telegramID, phone string, limit int) ([]model.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if telegramID != "" {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns+`
			 FROM cart_orders
			 WHERE meta->>'telegramUserId' = $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			telegramID, limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns+`
			 FROM cart_orders
			 WHERE customer_phone = $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			phone, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// SetOrderPayment привязывает платёж к заказу и сохраняет его статус и провайдера.
func (r *PostgresRepository) SetOrderPayment(ctx context.Context, orderID, paymentID int64, status, provider string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE cart_orders
		 SET payment_id = $2, payment_status = $3, payment_provider = $4, updated_at = now()
		 WHERE id = $1`,
		orderID, paymentID, status, provider,
	)
	if err != nil {
		return fmt.Errorf("set order payment: %w", err)
	}
	return nil
}

// UpdateOrderPaymentStatus обновляет зеркальное поле статуса платежа у заказа.
func (r *PostgresRepository) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE cart_orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, status,
	)
	if err != nil {
		return fmt.Errorf("update order payment status: %w", err)
	}
	return nil
}

// GetIntegrationConfig возвращает конфигурацию интеграции ресторана.
// Отсутствующая или выключенная конфигурация — это не ошибка, возвращается nil.
func (r *PostgresRepository) GetIntegrationConfig(ctx context.Context, restaurantID, provider string) (*model.IntegrationConfig, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT restaurant_id, provider, is_enabled, api_login, organization_id,
			terminal_group_id, delivery_terminal_id, source_key, default_payment_type,
			shop_id, secret_key, callback_url
		 FROM restaurant_integrations
		 WHERE restaurant_id = $1 AND provider = $2`,
		restaurantID, provider,
	)

	var c model.IntegrationConfig
	err := row.Scan(
		&c.RestaurantID, &c.Provider, &c.Enabled, &c.APILogin, &c.OrganizationID,
		&c.TerminalGroupID, &c.DeliveryTerminalID, &c.SourceKey, &c.DefaultPaymentType,
		&c.ShopID, &c.SecretKey, &c.CallbackURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get integration config: %w", err)
	}

	if !c.Enabled {
		return nil, nil
	}

	return &c, nil
}

// CreatePayment создаёт запись о платеже в статусе pending.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO payments (order_id, restaurant_id, provider_code, amount, currency, description, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			p.OrderID, p.RestaurantID, p.ProviderCode, p.Amount, p.Currency, p.Description, string(p.Status),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return id, nil
}

const paymentColumns = `id, order_id, restaurant_id, provider_code, amount, currency,
	description, status, provider_payment_id, metadata, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.RestaurantID, &p.ProviderCode, &p.Amount, &p.Currency,
		&p.Description, &status, &p.ProviderPaymentID, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// GetPaymentByID возвращает платёж по внутреннему идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetPaymentByProviderID возвращает платёж по идентификатору, присвоенному провайдером.
func (r *PostgresRepository) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_payment_id = $1`, providerPaymentID)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by provider id: %w", err)
	}
	return p, nil
}

// UpdatePaymentStatus обновляет статус платежа и метаданные провайдера.
// Конечные статусы не перезаписываются: повторная доставка того же статуса
// возвращает текущее состояние без изменений. Идентификатор платежа у
// провайдера, однажды присвоенный, не меняется.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus, providerPaymentID *string, metadata map[string]any) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE payments
		 SET status = $2,
		     provider_payment_id = COALESCE(provider_payment_id, $3),
		     metadata = COALESCE($4, metadata),
		     updated_at = now()
		 WHERE id = $1
		   AND (status NOT IN ('succeeded', 'failed', 'cancelled') OR status = $2)
		 RETURNING `+paymentColumns,
		id, string(status), providerPaymentID, metadata,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Платёж уже в другом конечном статусе либо не существует.
			return r.GetPaymentByID(ctx, id)
		}
		return nil, fmt.Errorf("update payment status: %w", err)
	}
	return p, nil
}

// UpsertUserProfile создаёт или обновляет профиль пользователя.
func (r *PostgresRepository) UpsertUserProfile(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO user_profiles (
			id, telegram_id, name, phone, birth_date, gender, photo,
			notifications_enabled, favorite_city_id, favorite_restaurant_id
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			telegram_id = EXCLUDED.telegram_id,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			birth_date = COALESCE(EXCLUDED.birth_date, user_profiles.birth_date),
			gender = COALESCE(EXCLUDED.gender, user_profiles.gender),
			photo = COALESCE(EXCLUDED.photo, user_profiles.photo),
			notifications_enabled = EXCLUDED.notifications_enabled,
			favorite_city_id = COALESCE(EXCLUDED.favorite_city_id, user_profiles.favorite_city_id),
			favorite_restaurant_id = COALESCE(EXCLUDED.favorite_restaurant_id, user_profiles.favorite_restaurant_id),
			updated_at = now()
		 RETURNING id, telegram_id, name, phone, birth_date, gender, photo,
			notifications_enabled, favorite_city_id, favorite_restaurant_id,
			created_at, updated_at`,
		p.ID, p.TelegramID, p.Name, p.Phone, p.BirthDate, p.Gender, p.Photo,
		p.NotificationsEnabled, p.FavoriteCityID, p.FavoriteRestaurantID,
	)

	return scanProfile(row)
}

// GetUserProfile возвращает профиль пользователя по идентификатору.
func (r *PostgresRepository) GetUserProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, telegram_id, name, phone, birth_date, gender, photo,
			notifications_enabled, favorite_city_id, favorite_restaurant_id,
			created_at, updated_at
		 FROM user_profiles WHERE id = $1`,
		id,
	)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanProfile(row pgx.Row) (*model.UserProfile, error) {
	var p model.UserProfile
	err := row.Scan(
		&p.ID, &p.TelegramID, &p.Name, &p.Phone, &p.BirthDate, &p.Gender, &p.Photo,
		&p.NotificationsEnabled, &p.FavoriteCityID, &p.FavoriteRestaurantID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}
