package repositories

import (
	"context"
	"time"

	domain "github.com/trueskin/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	CheckoutSessions() CheckoutSessionRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository serves the read-mostly skincare catalog.
type ProductRepository interface {
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository owns the per-user cart document.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderRepository persists order headers and their item rows. InsertItems and
// Delete exist separately so the service layer can compensate when item
// persistence fails after the header was written.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error
	Delete(ctx context.Context, orderID string) error
	Update(ctx context.Context, order domain.Order) error
	UpdateStatus(ctx context.Context, orderID string, update OrderStatusUpdate) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error)
}

// OrderStatusUpdate carries the fields mutated during a status transition.
type OrderStatusUpdate struct {
	Status      domain.OrderStatus
	PaymentID   *string
	PaidAt      *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// CheckoutSessionRepository tracks checkout sessions keyed by gateway order id.
type CheckoutSessionRepository interface {
	Insert(ctx context.Context, session domain.CheckoutSession) error
	Update(ctx context.Context, session domain.CheckoutSession) error
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.CheckoutSession, error)
	FindActiveByUser(ctx context.Context, userID string) (domain.CheckoutSession, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Category   *string
	InStock    *bool
	Featured   *bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
