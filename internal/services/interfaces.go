package services

import (
	"context"
	"time"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	SortOrder       = domain.SortOrder
	Product         = domain.Product
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	OrderContact    = domain.OrderContact
	Address         = domain.Address
	CheckoutSession = domain.CheckoutSession
	PaymentDetails  = domain.PaymentDetails
	Refund          = domain.Refund

	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService serves the public skincare catalog.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// CartService owns the authenticated user's cart aggregate.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartQuantityCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
	Snapshot(ctx context.Context, userID string) (CartSnapshot, error)
}

// OrderService persists orders and drives their status lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	AttachGatewayOrder(ctx context.Context, orderID string, gatewayOrderID string) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderForUser(ctx context.Context, userID string, orderID string) (Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// CheckoutService orchestrates the submit/verify/settle workflow and owns
// every gateway interaction after settlement (refunds, payment lookups).
type CheckoutService interface {
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSession, error)
	HandleSuccess(ctx context.Context, cmd PaymentSuccessCommand) (CheckoutResult, error)
	HandleCancel(ctx context.Context, cmd PaymentCancelCommand) (CheckoutResult, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Refund, error)
	LookupPayment(ctx context.Context, orderID string) (PaymentDetails, error)
}

// NotificationService dispatches best-effort order emails. Failures are
// logged, never surfaced to checkout callers.
type NotificationService interface {
	NotifyOrderPaid(ctx context.Context, order Order)
}

// SystemService aggregates dependency health for readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// CounterService issues formatted sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// Filters reuse the repository shapes directly.
type (
	ProductListFilter = repositories.ProductListFilter
	OrderListFilter   = repositories.OrderListFilter
)

// AddCartItemCommand adds or merges a product line into the user's cart.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// UpdateCartQuantityCommand sets the quantity of an existing cart line.
// Quantities at or below zero remove the line.
type UpdateCartQuantityCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// RemoveCartItemCommand removes a product line from the cart.
type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

// CartSnapshot freezes the cart's items and total for order creation.
type CartSnapshot struct {
	UserID   string
	Currency string
	Items    []CartItem
	Total    int64
	TakenAt  time.Time
}

// CreateOrderCommand creates an order row plus item rows from a cart snapshot.
type CreateOrderCommand struct {
	UserID   string
	Snapshot CartSnapshot
	Contact  OrderContact
	Shipping *Address
}

// UpdateOrderStatusCommand applies an idempotent status transition.
type UpdateOrderStatusCommand struct {
	OrderID   string
	Status    domain.OrderStatus
	PaymentID *string
}

// SubmitCheckoutCommand starts a checkout for the authenticated user.
type SubmitCheckoutCommand struct {
	UserID   string
	Contact  OrderContact
	Shipping *Address
}

// PaymentSuccessCommand carries the gateway success callback fields.
type PaymentSuccessCommand struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// PaymentCancelCommand reports a dismissed or abandoned payment. UserID is
// the caller's identity; it must match the session owner.
type PaymentCancelCommand struct {
	GatewayOrderID string
	UserID         string
	Reason         string
}

// RefundOrderCommand issues a gateway refund against a captured payment.
// A nil Amount refunds the full order total.
type RefundOrderCommand struct {
	OrderID string
	Amount  *int64
	Reason  string
}

// CheckoutResult reports the settled outcome of a checkout callback.
type CheckoutResult struct {
	Session   CheckoutSession
	Order     Order
	Outcome   domain.CheckoutOutcome
	Duplicate bool
}
