package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product describes a catalog entry customers can add to their cart.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       int64
	Currency    string
	ImagePath   string
	ImageURL    string
	InStock     bool
	Featured    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DefaultCurrency is applied when a cart or order omits its currency.
const DefaultCurrency = "INR"

// CartItem stores a single product entry within a cart. UnitPrice is in
// major currency units (whole rupees).
type CartItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	ImageURL  string
	AddedAt   time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	UserID    string
	Currency  string
	Items     []CartItem
	UpdatedAt time.Time
}

// Total returns the cart total in major currency units, summed from the
// current item snapshot.
func (c Cart) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// IsEmpty reports whether the cart holds no purchasable quantity.
func (c Cart) IsEmpty() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return false
		}
	}
	return true
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment completion.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment was verified and captured.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the payment never completed: verification
	// or capture failed, the customer dismissed the payment, or the pending
	// order went stale.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled indicates an operator cancelled the order after it
	// was placed.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusProcessing indicates the order is being prepared for dispatch.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRefunded indicates the captured payment was returned in full.
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderItem mirrors a cart item at the time the order was placed.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
}

// Order captures the order header persisted at checkout. TotalAmount is
// fixed from the cart snapshot at creation and never recomputed.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Status         OrderStatus
	Currency       string
	TotalAmount    int64
	GatewayOrderID string
	PaymentID      string
	Items          []OrderItem
	Contact        OrderContact
	Shipping       *Address
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	CancelledAt    *time.Time
}

// OrderContact stores the customer contact snapshot used for notifications.
type OrderContact struct {
	Email string
	Name  string
	Phone string
}

// Address stores a shipping destination snapshot on an order.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// CheckoutState enumerates the orchestrator states for a checkout session.
type CheckoutState string

const (
	// CheckoutStateIdle is the initial state before a submit is accepted.
	CheckoutStateIdle CheckoutState = "idle"
	// CheckoutStateOrderCreating indicates the local order row is being written.
	CheckoutStateOrderCreating CheckoutState = "order_creating"
	// CheckoutStateAwaitingPayment indicates the gateway order exists and the
	// customer is completing payment.
	CheckoutStateAwaitingPayment CheckoutState = "awaiting_payment"
	// CheckoutStateVerifying indicates a gateway callback is being verified.
	CheckoutStateVerifying CheckoutState = "verifying"
	// CheckoutStateSettled indicates a terminal outcome has been recorded.
	CheckoutStateSettled CheckoutState = "settled"
)

// CheckoutOutcome records the terminal result of a settled checkout.
type CheckoutOutcome string

const (
	// CheckoutOutcomePaid indicates payment was verified and the order is paid.
	CheckoutOutcomePaid CheckoutOutcome = "paid"
	// CheckoutOutcomeFailed indicates verification or settlement failed.
	CheckoutOutcomeFailed CheckoutOutcome = "failed"
	// CheckoutOutcomeCancelled indicates the customer dismissed payment.
	CheckoutOutcomeCancelled CheckoutOutcome = "cancelled"
)

// CheckoutSession tracks a checkout from submit through settlement, keyed by
// the gateway order id the customer pays against.
type CheckoutSession struct {
	ID             string
	UserID         string
	OrderID        string
	GatewayOrderID string
	State          CheckoutState
	Outcome        CheckoutOutcome
	Amount         int64
	Currency       string
	PaymentID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SettledAt      *time.Time
}

// Settled reports whether the session already reached a terminal outcome.
func (s CheckoutSession) Settled() bool {
	return s.State == CheckoutStateSettled
}

// PaymentDetails is the normalized view of a gateway payment record.
type PaymentDetails struct {
	PaymentID      string
	GatewayOrderID string
	Status         string
	Amount         int64
	Currency       string
	Method         string
	Email          string
	Contact        string
	CapturedAt     *time.Time
	Raw            map[string]any
}

// HealthStatus values reported by health endpoints.
const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Refund is the normalized view of a gateway refund record.
type Refund struct {
	RefundID  string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
}
