package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusAuthorized indicates the gateway holds an authorization that is not yet captured.
	StatusAuthorized Status = "authorized"
	// StatusCaptured indicates the gateway reports the payment as successfully captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// Order amounts are expressed in major currency units and bounded before any
// gateway call. The bounds match the storefront's checkout limits.
const (
	MinOrderAmount int64 = 1
	MaxOrderAmount int64 = 100000
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrAmountOutOfRange is returned when an order amount falls outside the accepted bounds.
	ErrAmountOutOfRange = errors.New("payments: amount out of range")
	// ErrSignatureMismatch is returned when a payment signature fails verification.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
)

// ValidateAmount checks the major-unit amount against the accepted bounds.
func ValidateAmount(amount int64) error {
	if amount < MinOrderAmount || amount > MaxOrderAmount {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, amount, MinOrderAmount, MaxOrderAmount)
	}
	return nil
}

// MinorUnits converts a major-unit amount to the gateway's smallest unit
// (paise for INR).
func MinorUnits(amount int64) int64 {
	return amount * 100
}

// CreateOrderRequest captures the payload required to open a gateway order.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder represents the gateway order the customer pays against.
type GatewayOrder struct {
	ID        string
	Provider  string
	Amount    int64
	Currency  string
	Receipt   string
	Status    string
	CreatedAt time.Time
	Raw       map[string]any
}

// VerifyRequest carries the callback fields checked against the shared secret.
type VerifyRequest struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// LookupRequest fetches gateway payment details for reconciliation.
type LookupRequest struct {
	PaymentID string
}

// RefundRequest defines a gateway refund attempt. A nil Amount refunds in full.
type RefundRequest struct {
	PaymentID string
	Amount    *int64
	Notes     map[string]string
}

// PaymentDetails normalises gateway specific fields for storage.
type PaymentDetails struct {
	Provider       string
	PaymentID      string
	GatewayOrderID string
	Status         Status
	Amount         int64
	Currency       string
	Method         string
	Email          string
	Contact        string
	Captured       bool
	Raw            map[string]any
}

// RefundDetails normalises gateway refund records.
type RefundDetails struct {
	Provider  string
	RefundID  string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
}

// Provider defines the contract for gateway adapters to implement. Adapters
// own the major-to-minor unit conversion; callers always pass major units.
type Provider interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error)
	VerifySignature(req VerifyRequest) error
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (RefundDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder delegates to the resolved provider.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req CreateOrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifySignature delegates to the resolved provider.
func (m *Manager) VerifySignature(paymentCtx PaymentContext, req VerifyRequest) error {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return err
	}
	return provider.VerifySignature(req)
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundDetails{}, err
	}
	return provider.Refund(ctx, req)
}

// Bound returns a Provider view of the manager pinned to the given payment
// context, for callers that do not select providers per call.
func (m *Manager) Bound(paymentCtx PaymentContext) Provider {
	return boundProvider{manager: m, paymentCtx: paymentCtx}
}

type boundProvider struct {
	manager    *Manager
	paymentCtx PaymentContext
}

func (b boundProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	return b.manager.CreateOrder(ctx, b.paymentCtx, req)
}

func (b boundProvider) VerifySignature(req VerifyRequest) error {
	return b.manager.VerifySignature(b.paymentCtx, req)
}

func (b boundProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	return b.manager.LookupPayment(ctx, b.paymentCtx, req)
}

func (b boundProvider) Refund(ctx context.Context, req RefundRequest) (RefundDetails, error) {
	return b.manager.Refund(ctx, b.paymentCtx, req)
}
