package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/trueskin/api/internal/platform/textutil"
)

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	payments razorpayPaymentAPI
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	Logger    RazorpayLogger
	Clock     func() time.Time
	Clients   *razorpayClients
}

// RazorpayProvider implements the Provider interface using Razorpay APIs.
// Amounts cross this boundary in major currency units; conversion to paise
// happens here and nowhere else.
type RazorpayProvider struct {
	api    razorpayClients
	secret []byte
	clock  func() time.Time
	logger RazorpayLogger
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}
	if keyID == "" && cfg.Clients == nil {
		return nil, errors.New("razorpay: key id is required")
	}

	var clients razorpayClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		rc := razorpay.NewClient(keyID, keySecret)
		clients = razorpayClients{
			orders:   rc.Order,
			payments: rc.Payment,
		}
	}

	if clients.orders == nil || clients.payments == nil {
		return nil, errors.New("razorpay: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		api:    clients,
		secret: []byte(keySecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder opens a gateway order for the given major-unit amount.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return GatewayOrder{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	data := map[string]interface{}{
		"amount":   MinorUnits(req.Amount),
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if notes := textutil.NormalizeStringMap(req.Notes); len(notes) > 0 {
		payload := make(map[string]interface{}, len(notes))
		for k, v := range notes {
			payload[k] = v
		}
		data["notes"] = payload
	}

	body, err := p.api.orders.Create(data, nil)
	if err != nil {
		p.logger(ctx, "razorpay.order.create_failed", map[string]any{
			"amount":   req.Amount,
			"currency": currency,
			"error":    err.Error(),
		})
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: %w", err)
	}

	order := GatewayOrder{
		ID:        stringField(body, "id"),
		Amount:    int64Field(body, "amount"),
		Currency:  stringField(body, "currency"),
		Receipt:   stringField(body, "receipt"),
		Status:    stringField(body, "status"),
		CreatedAt: unixField(body, "created_at"),
		Raw:       body,
	}
	if order.ID == "" {
		return GatewayOrder{}, errors.New("razorpay: order response missing id")
	}

	p.logger(ctx, "razorpay.order.created", map[string]any{
		"gatewayOrderId": order.ID,
		"amount":         order.Amount,
		"currency":       order.Currency,
	})
	return order, nil
}

// VerifySignature checks the callback signature against the shared secret.
// The signed message is the gateway order id and payment id joined with a
// pipe, hex digested with HMAC-SHA256.
func (p *RazorpayProvider) VerifySignature(req VerifyRequest) error {
	if p == nil {
		return errors.New("razorpay: provider is nil")
	}
	gatewayOrderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return fmt.Errorf("%w: missing verification fields", ErrSignatureMismatch)
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// LookupPayment fetches normalised payment details for reconciliation.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: payment id is required")
	}

	body, err := p.api.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: fetch payment %s: %w", paymentID, err)
	}

	details := PaymentDetails{
		PaymentID:      stringField(body, "id"),
		GatewayOrderID: stringField(body, "order_id"),
		Status:         normalizeRazorpayStatus(stringField(body, "status")),
		Amount:         int64Field(body, "amount"),
		Currency:       stringField(body, "currency"),
		Method:         stringField(body, "method"),
		Email:          stringField(body, "email"),
		Contact:        stringField(body, "contact"),
		Raw:            body,
	}
	details.Captured = details.Status == StatusCaptured
	if details.PaymentID == "" {
		details.PaymentID = paymentID
	}
	return details, nil
}

// Refund issues a gateway refund. Amount is in major units; nil refunds in full.
func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (RefundDetails, error) {
	if p == nil {
		return RefundDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return RefundDetails{}, errors.New("razorpay: payment id is required")
	}

	var minor int
	if req.Amount != nil {
		if err := ValidateAmount(*req.Amount); err != nil {
			return RefundDetails{}, err
		}
		minor = int(MinorUnits(*req.Amount))
	}

	data := map[string]interface{}{}
	if notes := textutil.NormalizeStringMap(req.Notes); len(notes) > 0 {
		payload := make(map[string]interface{}, len(notes))
		for k, v := range notes {
			payload[k] = v
		}
		data["notes"] = payload
	}

	body, err := p.api.payments.Refund(paymentID, minor, data, nil)
	if err != nil {
		p.logger(ctx, "razorpay.refund.failed", map[string]any{
			"paymentId": paymentID,
			"error":     err.Error(),
		})
		return RefundDetails{}, fmt.Errorf("razorpay: refund payment %s: %w", paymentID, err)
	}

	refund := RefundDetails{
		RefundID:  stringField(body, "id"),
		PaymentID: stringField(body, "payment_id"),
		Amount:    int64Field(body, "amount"),
		Currency:  stringField(body, "currency"),
		Status:    stringField(body, "status"),
		CreatedAt: unixField(body, "created_at"),
	}
	if refund.PaymentID == "" {
		refund.PaymentID = paymentID
	}

	p.logger(ctx, "razorpay.refund.created", map[string]any{
		"paymentId": paymentID,
		"refundId":  refund.RefundID,
		"amount":    refund.Amount,
	})
	return refund, nil
}

func normalizeRazorpayStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "created":
		return StatusPending
	case "authorized":
		return StatusAuthorized
	case "captured":
		return StatusCaptured
	case "refunded":
		return StatusRefunded
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if value, ok := body[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func int64Field(body map[string]interface{}, key string) int64 {
	if body == nil {
		return 0
	}
	switch value := body[key].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	case json.Number:
		if parsed, err := value.Int64(); err == nil {
			return parsed
		}
	}
	return 0
}

func unixField(body map[string]interface{}, key string) time.Time {
	seconds := int64Field(body, key)
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

var _ Provider = (*RazorpayProvider)(nil)
