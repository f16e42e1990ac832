package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

type stubOrderAPI struct {
	lastData map[string]interface{}
	response map[string]interface{}
	err      error
}

func (s *stubOrderAPI) Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	s.lastData = data
	return s.response, s.err
}

type stubPaymentAPI struct {
	lastPaymentID string
	lastAmount    int
	fetchResponse map[string]interface{}
	refundBody    map[string]interface{}
	err           error
}

func (s *stubPaymentAPI) Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	s.lastPaymentID = paymentID
	return s.fetchResponse, s.err
}

func (s *stubPaymentAPI) Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	s.lastPaymentID = paymentID
	s.lastAmount = amount
	return s.refundBody, s.err
}

func newTestProvider(t *testing.T, orders *stubOrderAPI, paymentsAPI *stubPaymentAPI) *RazorpayProvider {
	t.Helper()
	if orders == nil {
		orders = &stubOrderAPI{}
	}
	if paymentsAPI == nil {
		paymentsAPI = &stubPaymentAPI{}
	}
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{
		KeySecret: "test_secret",
		Clock:     func() time.Time { return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC) },
		Clients:   &razorpayClients{orders: orders, payments: paymentsAPI},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func signPayment(secret, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCreateOrderConvertsToPaise(t *testing.T) {
	orders := &stubOrderAPI{response: map[string]interface{}{
		"id":         "order_abc123",
		"amount":     float64(60800),
		"currency":   "INR",
		"receipt":    "ord_001",
		"status":     "created",
		"created_at": float64(1709294400),
	}}
	provider := newTestProvider(t, orders, nil)

	order, err := provider.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:   608,
		Currency: "INR",
		Receipt:  "ord_001",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if got := orders.lastData["amount"]; got != int64(60800) {
		t.Fatalf("expected 60800 paise sent to gateway, got %v", got)
	}
	if order.ID != "order_abc123" {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if order.Amount != 60800 {
		t.Fatalf("unexpected minor amount %d", order.Amount)
	}
	if order.CreatedAt.IsZero() {
		t.Fatalf("expected created_at parsed")
	}
}

func TestCreateOrderRejectsOutOfRangeAmounts(t *testing.T) {
	provider := newTestProvider(t, nil, nil)

	for _, amount := range []int64{0, -1, 100001} {
		_, err := provider.CreateOrder(context.Background(), CreateOrderRequest{Amount: amount, Currency: "INR"})
		if !errors.Is(err, ErrAmountOutOfRange) {
			t.Fatalf("amount %d: expected ErrAmountOutOfRange, got %v", amount, err)
		}
	}
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	orders := &stubOrderAPI{err: errors.New("gateway down")}
	provider := newTestProvider(t, orders, nil)

	_, err := provider.CreateOrder(context.Background(), CreateOrderRequest{Amount: 100, Currency: "INR"})
	if err == nil {
		t.Fatalf("expected error from gateway")
	}
}

func TestVerifySignature(t *testing.T) {
	provider := newTestProvider(t, nil, nil)

	valid := signPayment("test_secret", "order_abc123", "pay_xyz789")
	if err := provider.VerifySignature(VerifyRequest{
		GatewayOrderID: "order_abc123",
		PaymentID:      "pay_xyz789",
		Signature:      valid,
	}); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	if err := provider.VerifySignature(VerifyRequest{
		GatewayOrderID: "order_abc123",
		PaymentID:      "pay_xyz789",
		Signature:      "deadbeef",
	}); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	// Signature over swapped ids must not verify.
	swapped := signPayment("test_secret", "pay_xyz789", "order_abc123")
	if err := provider.VerifySignature(VerifyRequest{
		GatewayOrderID: "order_abc123",
		PaymentID:      "pay_xyz789",
		Signature:      swapped,
	}); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for swapped message, got %v", err)
	}

	if err := provider.VerifySignature(VerifyRequest{}); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for empty request, got %v", err)
	}
}

func TestLookupPaymentNormalisesStatus(t *testing.T) {
	paymentsAPI := &stubPaymentAPI{fetchResponse: map[string]interface{}{
		"id":       "pay_xyz789",
		"order_id": "order_abc123",
		"status":   "captured",
		"amount":   float64(60800),
		"currency": "INR",
		"method":   "upi",
		"email":    "customer@example.com",
		"contact":  "+911234567890",
	}}
	provider := newTestProvider(t, nil, paymentsAPI)

	details, err := provider.LookupPayment(context.Background(), LookupRequest{PaymentID: "pay_xyz789"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Status != StatusCaptured {
		t.Fatalf("expected captured, got %q", details.Status)
	}
	if !details.Captured {
		t.Fatalf("expected captured flag set")
	}
	if details.GatewayOrderID != "order_abc123" {
		t.Fatalf("unexpected gateway order id %q", details.GatewayOrderID)
	}
	if paymentsAPI.lastPaymentID != "pay_xyz789" {
		t.Fatalf("unexpected payment id sent: %q", paymentsAPI.lastPaymentID)
	}
}

func TestRefundSendsMinorUnits(t *testing.T) {
	paymentsAPI := &stubPaymentAPI{refundBody: map[string]interface{}{
		"id":         "rfnd_001",
		"payment_id": "pay_xyz789",
		"amount":     float64(30400),
		"currency":   "INR",
		"status":     "processed",
		"created_at": float64(1709294400),
	}}
	provider := newTestProvider(t, nil, paymentsAPI)

	amount := int64(304)
	refund, err := provider.Refund(context.Background(), RefundRequest{PaymentID: "pay_xyz789", Amount: &amount})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if paymentsAPI.lastAmount != 30400 {
		t.Fatalf("expected 30400 paise sent, got %d", paymentsAPI.lastAmount)
	}
	if refund.RefundID != "rfnd_001" {
		t.Fatalf("unexpected refund id %q", refund.RefundID)
	}
}

func TestNormalizeRazorpayStatus(t *testing.T) {
	cases := map[string]Status{
		"created":    StatusPending,
		"authorized": StatusAuthorized,
		"captured":   StatusCaptured,
		"refunded":   StatusRefunded,
		"failed":     StatusFailed,
		"unknown":    StatusPending,
	}
	for raw, want := range cases {
		if got := normalizeRazorpayStatus(raw); got != want {
			t.Fatalf("status %q: expected %q, got %q", raw, want, got)
		}
	}
}
