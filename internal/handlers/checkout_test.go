package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/platform/auth"
	"github.com/trueskin/api/internal/services"
)

type stubCheckoutService struct {
	submitFn  func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error)
	successFn func(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error)
	cancelFn  func(ctx context.Context, cmd services.PaymentCancelCommand) (services.CheckoutResult, error)
	refundFn  func(ctx context.Context, cmd services.RefundOrderCommand) (services.Refund, error)
	lookupFn  func(ctx context.Context, orderID string) (services.PaymentDetails, error)
}

func (s *stubCheckoutService) Submit(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.CheckoutSession{}, fmt.Errorf("Submit not implemented")
}

func (s *stubCheckoutService) HandleSuccess(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error) {
	if s.successFn != nil {
		return s.successFn(ctx, cmd)
	}
	return services.CheckoutResult{}, fmt.Errorf("HandleSuccess not implemented")
}

func (s *stubCheckoutService) HandleCancel(ctx context.Context, cmd services.PaymentCancelCommand) (services.CheckoutResult, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.CheckoutResult{}, fmt.Errorf("HandleCancel not implemented")
}

func (s *stubCheckoutService) RefundOrder(ctx context.Context, cmd services.RefundOrderCommand) (services.Refund, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Refund{}, fmt.Errorf("RefundOrder not implemented")
}

func (s *stubCheckoutService) LookupPayment(ctx context.Context, orderID string) (services.PaymentDetails, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, orderID)
	}
	return services.PaymentDetails{}, fmt.Errorf("LookupPayment not implemented")
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func newCheckoutRouter(service services.CheckoutService) chi.Router {
	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)
	return router
}

func newCheckoutRequest(t *testing.T, method, target, body, uid string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func awaitingPaymentSession(now time.Time) services.CheckoutSession {
	return services.CheckoutSession{
		ID:             "cko_1",
		UserID:         "user-1",
		OrderID:        "ord_1",
		GatewayOrderID: "rzp_order_1",
		State:          domain.CheckoutStateAwaitingPayment,
		Amount:         608,
		Currency:       "INR",
		CreatedAt:      now,
	}
}

func paidOrder(now time.Time) services.Order {
	paidAt := now
	return services.Order{
		ID:             "ord_1",
		OrderNumber:    "TS-2025-000042",
		UserID:         "user-1",
		Status:         domain.OrderStatusPaid,
		Currency:       "INR",
		TotalAmount:    608,
		GatewayOrderID: "rzp_order_1",
		PaymentID:      "pay_42",
		Items: []services.OrderItem{
			{ID: "line-001", OrderID: "ord_1", ProductID: "prod_heal_pack", Name: "Heal Pack", UnitPrice: 304, Quantity: 2},
		},
		Contact:   services.OrderContact{Email: "customer@example.com", Name: "Asha"},
		CreatedAt: now,
		UpdatedAt: now,
		PaidAt:    &paidAt,
	}
}

func TestCheckoutHandlersSubmitSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var captured services.SubmitCheckoutCommand
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error) {
			captured = cmd
			return awaitingPaymentSession(now), nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"contact":{"email":"customer@example.com","name":"Asha","phone":"+911234567890"},"shipping":{"line1":"12 MG Road","city":"Bengaluru","state":"KA","postal_code":"560001","country":"IN"}}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected user id user-1, got %q", captured.UserID)
	}
	if captured.Contact.Email != "customer@example.com" {
		t.Fatalf("unexpected contact %#v", captured.Contact)
	}
	if captured.Shipping == nil || captured.Shipping.City != "Bengaluru" {
		t.Fatalf("unexpected shipping %#v", captured.Shipping)
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Session.GatewayOrderID != "rzp_order_1" {
		t.Fatalf("expected gateway order id, got %q", resp.Session.GatewayOrderID)
	}
	if resp.Session.State != string(domain.CheckoutStateAwaitingPayment) {
		t.Fatalf("expected awaiting_payment state, got %q", resp.Session.State)
	}
	if resp.Session.Amount != 608 {
		t.Fatalf("expected amount 608, got %d", resp.Session.Amount)
	}
}

func TestCheckoutHandlersSubmitRequiresAuth(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})
	req := newCheckoutRequest(t, http.MethodPost, "/checkout", `{}`, "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCheckoutHandlersSubmitAlreadyProcessing(t *testing.T) {
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.ErrCheckoutAlreadyProcessing
		},
	}

	router := newCheckoutRouter(service)
	req := newCheckoutRequest(t, http.MethodPost, "/checkout", `{"contact":{"email":"a@b.c"}}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "checkout_in_progress" {
		t.Fatalf("expected checkout_in_progress error, got %v", body["error"])
	}
}

func TestCheckoutHandlersSubmitGatewayUnavailable(t *testing.T) {
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, fmt.Errorf("%w: connect timeout", services.ErrCheckoutGatewayUnavailable)
		},
	}

	router := newCheckoutRouter(service)
	req := newCheckoutRequest(t, http.MethodPost, "/checkout", `{"contact":{"email":"a@b.c"}}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestCheckoutHandlersSubmitEmptyCart(t *testing.T) {
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.ErrCartEmpty
		},
	}

	router := newCheckoutRouter(service)
	req := newCheckoutRequest(t, http.MethodPost, "/checkout", `{"contact":{"email":"a@b.c"}}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "cart_empty" {
		t.Fatalf("expected cart_empty error, got %v", body["error"])
	}
}

func TestCheckoutHandlersSubmitRateLimited(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := &stubCheckoutService{
		submitFn: func(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutSession, error) {
			return awaitingPaymentSession(now), nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"contact":{"email":"a@b.c"}}`

	for i := 0; i < checkoutSubmitLimit; i++ {
		req := newCheckoutRequest(t, http.MethodPost, "/checkout", body, "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected status 201, got %d", i+1, rr.Code)
		}
	}

	req := newCheckoutRequest(t, http.MethodPost, "/checkout", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestCheckoutHandlersPaymentSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	var captured services.PaymentSuccessCommand
	service := &stubCheckoutService{
		successFn: func(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error) {
			captured = cmd
			session := awaitingPaymentSession(now)
			session.State = domain.CheckoutStateSettled
			session.Outcome = domain.CheckoutOutcomePaid
			session.PaymentID = "pay_42"
			return services.CheckoutResult{
				Session: session,
				Order:   paidOrder(now),
				Outcome: domain.CheckoutOutcomePaid,
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1","payment_id":"pay_42","signature":"deadbeef"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/success", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.GatewayOrderID != "rzp_order_1" || captured.PaymentID != "pay_42" || captured.Signature != "deadbeef" {
		t.Fatalf("unexpected command %#v", captured)
	}

	var resp checkoutResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Outcome != string(domain.CheckoutOutcomePaid) {
		t.Fatalf("expected paid outcome, got %q", resp.Outcome)
	}
	if resp.Order == nil || resp.Order.Status != string(domain.OrderStatusPaid) {
		t.Fatalf("expected paid order payload, got %#v", resp.Order)
	}
	if resp.Order.Total != 608 {
		t.Fatalf("expected order total 608, got %d", resp.Order.Total)
	}
}

func TestCheckoutHandlersPaymentSuccessVerificationFailed(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	service := &stubCheckoutService{
		successFn: func(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error) {
			session := awaitingPaymentSession(now)
			session.State = domain.CheckoutStateSettled
			session.Outcome = domain.CheckoutOutcomeFailed
			return services.CheckoutResult{
				Session: session,
				Outcome: domain.CheckoutOutcomeFailed,
			}, services.ErrCheckoutVerificationFailed
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1","payment_id":"pay_42","signature":"bad"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/success", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if payload["error"] != "verification_failed" {
		t.Fatalf("expected verification_failed error, got %v", payload["error"])
	}
	if payload["outcome"] != string(domain.CheckoutOutcomeFailed) {
		t.Fatalf("expected failed outcome in details, got %v", payload["outcome"])
	}
}

func TestCheckoutHandlersPaymentSuccessStatusUpdateFailed(t *testing.T) {
	service := &stubCheckoutService{
		successFn: func(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.StatusUpdateError{
				OrderID:   "ord_1",
				PaymentID: "pay_42",
				Err:       fmt.Errorf("firestore write failed"),
			}
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1","payment_id":"pay_42","signature":"deadbeef"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/success", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if payload["error"] != "status_update_failed" {
		t.Fatalf("expected status_update_failed error, got %v", payload["error"])
	}
	if payload["payment_id"] != "pay_42" {
		t.Fatalf("expected payment id in details, got %v", payload["payment_id"])
	}
	if payload["order_id"] != "ord_1" {
		t.Fatalf("expected order id in details, got %v", payload["order_id"])
	}
}

func TestCheckoutHandlersPaymentSuccessDuplicate(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	service := &stubCheckoutService{
		successFn: func(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error) {
			session := awaitingPaymentSession(now)
			session.State = domain.CheckoutStateSettled
			session.Outcome = domain.CheckoutOutcomePaid
			session.PaymentID = "pay_42"
			return services.CheckoutResult{
				Session:   session,
				Order:     paidOrder(now),
				Outcome:   domain.CheckoutOutcomePaid,
				Duplicate: true,
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1","payment_id":"pay_43","signature":"deadbeef"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/success", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp checkoutResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("expected duplicate flag")
	}
	if resp.Session.PaymentID != "pay_42" {
		t.Fatalf("expected first payment id to win, got %q", resp.Session.PaymentID)
	}
}

func TestCheckoutHandlersPaymentCancel(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	var captured services.PaymentCancelCommand
	service := &stubCheckoutService{
		cancelFn: func(ctx context.Context, cmd services.PaymentCancelCommand) (services.CheckoutResult, error) {
			captured = cmd
			session := awaitingPaymentSession(now)
			session.State = domain.CheckoutStateSettled
			session.Outcome = domain.CheckoutOutcomeCancelled
			return services.CheckoutResult{
				Session: session,
				Outcome: domain.CheckoutOutcomeCancelled,
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1","reason":"modal dismissed"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/cancel", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.GatewayOrderID != "rzp_order_1" || captured.Reason != "modal dismissed" {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("caller identity not forwarded, got %q", captured.UserID)
	}

	var resp checkoutResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Outcome != string(domain.CheckoutOutcomeCancelled) {
		t.Fatalf("expected cancelled outcome, got %q", resp.Outcome)
	}
}

func TestCheckoutHandlersPaymentCancelRequiresAuth(t *testing.T) {
	called := false
	service := &stubCheckoutService{
		cancelFn: func(context.Context, services.PaymentCancelCommand) (services.CheckoutResult, error) {
			called = true
			return services.CheckoutResult{}, nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/cancel", body, "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if called {
		t.Fatal("service must not be invoked without a signed-in user")
	}
}

func TestCheckoutHandlersPaymentCancelForeignSession(t *testing.T) {
	service := &stubCheckoutService{
		cancelFn: func(_ context.Context, cmd services.PaymentCancelCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, fmt.Errorf("%w: gateway order %s", services.ErrCheckoutSessionNotFound, cmd.GatewayOrderID)
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_order_1"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/cancel", body, "user-2")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCheckoutHandlersPaymentSuccessSessionNotFound(t *testing.T) {
	service := &stubCheckoutService{
		successFn: func(ctx context.Context, cmd services.PaymentSuccessCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, fmt.Errorf("%w: %s", services.ErrCheckoutSessionNotFound, cmd.GatewayOrderID)
		},
	}

	router := newCheckoutRouter(service)
	body := `{"gateway_order_id":"rzp_missing","payment_id":"pay_1","signature":"sig"}`
	req := newCheckoutRequest(t, http.MethodPost, "/checkout/payment/success", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
