package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/platform/auth"
	"github.com/trueskin/api/internal/services"
)

type stubOrderService struct {
	createFn        func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	attachFn        func(ctx context.Context, orderID, gatewayOrderID string) (services.Order, error)
	updateStatusFn  func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
	getFn           func(ctx context.Context, orderID string) (services.Order, error)
	getForUserFn    func(ctx context.Context, userID, orderID string) (services.Order, error)
	findByGatewayFn func(ctx context.Context, gatewayOrderID string) (services.Order, error)
	listFn          func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	expireFn        func(ctx context.Context, olderThan time.Duration) (int, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, fmt.Errorf("CreateOrder not implemented")
}

func (s *stubOrderService) AttachGatewayOrder(ctx context.Context, orderID, gatewayOrderID string) (services.Order, error) {
	if s.attachFn != nil {
		return s.attachFn(ctx, orderID, gatewayOrderID)
	}
	return services.Order{}, fmt.Errorf("AttachGatewayOrder not implemented")
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, cmd)
	}
	return services.Order{}, fmt.Errorf("UpdateStatus not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, fmt.Errorf("GetOrder not implemented")
}

func (s *stubOrderService) GetOrderForUser(ctx context.Context, userID, orderID string) (services.Order, error) {
	if s.getForUserFn != nil {
		return s.getForUserFn(ctx, userID, orderID)
	}
	return services.Order{}, fmt.Errorf("GetOrderForUser not implemented")
}

func (s *stubOrderService) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (services.Order, error) {
	if s.findByGatewayFn != nil {
		return s.findByGatewayFn(ctx, gatewayOrderID)
	}
	return services.Order{}, fmt.Errorf("FindByGatewayOrderID not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, fmt.Errorf("ListOrders not implemented")
}

func (s *stubOrderService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, olderThan)
	}
	return 0, fmt.Errorf("ExpireStalePending not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func newOrderRequest(t *testing.T, method, target, uid string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items: []services.Order{
					{
						ID:          "ord_1",
						OrderNumber: "TS-2025-000042",
						Status:      domain.OrderStatusPaid,
						Currency:    "INR",
						TotalAmount: 608,
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := newOrderRequest(t, http.MethodGet, "/orders?status=paid,pending&page_size=5", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected filter scoped to user-1, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPaid || captured.Status[1] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filters %#v", captured.Status)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "TS-2025-000042" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
	if resp.Items[0].Total != 608 {
		t.Fatalf("expected total 608, got %d", resp.Items[0].Total)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %q", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := newOrderRequest(t, http.MethodGet, "/orders?status=exploded", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersRequiresAuth(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := newOrderRequest(t, http.MethodGet, "/orders", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		getForUserFn: func(ctx context.Context, userID, orderID string) (services.Order, error) {
			if userID != "user-1" || orderID != "ord_1" {
				t.Fatalf("unexpected lookup %q %q", userID, orderID)
			}
			return paidOrder(now), nil
		},
	}

	router := newOrderRouter(service)
	req := newOrderRequest(t, http.MethodGet, "/orders/ord_1", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "paid" {
		t.Fatalf("unexpected order payload %#v", resp.Order)
	}
	if resp.Order.PaymentID != "pay_42" {
		t.Fatalf("expected payment id pay_42, got %q", resp.Order.PaymentID)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].Total != 608 {
		t.Fatalf("unexpected order items %#v", resp.Order.Items)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	service := &stubOrderService{
		getForUserFn: func(ctx context.Context, userID, orderID string) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderForbidden, orderID)
		},
	}

	router := newOrderRouter(service)
	req := newOrderRequest(t, http.MethodGet, "/orders/ord_other", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_not_found" {
		t.Fatalf("expected order_not_found error, got %v", body["error"])
	}
}
