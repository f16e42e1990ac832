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

	"github.com/trueskin/api/internal/platform/auth"
	"github.com/trueskin/api/internal/services"
)

type stubCartService struct {
	getFn      func(ctx context.Context, userID string) (services.Cart, error)
	addFn      func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFn   func(ctx context.Context, cmd services.UpdateCartQuantityCommand) (services.Cart, error)
	removeFn   func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	clearFn    func(ctx context.Context, userID string) error
	snapshotFn func(ctx context.Context, userID string) (services.CartSnapshot, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.Cart{}, fmt.Errorf("GetCart not implemented")
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Cart{}, fmt.Errorf("AddItem not implemented")
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartQuantityCommand) (services.Cart, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Cart{}, fmt.Errorf("UpdateQuantity not implemented")
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.Cart{}, fmt.Errorf("RemoveItem not implemented")
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return fmt.Errorf("ClearCart not implemented")
}

func (s *stubCartService) Snapshot(ctx context.Context, userID string) (services.CartSnapshot, error) {
	if s.snapshotFn != nil {
		return s.snapshotFn(ctx, userID)
	}
	return services.CartSnapshot{}, fmt.Errorf("Snapshot not implemented")
}

var _ services.CartService = (*stubCartService)(nil)

func newCartRequest(t *testing.T, method, target, body, uid string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func healPackCart(now time.Time) services.Cart {
	return services.Cart{
		UserID:   "user-1",
		Currency: "INR",
		Items: []services.CartItem{
			{
				ProductID: "prod_heal_pack",
				Name:      "Heal Pack",
				UnitPrice: 304,
				Quantity:  2,
				AddedAt:   now,
			},
		},
		UpdatedAt: now,
	}
}

func TestCartHandlersGetCartSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getFn: func(ctx context.Context, userID string) (services.Cart, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return healPackCart(now), nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodGet, "/cart", "", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if cacheControl := rr.Header().Get("Cache-Control"); !strings.Contains(cacheControl, "no-store") {
		t.Fatalf("expected Cache-Control no-store, got %q", cacheControl)
	}
	if lastModified := rr.Header().Get("Last-Modified"); lastModified == "" {
		t.Fatalf("expected Last-Modified header")
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.UserID != "user-1" {
		t.Fatalf("expected user id user-1, got %q", resp.Cart.UserID)
	}
	if resp.Cart.Currency != "INR" {
		t.Fatalf("expected currency INR, got %q", resp.Cart.Currency)
	}
	if resp.Cart.Total != 608 {
		t.Fatalf("expected total 608, got %d", resp.Cart.Total)
	}
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].LineTotal != 608 {
		t.Fatalf("unexpected items payload %#v", resp.Cart.Items)
	}
}

func TestCartHandlersGetCartRequiresAuth(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodGet, "/cart", "", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			captured = cmd
			return healPackCart(now), nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodPost, "/cart/items", `{"product_id":"prod_heal_pack","quantity":2}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.ProductID != "prod_heal_pack" || captured.Quantity != 2 {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersAddItemProductNotFound(t *testing.T) {
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: %s", services.ErrCartProductNotFound, cmd.ProductID)
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodPost, "/cart/items", `{"product_id":"prod_missing","quantity":1}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemOutOfStock(t *testing.T) {
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartProductUnavailable
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodPost, "/cart/items", `{"product_id":"prod_heal_pack","quantity":1}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "product_out_of_stock" {
		t.Fatalf("expected product_out_of_stock error, got %v", body["error"])
	}
}

func TestCartHandlersAddItemRejectsInvalidJSON(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodPost, "/cart/items", `{"product_id":`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateQuantityRequiresQuantity(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodPatch, "/cart/items/prod_heal_pack", `{}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateQuantityPassesCommand(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var captured services.UpdateCartQuantityCommand
	service := &stubCartService{
		updateFn: func(ctx context.Context, cmd services.UpdateCartQuantityCommand) (services.Cart, error) {
			captured = cmd
			return healPackCart(now), nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodPatch, "/cart/items/prod_heal_pack", `{"quantity":3}`, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prod_heal_pack" || captured.Quantity != 3 {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := &stubCartService{
		removeFn: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			if cmd.ProductID != "prod_heal_pack" {
				t.Fatalf("unexpected product id %q", cmd.ProductID)
			}
			cart := healPackCart(now)
			cart.Items = nil
			return cart, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodDelete, "/cart/items/prod_heal_pack", "", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Cart.Items) != 0 || resp.Cart.Total != 0 {
		t.Fatalf("expected empty cart, got %#v", resp.Cart)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFn: func(ctx context.Context, userID string) error {
			cleared = true
			return nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodDelete, "/cart", "", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected ClearCart to be invoked")
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	service := &stubCartService{
		getFn: func(ctx context.Context, userID string) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: firestore down", services.ErrCartUnavailable)
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := newCartRequest(t, http.MethodGet, "/cart", "", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
