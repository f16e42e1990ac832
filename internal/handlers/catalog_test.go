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
	"github.com/trueskin/api/internal/platform/pagination"
	"github.com/trueskin/api/internal/services"
)

func testPageToken(t *testing.T) string {
	t.Helper()
	token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{"prod_0"}})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	return token
}

type stubCatalogService struct {
	listFn func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error)
	getFn  func(ctx context.Context, productID string) (services.Product, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, fmt.Errorf("ListProducts not implemented")
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, fmt.Errorf("GetProduct not implemented")
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func TestCatalogHandlersListProducts(t *testing.T) {
	now := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	var captured services.ProductListFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
			captured = filter
			return domain.CursorPage[services.Product]{
				Items: []services.Product{
					{
						ID:        "prod_heal_pack",
						Name:      "Heal Pack",
						Category:  "moisturiser",
						Price:     304,
						Currency:  "INR",
						ImageURL:  "https://cdn.example.com/heal-pack.jpg?sig=abc",
						InStock:   true,
						CreatedAt: now,
					},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	token := testPageToken(t)
	req := httptest.NewRequest(http.MethodGet, "/products?category=moisturiser&in_stock=true&page_size=10&page_token="+token, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Category == nil || *captured.Category != "moisturiser" {
		t.Fatalf("expected category filter, got %#v", captured.Category)
	}
	if captured.InStock == nil || !*captured.InStock {
		t.Fatalf("expected in_stock filter true")
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != token {
		t.Fatalf("unexpected pagination %#v", captured.Pagination)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 product, got %d", len(resp.Items))
	}
	if resp.Items[0].Price != 304 || resp.Items[0].Currency != "INR" {
		t.Fatalf("unexpected product payload %#v", resp.Items[0])
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("expected next page token tok-2, got %q", resp.NextPageToken)
	}
}

func TestCatalogHandlersListProductsClampsPageSize(t *testing.T) {
	var captured services.ProductListFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
			captured = filter
			return domain.CursorPage[services.Product]{}, nil
		},
	}

	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?page_size=5000", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Pagination.PageSize != maxProductPageSize {
		t.Fatalf("expected page size %d, got %d", maxProductPageSize, captured.Pagination.PageSize)
	}
}

func TestCatalogHandlersListProductsRejectsBadPageParams(t *testing.T) {
	handler := NewCatalogHandlers(&stubCatalogService{})
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	for _, target := range []string{
		"/products?page_size=abc",
		"/products?page_size=0",
		"/products?page_token=!!!invalid!!!",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
	}
}

func TestCatalogHandlersListProductsRejectsBadBool(t *testing.T) {
	handler := NewCatalogHandlers(&stubCatalogService{})
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?in_stock=maybe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCatalogHandlersGetProduct(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			if productID != "prod_heal_pack" {
				t.Fatalf("unexpected product id %q", productID)
			}
			return services.Product{ID: "prod_heal_pack", Name: "Heal Pack", Price: 304, Currency: "INR", InStock: true}, nil
		},
	}

	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_heal_pack", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Product.ID != "prod_heal_pack" || resp.Product.Name != "Heal Pack" {
		t.Fatalf("unexpected product payload %#v", resp.Product)
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: %s", services.ErrCatalogProductNotFound, productID)
		},
	}

	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "product_not_found" {
		t.Fatalf("expected product_not_found error, got %v", body["error"])
	}
}
