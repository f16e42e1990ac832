package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/repositories"
)

type stubImageSigner struct {
	signFn func(context.Context, string) (string, error)
}

func (s *stubImageSigner) SignImageURL(ctx context.Context, objectPath string) (string, error) {
	if s.signFn != nil {
		return s.signFn(ctx, objectPath)
	}
	return "https://cdn.example.com/" + objectPath + "?sig=abc", nil
}

func newTestCatalogService(t *testing.T, products *stubProductRepo, signer ImageURLSigner) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: products,
		Signer:   signer,
		Clock:    fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestListProductsSignsImageURLs(t *testing.T) {
	products := &stubProductRepo{
		listFn: func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			return domain.CursorPage[domain.Product]{
				Items: []domain.Product{
					{ID: "prod-1", Name: "Heal Pack", ImagePath: "products/heal-pack.jpg"},
					{ID: "prod-2", Name: "Serum"},
				},
			}, nil
		},
	}
	svc := newTestCatalogService(t, products, &stubImageSigner{})

	page, err := svc.ListProducts(context.Background(), ProductListFilter{})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if got := page.Items[0].ImageURL; got != "https://cdn.example.com/products/heal-pack.jpg?sig=abc" {
		t.Fatalf("image url not signed: %s", got)
	}
	if page.Items[1].ImageURL != "" {
		t.Fatalf("product without image path must not be signed, got %s", page.Items[1].ImageURL)
	}
}

func TestListProductsSignerFailureKeepsStoredURL(t *testing.T) {
	products := &stubProductRepo{
		listFn: func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			return domain.CursorPage[domain.Product]{
				Items: []domain.Product{
					{ID: "prod-1", ImagePath: "products/heal-pack.jpg", ImageURL: "https://static.example.com/heal-pack.jpg"},
				},
			}, nil
		},
	}
	signer := &stubImageSigner{
		signFn: func(context.Context, string) (string, error) {
			return "", errors.New("signer unavailable")
		},
	}
	svc := newTestCatalogService(t, products, signer)

	page, err := svc.ListProducts(context.Background(), ProductListFilter{})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if got := page.Items[0].ImageURL; got != "https://static.example.com/heal-pack.jpg" {
		t.Fatalf("stored url must survive signer failure, got %s", got)
	}
}

func TestGetProductNotFound(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepo{}, nil)

	if _, err := svc.GetProduct(context.Background(), "prod-ghost"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetProductRequiresID(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepo{}, nil)

	if _, err := svc.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListProductsRejectsNegativePageSize(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepo{}, nil)

	_, err := svc.ListProducts(context.Background(), ProductListFilter{
		Pagination: domain.Pagination{PageSize: -1},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
