package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/repositories"
)

var (
	// ErrCatalogRepositoryMissing indicates the repository dependency is absent.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is not configured")
	// ErrCatalogInvalidInput indicates the caller supplied invalid query input.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the requested product does not exist.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
)

// ImageURLSigner produces a time-limited URL for a stored product image.
type ImageURLSigner interface {
	SignImageURL(ctx context.Context, objectPath string) (string, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Signer   ImageURLSigner
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo   repositories.ProductRepository
	signer ImageURLSigner
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:   deps.Products,
		signer: deps.Signer,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	if filter.Pagination.PageSize < 0 {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: page size must not be negative", ErrCatalogInvalidInput)
	}

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, err
	}
	for i := range page.Items {
		s.resolveImageURL(ctx, &page.Items[i])
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrCatalogProductNotFound, productID)
		}
		return Product{}, err
	}
	s.resolveImageURL(ctx, &product)
	return product, nil
}

// resolveImageURL signs the stored image path when a signer is configured.
// Signing failures keep the stored URL, a stale image link beats a failed
// product page.
func (s *catalogService) resolveImageURL(ctx context.Context, product *Product) {
	if s.signer == nil || strings.TrimSpace(product.ImagePath) == "" {
		return
	}
	signed, err := s.signer.SignImageURL(ctx, product.ImagePath)
	if err != nil {
		s.logger(ctx, "catalog.image.sign_failed", map[string]any{
			"product": product.ID,
			"path":    product.ImagePath,
			"error":   err.Error(),
		})
		return
	}
	product.ImageURL = signed
}
