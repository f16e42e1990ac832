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

const maxCartLineQuantity = 10

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart backend cannot fulfil the request.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartProductNotFound indicates the product being added does not exist.
var ErrCartProductNotFound = errors.New("cart service: product not found")

// ErrCartProductUnavailable indicates the product is out of stock.
var ErrCartProductUnavailable = errors.New("cart service: product out of stock")

// ErrCartEmpty indicates a snapshot was requested for an empty cart.
var ErrCartEmpty = errors.New("cart service: cart is empty")

// CartServiceDeps wires the repositories and defaults for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Products        repositories.ProductRepository
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	repo     repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:     deps.Repository,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}, nil
}

// GetCart loads the user's cart, returning an empty cart when none exists yet.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(uid), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// AddItem merges the product into the cart, bumping the quantity when the
// line already exists. The unit price is captured from the catalog at add
// time and kept until the line is removed.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	quantity := cmd.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	if quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds %d per line", ErrCartInvalidInput, maxCartLineQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return Cart{}, s.translateRepoError(err)
	}
	if !product.InStock {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartProductUnavailable, productID)
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID != productID {
			continue
		}
		next := cart.Items[i].Quantity + quantity
		if next > maxCartLineQuantity {
			next = maxCartLineQuantity
		}
		cart.Items[i].Quantity = next
		merged = true
		break
	}
	if !merged {
		cart.Items = append(cart.Items, CartItem{
			ProductID: productID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  quantity,
			ImageURL:  product.ImageURL,
			AddedAt:   now,
		})
	}
	cart.UpdatedAt = now

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// UpdateQuantity sets the quantity for an existing line. A quantity at or
// below zero removes the line.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartQuantityCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds %d per line", ErrCartInvalidInput, maxCartLineQuantity)
	}

	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{UserID: uid, ProductID: productID})
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	found := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity = cmd.Quantity
			found = true
			break
		}
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: product %s is not in the cart", ErrCartInvalidInput, productID)
	}
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// RemoveItem drops the product line. Removing an absent line is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	filtered := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ProductID == productID {
			removed = true
			continue
		}
		filtered = append(filtered, item)
	}
	if !removed {
		return cart, nil
	}
	cart.Items = filtered
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// ClearCart deletes the cart document. Clearing an absent cart succeeds.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.repo.ClearCart(ctx, uid); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// Snapshot freezes the cart's lines and total for order creation. The total
// fixed here is what the order and the payment gateway will charge even if
// catalog prices change afterwards.
func (s *cartService) Snapshot(ctx context.Context, userID string) (CartSnapshot, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return CartSnapshot{}, err
	}
	if cart.IsEmpty() {
		return CartSnapshot{}, fmt.Errorf("%w: user %s", ErrCartEmpty, cart.UserID)
	}

	items := make([]CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		items = append(items, item)
	}

	return CartSnapshot{
		UserID:   cart.UserID,
		Currency: cart.Currency,
		Items:    items,
		Total:    cart.Total(),
		TakenAt:  s.now(),
	}, nil
}

func (s *cartService) newCart(userID string) Cart {
	return Cart{
		UserID:    userID,
		Currency:  s.currency,
		Items:     []CartItem{},
		UpdatedAt: s.now(),
	}
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
