package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/repositories"
)

type stubCartRepo struct {
	getFn    func(context.Context, string) (domain.Cart, error)
	upsertFn func(context.Context, domain.Cart) (domain.Cart, error)
	clearFn  func(context.Context, string) error

	upserted []domain.Cart
}

func (s *stubCartRepo) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{}, repoError{message: "cart missing", notFound: true}
}

func (s *stubCartRepo) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	s.upserted = append(s.upserted, cart)
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepo) ClearCart(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

type stubProductRepo struct {
	findFn func(context.Context, string) (domain.Product, error)
	listFn func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, repoError{message: "product missing", notFound: true}
}

func healPackProduct() domain.Product {
	return domain.Product{
		ID:      "prod-heal-pack",
		Name:    "Heal Pack",
		Price:   304,
		InStock: true,
	}
}

func newTestCartService(t *testing.T, carts *stubCartRepo, products *stubProductRepo) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Repository: carts,
		Products:   products,
		Clock:      fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestGetCartReturnsEmptyCartWhenAbsent(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepo{}, &stubProductRepo{})

	cart, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart, got %#v", cart)
	}
	if cart.Currency != "INR" {
		t.Fatalf("expected default currency INR, got %s", cart.Currency)
	}
}

func TestAddItemCapturesCatalogPrice(t *testing.T) {
	carts := &stubCartRepo{}
	products := &stubProductRepo{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			return healPackProduct(), nil
		},
	}
	svc := newTestCartService(t, carts, products)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-heal-pack",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(cart.Items))
	}
	line := cart.Items[0]
	if line.UnitPrice != 304 || line.Quantity != 2 {
		t.Fatalf("unexpected line %#v", line)
	}
	if cart.Total() != 608 {
		t.Fatalf("expected total 608, got %d", cart.Total())
	}
}

func TestAddItemMergesExistingLine(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID:   userID,
				Currency: "INR",
				Items: []domain.CartItem{
					{ProductID: "prod-heal-pack", Name: "Heal Pack", UnitPrice: 304, Quantity: 1},
				},
			}, nil
		},
	}
	products := &stubProductRepo{
		findFn: func(context.Context, string) (domain.Product, error) {
			return healPackProduct(), nil
		},
	}
	svc := newTestCartService(t, carts, products)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-heal-pack",
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("expected merged quantity 2, got %#v", cart.Items)
	}
}

func TestAddItemRejectsUnknownProduct(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepo{}, &stubProductRepo{})

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-ghost",
	})
	if !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestAddItemRejectsOutOfStockProduct(t *testing.T) {
	products := &stubProductRepo{
		findFn: func(context.Context, string) (domain.Product, error) {
			product := healPackProduct()
			product.InStock = false
			return product, nil
		},
	}
	svc := newTestCartService(t, &stubCartRepo{}, products)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-heal-pack",
	})
	if !errors.Is(err, ErrCartProductUnavailable) {
		t.Fatalf("expected out of stock, got %v", err)
	}
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID:   userID,
				Currency: "INR",
				Items: []domain.CartItem{
					{ProductID: "prod-heal-pack", UnitPrice: 304, Quantity: 2},
					{ProductID: "prod-serum", UnitPrice: 150, Quantity: 1},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, carts, &stubProductRepo{})

	cart, err := svc.UpdateQuantity(context.Background(), UpdateCartQuantityCommand{
		UserID:    "user-1",
		ProductID: "prod-heal-pack",
		Quantity:  0,
	})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prod-serum" {
		t.Fatalf("expected heal pack removed, got %#v", cart.Items)
	}
}

func TestUpdateQuantitySetsNewValue(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID:   userID,
				Currency: "INR",
				Items: []domain.CartItem{
					{ProductID: "prod-heal-pack", UnitPrice: 304, Quantity: 1},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, carts, &stubProductRepo{})

	cart, err := svc.UpdateQuantity(context.Background(), UpdateCartQuantityCommand{
		UserID:    "user-1",
		ProductID: "prod-heal-pack",
		Quantity:  3,
	})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", cart.Items[0].Quantity)
	}
}

func TestUpdateQuantityUnknownLineFails(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Currency: "INR"}, nil
		},
	}, &stubProductRepo{})

	_, err := svc.UpdateQuantity(context.Background(), UpdateCartQuantityCommand{
		UserID:    "user-1",
		ProductID: "prod-ghost",
		Quantity:  2,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRemoveItemAbsentLineIsNoOp(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Currency: "INR"}, nil
		},
	}
	svc := newTestCartService(t, carts, &stubProductRepo{})

	if _, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-ghost",
	}); err != nil {
		t.Fatalf("remove absent line must succeed: %v", err)
	}
	if len(carts.upserted) != 0 {
		t.Fatal("no write expected for a no-op removal")
	}
}

func TestSnapshotFreezesTotals(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID:   userID,
				Currency: "INR",
				Items: []domain.CartItem{
					{ProductID: "prod-heal-pack", Name: "Heal Pack", UnitPrice: 304, Quantity: 2},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, carts, &stubProductRepo{})

	snapshot, err := svc.Snapshot(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Total != 608 {
		t.Fatalf("expected total 608, got %d", snapshot.Total)
	}
	if len(snapshot.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(snapshot.Items))
	}
}

func TestSnapshotRejectsEmptyCart(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepo{}, &stubProductRepo{})

	if _, err := svc.Snapshot(context.Background(), "user-1"); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
}

func TestCartServiceTranslatesUnavailableErrors(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{}, repoError{message: "backend down", unavail: true}
		},
	}
	svc := newTestCartService(t, carts, &stubProductRepo{})

	if _, err := svc.GetCart(context.Background(), "user-1"); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
