package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/trueskin/api/internal/domain"
	pfirestore "github.com/trueskin/api/internal/platform/firestore"
	"github.com/trueskin/api/internal/platform/pagination"
	"github.com/trueskin/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	orderItemsCollection = "items"
)

// OrderRepository persists order headers with their item rows in an items
// subcollection. Header and item writes are deliberately separate operations
// so the service layer can compensate when item persistence fails.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert writes the order header document.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	doc, err := encodeOrder(order)
	if err != nil {
		return err
	}

	if _, err := r.base.Set(ctx, orderID, doc); err != nil {
		return err
	}
	return nil
}

// InsertItems writes the order's item rows underneath the order document.
func (r *OrderRepository) InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if len(items) == 0 {
		return errors.New("order repository: at least one item is required")
	}

	coll, err := r.itemsCollection(ctx, orderID)
	if err != nil {
		return err
	}

	for i, item := range items {
		itemID := strings.TrimSpace(item.ID)
		if itemID == "" {
			itemID = fmt.Sprintf("line-%03d", i+1)
		}
		doc := orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Position:  i,
		}
		if _, err := coll.Doc(itemID).Set(ctx, doc); err != nil {
			return pfirestore.WrapError("orders.insert_items", err)
		}
	}
	return nil
}

// Delete removes the order header and any item rows already written. Item
// deletion failures are swallowed once the header is gone so a compensating
// rollback never reports success with the header still present.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	if coll, err := r.itemsCollection(ctx, orderID); err == nil {
		iter := coll.Documents(ctx)
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				break
			}
			_, _ = snap.Ref.Delete(ctx)
		}
		iter.Stop()
	}

	if _, err := r.base.Delete(ctx, orderID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	return nil
}

// Update rewrites the order header document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	doc, err := encodeOrder(order)
	if err != nil {
		return err
	}
	if _, err := r.base.Set(ctx, orderID, doc); err != nil {
		return err
	}
	return nil
}

// UpdateStatus applies a status transition as a partial update and returns
// the refreshed order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if update.PaymentID != nil {
		updates = append(updates, firestore.Update{Path: "paymentId", Value: strings.TrimSpace(*update.PaymentID)})
	}
	if update.PaidAt != nil {
		updates = append(updates, firestore.Update{Path: "paidAt", Value: update.PaidAt.UTC()})
	}
	if update.CancelledAt != nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
	}

	if _, err := r.base.Update(ctx, orderID, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

// FindByID loads the order header and its item rows.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	order := decodeOrder(doc.ID, doc.Data)
	items, err := r.listItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// FindByGatewayOrderID resolves the order created against the given gateway
// order id. Exactly one order carries a gateway order id at any time.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return domain.Order{}, errors.New("order repository: gateway order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_gateway_order", status.Error(codes.NotFound, "order not found"))
	}

	order := decodeOrder(docs[0].ID, docs[0].Data)
	items, err := r.listItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// List returns the user's orders newest first with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		createdAt, docID, err := decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{createdAt, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// ListStalePending returns pending orders created before the cutoff, oldest
// first, for the expiry sweeper.
func (r *OrderRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("status", "==", string(domain.OrderStatusPending)).
			Where("createdAt", "<", olderThan.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

func (r *OrderRepository) itemsCollection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(orderItemsCollection), nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	coll, err := r.itemsCollection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("position", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.OrderItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.list_items", err)
		}
		var doc orderItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("order repository: decode item %s: %w", snap.Ref.ID, err)
		}
		items = append(items, domain.OrderItem{
			ID:        snap.Ref.ID,
			OrderID:   orderID,
			ProductID: doc.ProductID,
			Name:      doc.Name,
			UnitPrice: doc.UnitPrice,
			Quantity:  doc.Quantity,
		})
	}
	return items, nil
}

func encodeOrder(order domain.Order) (orderDocument, error) {
	userID := strings.TrimSpace(order.UserID)
	if userID == "" {
		return orderDocument{}, errors.New("order repository: user id is required")
	}

	now := time.Now().UTC()
	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := order.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	doc := orderDocument{
		OrderNumber:    strings.TrimSpace(order.OrderNumber),
		UserID:         userID,
		Status:         string(order.Status),
		Currency:       strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:    order.TotalAmount,
		GatewayOrderID: strings.TrimSpace(order.GatewayOrderID),
		PaymentID:      strings.TrimSpace(order.PaymentID),
		ContactEmail:   strings.TrimSpace(order.Contact.Email),
		ContactName:    strings.TrimSpace(order.Contact.Name),
		ContactPhone:   strings.TrimSpace(order.Contact.Phone),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	if order.CancelledAt != nil {
		cancelledAt := order.CancelledAt.UTC()
		doc.CancelledAt = &cancelledAt
	}
	if order.Shipping != nil {
		doc.Shipping = &orderAddressDocument{
			Line1:      order.Shipping.Line1,
			Line2:      order.Shipping.Line2,
			City:       order.Shipping.City,
			State:      order.Shipping.State,
			PostalCode: order.Shipping.PostalCode,
			Country:    order.Shipping.Country,
		}
	}
	return doc, nil
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:             id,
		OrderNumber:    doc.OrderNumber,
		UserID:         doc.UserID,
		Status:         domain.OrderStatus(doc.Status),
		Currency:       doc.Currency,
		TotalAmount:    doc.TotalAmount,
		GatewayOrderID: doc.GatewayOrderID,
		PaymentID:      doc.PaymentID,
		Contact: domain.OrderContact{
			Email: doc.ContactEmail,
			Name:  doc.ContactName,
			Phone: doc.ContactPhone,
		},
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		PaidAt:      doc.PaidAt,
		CancelledAt: doc.CancelledAt,
	}
	if doc.Shipping != nil {
		order.Shipping = &domain.Address{
			Line1:      doc.Shipping.Line1,
			Line2:      doc.Shipping.Line2,
			City:       doc.Shipping.City,
			State:      doc.Shipping.State,
			PostalCode: doc.Shipping.PostalCode,
			Country:    doc.Shipping.Country,
		}
	}
	return order
}

func encodeOrderToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("malformed token")
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("malformed token")
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok {
		return time.Time{}, "", errors.New("malformed token")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return createdAt.UTC(), docID, nil
}

type orderDocument struct {
	OrderNumber    string                `firestore:"orderNumber,omitempty"`
	UserID         string                `firestore:"userId"`
	Status         string                `firestore:"status"`
	Currency       string                `firestore:"currency"`
	TotalAmount    int64                 `firestore:"totalAmount"`
	GatewayOrderID string                `firestore:"gatewayOrderId,omitempty"`
	PaymentID      string                `firestore:"paymentId,omitempty"`
	ContactEmail   string                `firestore:"contactEmail,omitempty"`
	ContactName    string                `firestore:"contactName,omitempty"`
	ContactPhone   string                `firestore:"contactPhone,omitempty"`
	Shipping       *orderAddressDocument `firestore:"shipping,omitempty"`
	CreatedAt      time.Time             `firestore:"createdAt"`
	UpdatedAt      time.Time             `firestore:"updatedAt"`
	PaidAt         *time.Time            `firestore:"paidAt,omitempty"`
	CancelledAt    *time.Time            `firestore:"cancelledAt,omitempty"`
}

type orderAddressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Position  int    `firestore:"position"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
