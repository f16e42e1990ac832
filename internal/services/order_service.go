package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventExpired       = "order.expired"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the order belongs to a different user.
	ErrOrderForbidden = errors.New("order: forbidden")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusFailed, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    CounterService
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters CounterService
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrder writes the order header first and the item rows second. When the
// item write fails the header is deleted again so no order row is left without
// its lines. The header delete gets two attempts; a persistent failure is
// logged with the order id for operator cleanup.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Snapshot.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart must contain at least one item", ErrOrderInvalidInput)
	}
	if cmd.Snapshot.Total <= 0 {
		return Order{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Contact.Email) == "" {
		return Order{}, fmt.Errorf("%w: contact email is required", ErrOrderInvalidInput)
	}

	currency := strings.TrimSpace(cmd.Snapshot.Currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	now := s.now()
	orderID := s.nextOrderID()

	order := Order{
		ID:          orderID,
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		Currency:    currency,
		TotalAmount: cmd.Snapshot.Total,
		Items:       buildOrderItems(orderID, cmd.Snapshot.Items),
		Contact:     cmd.Contact,
		Shipping:    cloneAddress(cmd.Shipping),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	if err := s.orders.Insert(ctx, domain.Order(order)); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := s.orders.InsertItems(ctx, order.ID, order.Items); err != nil {
		s.rollbackOrder(ctx, order.ID)
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalAmount": order.TotalAmount,
			"currency":    order.Currency,
			"itemCount":   len(order.Items),
		},
	})

	return order, nil
}

func (s *orderService) rollbackOrder(ctx context.Context, orderID string) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = s.orders.Delete(ctx, orderID); lastErr == nil {
			return
		}
	}
	s.logger(ctx, "order.rollback.failed", map[string]any{
		"order": orderID,
		"error": lastErr.Error(),
	})
}

// AttachGatewayOrder records the gateway order id issued for a pending order.
func (s *orderService) AttachGatewayOrder(ctx context.Context, orderID string, gatewayOrderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return Order{}, fmt.Errorf("%w: gateway order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, orderID, order.Status)
	}
	if order.GatewayOrderID != "" && order.GatewayOrderID != gatewayOrderID {
		return Order{}, fmt.Errorf("%w: order %s already holds gateway order %s", ErrOrderConflict, orderID, order.GatewayOrderID)
	}

	order.GatewayOrderID = gatewayOrderID
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, domain.Order(order)); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// UpdateStatus applies a status transition. Re-applying the current status is
// a no-op that only refreshes updatedAt.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.Status
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	prevStatus := order.Status

	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	update := repositories.OrderStatusUpdate{
		Status:    target,
		PaymentID: cmd.PaymentID,
		UpdatedAt: now,
	}
	switch target {
	case domain.OrderStatusPaid:
		update.PaidAt = &now
	case domain.OrderStatusCancelled:
		update.CancelledAt = &now
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if prevStatus != updated.Status {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(updated.Status),
			OccurredAt:     now,
		})
	}

	return updated, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderForUser(ctx context.Context, userID string, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	return order, nil
}

func (s *orderService) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return Order{}, fmt.Errorf("%w: gateway order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ExpireStalePending marks pending orders older than the cutoff as failed.
// Orders that settled between the scan and the update are skipped.
func (s *orderService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: expiry window must be positive", ErrOrderInvalidInput)
	}

	now := s.now()
	cutoff := now.Add(-olderThan)

	stale, err := s.orders.ListStalePending(ctx, cutoff, 0)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	expired := 0
	for _, order := range stale {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		_, err := s.orders.UpdateStatus(ctx, order.ID, repositories.OrderStatusUpdate{
			Status:    domain.OrderStatusFailed,
			UpdatedAt: now,
		})
		if err != nil {
			s.logger(ctx, "order.expire.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			continue
		}
		expired++
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventExpired,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: string(domain.OrderStatusPending),
			CurrentStatus:  string(domain.OrderStatusFailed),
			OccurredAt:     now,
			Metadata: map[string]any{
				"cutoff": cutoff.Format(time.RFC3339),
			},
		})
	}

	return expired, nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func buildOrderItems(orderID string, items []CartItem) []OrderItem {
	lines := make([]OrderItem, 0, len(items))
	for i, item := range items {
		lines = append(lines, OrderItem{
			ID:        fmt.Sprintf("line-%03d", i+1),
			OrderID:   orderID,
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func valuePtr[T any](v T) *T {
	return &v
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
