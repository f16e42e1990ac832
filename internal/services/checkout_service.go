package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/trueskin/api/internal/domain"
	"github.com/trueskin/api/internal/payments"
	"github.com/trueskin/api/internal/repositories"
)

const checkoutSessionIDPrefix = "cko_"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotAuthenticated indicates the request carries no signed-in user.
	ErrCheckoutNotAuthenticated = errors.New("checkout: not authenticated")
	// ErrCheckoutAlreadyProcessing indicates the user already has a checkout in flight.
	ErrCheckoutAlreadyProcessing = errors.New("checkout: already processing")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutGatewayUnavailable indicates the payment gateway rejected or timed out.
	ErrCheckoutGatewayUnavailable = errors.New("checkout: payment gateway unavailable")
	// ErrCheckoutSessionNotFound indicates no session matches the gateway order id.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutVerificationFailed indicates the payment signature did not verify.
	ErrCheckoutVerificationFailed = errors.New("checkout: payment verification failed")
	// ErrCheckoutStatusUpdateFailed indicates payment succeeded but the order
	// could not be marked paid. The wrapped StatusUpdateError carries the
	// payment id so operators can reconcile manually.
	ErrCheckoutStatusUpdateFailed = errors.New("checkout: status update failed")
	// ErrCheckoutRefundNotAllowed indicates the order is not in a refundable
	// state or carries no captured payment.
	ErrCheckoutRefundNotAllowed = errors.New("checkout: refund not allowed")
)

// StatusUpdateError reports a verified payment whose order record could not
// be updated. The payment went through on the gateway side.
type StatusUpdateError struct {
	OrderID   string
	PaymentID string
	Err       error
}

func (e *StatusUpdateError) Error() string {
	return fmt.Sprintf("checkout: payment %s verified but order %s not marked paid: %v", e.PaymentID, e.OrderID, e.Err)
}

func (e *StatusUpdateError) Unwrap() error {
	return e.Err
}

func (e *StatusUpdateError) Is(target error) bool {
	return target == ErrCheckoutStatusUpdateFailed
}

// PaymentGateway is the slice of the payments provider checkout depends on.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req payments.CreateOrderRequest) (payments.GatewayOrder, error)
	VerifySignature(req payments.VerifyRequest) error
	LookupPayment(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
// Dispatch runs post-settlement side effects off the callback path; it
// defaults to a goroutine and is overridden in tests for determinism.
type CheckoutServiceDeps struct {
	Carts         CartService
	Orders        OrderService
	Sessions      repositories.CheckoutSessionRepository
	Gateway       PaymentGateway
	Notifications NotificationService
	Clock         func() time.Time
	IDGenerator   func() string
	Dispatch      func(func())
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts         CartService
	orders        OrderService
	sessions      repositories.CheckoutSessionRepository
	gateway       PaymentGateway
	notifications NotificationService
	now           func() time.Time
	newID         func() string
	dispatch      func(func())
	logger        func(ctx context.Context, event string, fields map[string]any)

	// inflight guards against concurrent submits from the same user within
	// this process. Cross-instance duplicates are caught by the active
	// session lookup.
	inflight sync.Map
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: session repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	dispatch := deps.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { go fn() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:         deps.Carts,
		orders:        deps.Orders,
		sessions:      deps.Sessions,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		now:           func() time.Time { return clock().UTC() },
		newID:         idGen,
		dispatch:      dispatch,
		logger:        logger,
	}, nil
}

// Submit freezes the cart, creates the local order, opens a gateway order and
// records a session awaiting payment. Only one submit per user is allowed in
// flight. When the gateway rejects the order the local order is marked failed
// rather than deleted so the attempt stays visible. The cart is left intact
// until the payment settles paid, a cancelled or failed payment must not cost
// the customer their cart.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, ErrCheckoutNotAuthenticated
	}

	if _, loaded := s.inflight.LoadOrStore(userID, struct{}{}); loaded {
		return CheckoutSession{}, fmt.Errorf("%w: user %s", ErrCheckoutAlreadyProcessing, userID)
	}
	defer s.inflight.Delete(userID)

	active, err := s.sessions.FindActiveByUser(ctx, userID)
	switch {
	case err == nil:
		return CheckoutSession{}, fmt.Errorf("%w: session %s is %s", ErrCheckoutAlreadyProcessing, active.ID, active.State)
	case !isRepoNotFound(err):
		return CheckoutSession{}, s.translateRepoError(err)
	}

	snapshot, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		return CheckoutSession{}, err
	}

	if err := payments.ValidateAmount(snapshot.Total); err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		UserID:   userID,
		Snapshot: snapshot,
		Contact:  cmd.Contact,
		Shipping: cmd.Shipping,
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, payments.CreateOrderRequest{
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Receipt:  order.ID,
		Notes: map[string]string{
			"orderNumber": order.OrderNumber,
			"userId":      userID,
		},
	})
	if err != nil {
		s.failOrder(ctx, order.ID, "gateway order creation failed")
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutGatewayUnavailable, err)
	}

	if _, err := s.orders.AttachGatewayOrder(ctx, order.ID, gatewayOrder.ID); err != nil {
		s.failOrder(ctx, order.ID, "gateway order attach failed")
		return CheckoutSession{}, err
	}

	now := s.now()
	session := CheckoutSession{
		ID:             checkoutSessionIDPrefix + s.newID(),
		UserID:         userID,
		OrderID:        order.ID,
		GatewayOrderID: gatewayOrder.ID,
		State:          domain.CheckoutStateAwaitingPayment,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Insert(ctx, domain.CheckoutSession(session)); err != nil {
		s.failOrder(ctx, order.ID, "session insert failed")
		return CheckoutSession{}, s.translateRepoError(err)
	}

	s.logger(ctx, "checkout.submitted", map[string]any{
		"user":         userID,
		"order":        order.ID,
		"gatewayOrder": gatewayOrder.ID,
		"amount":       order.TotalAmount,
	})

	return session, nil
}

// HandleSuccess verifies the gateway success callback and settles the
// session. The first callback to settle a session is authoritative, later
// callbacks for the same session are logged and discarded.
func (s *checkoutService) HandleSuccess(ctx context.Context, cmd PaymentSuccessCommand) (CheckoutResult, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if gatewayOrderID == "" || paymentID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: gateway order id and payment id are required", ErrCheckoutInvalidInput)
	}

	session, err := s.loadSession(ctx, gatewayOrderID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if session.Settled() {
		return s.duplicateResult(ctx, session, "success"), nil
	}

	session.State = domain.CheckoutStateVerifying
	session.UpdatedAt = s.now()
	if err := s.sessions.Update(ctx, domain.CheckoutSession(session)); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	if err := s.gateway.VerifySignature(payments.VerifyRequest{
		GatewayOrderID: gatewayOrderID,
		PaymentID:      paymentID,
		Signature:      cmd.Signature,
	}); err != nil {
		s.logger(ctx, "checkout.verification.failed", map[string]any{
			"session":      session.ID,
			"gatewayOrder": gatewayOrderID,
			"payment":      paymentID,
		})
		s.failOrder(ctx, session.OrderID, "signature verification failed")
		settled := s.settleSession(ctx, session, domain.CheckoutOutcomeFailed, paymentID)
		return CheckoutResult{Session: settled, Outcome: domain.CheckoutOutcomeFailed},
			fmt.Errorf("%w: %v", ErrCheckoutVerificationFailed, err)
	}

	order, err := s.orders.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderID:   session.OrderID,
		Status:    domain.OrderStatusPaid,
		PaymentID: valuePtr(paymentID),
	})
	if err != nil {
		// The gateway captured the money. Leave the session in verifying so
		// a retry or an operator can finish the settlement.
		s.logger(ctx, "checkout.status_update.failed", map[string]any{
			"session": session.ID,
			"order":   session.OrderID,
			"payment": paymentID,
			"error":   err.Error(),
		})
		return CheckoutResult{Session: session}, &StatusUpdateError{
			OrderID:   session.OrderID,
			PaymentID: paymentID,
			Err:       err,
		}
	}

	settled := s.settleSession(ctx, session, domain.CheckoutOutcomePaid, paymentID)

	if err := s.carts.ClearCart(ctx, session.UserID); err != nil {
		s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
			"user":  session.UserID,
			"order": order.ID,
			"error": err.Error(),
		})
	}

	if s.notifications != nil {
		notifyCtx := context.WithoutCancel(ctx)
		s.dispatch(func() { s.notifications.NotifyOrderPaid(notifyCtx, order) })
	}

	s.logger(ctx, "checkout.settled", map[string]any{
		"session": session.ID,
		"order":   order.ID,
		"payment": paymentID,
		"outcome": string(domain.CheckoutOutcomePaid),
	})

	return CheckoutResult{Session: settled, Order: order, Outcome: domain.CheckoutOutcomePaid}, nil
}

// HandleCancel settles the session as cancelled after the customer dismissed
// payment; the underlying order is marked failed. Only the session's owner
// may cancel it. Cancelling an already settled session is discarded like any
// other late callback.
func (s *checkoutService) HandleCancel(ctx context.Context, cmd PaymentCancelCommand) (CheckoutResult, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: gateway order id is required", ErrCheckoutInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, ErrCheckoutNotAuthenticated
	}

	session, err := s.loadSession(ctx, gatewayOrderID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if session.UserID != userID {
		// Foreign sessions read as not found.
		return CheckoutResult{}, fmt.Errorf("%w: gateway order %s", ErrCheckoutSessionNotFound, gatewayOrderID)
	}
	if session.Settled() {
		return s.duplicateResult(ctx, session, "cancel"), nil
	}

	order, err := s.orders.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderID: session.OrderID,
		Status:  domain.OrderStatusFailed,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	settled := s.settleSession(ctx, session, domain.CheckoutOutcomeCancelled, "")

	s.logger(ctx, "checkout.cancelled", map[string]any{
		"session": session.ID,
		"order":   order.ID,
		"reason":  strings.TrimSpace(cmd.Reason),
	})

	return CheckoutResult{Session: settled, Order: order, Outcome: domain.CheckoutOutcomeCancelled}, nil
}

// RefundOrder sends a gateway refund for a captured payment. Full refunds
// move the order to refunded; partial refunds leave the status untouched.
func (s *checkoutService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Refund, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Refund{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Refund{}, err
	}
	if order.PaymentID == "" {
		return Refund{}, fmt.Errorf("%w: order %s has no captured payment", ErrCheckoutRefundNotAllowed, orderID)
	}
	if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusProcessing {
		return Refund{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutRefundNotAllowed, orderID, order.Status)
	}

	full := cmd.Amount == nil || *cmd.Amount == order.TotalAmount
	if cmd.Amount != nil && (*cmd.Amount <= 0 || *cmd.Amount > order.TotalAmount) {
		return Refund{}, fmt.Errorf("%w: refund amount %d exceeds order total %d", ErrCheckoutInvalidInput, *cmd.Amount, order.TotalAmount)
	}

	notes := map[string]string{"orderId": order.ID}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		notes["reason"] = reason
	}

	details, err := s.gateway.Refund(ctx, payments.RefundRequest{
		PaymentID: order.PaymentID,
		Amount:    cmd.Amount,
		Notes:     notes,
	})
	if err != nil {
		return Refund{}, fmt.Errorf("%w: %v", ErrCheckoutGatewayUnavailable, err)
	}

	refund := Refund{
		RefundID:  details.RefundID,
		PaymentID: details.PaymentID,
		Amount:    details.Amount,
		Currency:  details.Currency,
		Status:    details.Status,
		CreatedAt: details.CreatedAt,
	}

	if full {
		if _, err := s.orders.UpdateStatus(ctx, UpdateOrderStatusCommand{
			OrderID:   order.ID,
			Status:    domain.OrderStatusRefunded,
			PaymentID: valuePtr(order.PaymentID),
		}); err != nil {
			// The gateway already accepted the refund. Surface the mismatch so
			// an operator can finish the bookkeeping.
			s.logger(ctx, "checkout.refund.status_update.failed", map[string]any{
				"order":   order.ID,
				"refund":  details.RefundID,
				"payment": order.PaymentID,
				"error":   err.Error(),
			})
			return refund, &StatusUpdateError{
				OrderID:   order.ID,
				PaymentID: order.PaymentID,
				Err:       err,
			}
		}
	}

	s.logger(ctx, "checkout.refunded", map[string]any{
		"order":   order.ID,
		"refund":  details.RefundID,
		"payment": order.PaymentID,
		"amount":  details.Amount,
		"full":    full,
	})

	return refund, nil
}

// LookupPayment fetches the gateway's view of the payment attached to an
// order, for support reconciliation.
func (s *checkoutService) LookupPayment(ctx context.Context, orderID string) (PaymentDetails, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentDetails{}, err
	}
	if order.PaymentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: order %s has no payment attached", ErrCheckoutRefundNotAllowed, orderID)
	}

	details, err := s.gateway.LookupPayment(ctx, payments.LookupRequest{PaymentID: order.PaymentID})
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: %v", ErrCheckoutGatewayUnavailable, err)
	}

	return PaymentDetails{
		PaymentID:      details.PaymentID,
		GatewayOrderID: details.GatewayOrderID,
		Status:         string(details.Status),
		Amount:         details.Amount,
		Currency:       details.Currency,
		Method:         details.Method,
		Email:          details.Email,
		Contact:        details.Contact,
		Raw:            details.Raw,
	}, nil
}

func (s *checkoutService) loadSession(ctx context.Context, gatewayOrderID string) (CheckoutSession, error) {
	session, err := s.sessions.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutSession{}, fmt.Errorf("%w: gateway order %s", ErrCheckoutSessionNotFound, gatewayOrderID)
		}
		return CheckoutSession{}, s.translateRepoError(err)
	}
	return session, nil
}

func (s *checkoutService) duplicateResult(ctx context.Context, session CheckoutSession, callback string) CheckoutResult {
	s.logger(ctx, "checkout.callback.duplicate", map[string]any{
		"session":  session.ID,
		"callback": callback,
		"outcome":  string(session.Outcome),
	})
	result := CheckoutResult{Session: session, Outcome: session.Outcome, Duplicate: true}
	if order, err := s.orders.GetOrder(ctx, session.OrderID); err == nil {
		result.Order = order
	}
	return result
}

func (s *checkoutService) settleSession(ctx context.Context, session CheckoutSession, outcome domain.CheckoutOutcome, paymentID string) CheckoutSession {
	now := s.now()
	session.State = domain.CheckoutStateSettled
	session.Outcome = outcome
	session.UpdatedAt = now
	session.SettledAt = &now
	if paymentID != "" {
		session.PaymentID = paymentID
	}
	if err := s.sessions.Update(ctx, domain.CheckoutSession(session)); err != nil {
		s.logger(ctx, "checkout.session.settle.failed", map[string]any{
			"session": session.ID,
			"outcome": string(outcome),
			"error":   err.Error(),
		})
	}
	return session
}

func (s *checkoutService) failOrder(ctx context.Context, orderID string, reason string) {
	if _, err := s.orders.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  domain.OrderStatusFailed,
	}); err != nil {
		s.logger(ctx, "checkout.order.fail_mark.failed", map[string]any{
			"order":  orderID,
			"reason": reason,
			"error":  err.Error(),
		})
	}
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return err
}
