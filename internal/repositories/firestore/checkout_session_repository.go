package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/trueskin/api/internal/domain"
	pfirestore "github.com/trueskin/api/internal/platform/firestore"
	"github.com/trueskin/api/internal/repositories"
)

const checkoutSessionsCollection = "checkoutSessions"

// CheckoutSessionRepository stores checkout sessions keyed by the gateway
// order id the customer pays against, which makes callback lookups a direct
// document read.
type CheckoutSessionRepository struct {
	base *pfirestore.BaseRepository[checkoutSessionDocument]
}

// NewCheckoutSessionRepository constructs a Firestore-backed session repository.
func NewCheckoutSessionRepository(provider *pfirestore.Provider) (*CheckoutSessionRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout session repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[checkoutSessionDocument](provider, checkoutSessionsCollection, nil, nil)
	return &CheckoutSessionRepository{base: base}, nil
}

// Insert writes the session document.
func (r *CheckoutSessionRepository) Insert(ctx context.Context, session domain.CheckoutSession) error {
	return r.write(ctx, session)
}

// Update rewrites the session document.
func (r *CheckoutSessionRepository) Update(ctx context.Context, session domain.CheckoutSession) error {
	return r.write(ctx, session)
}

func (r *CheckoutSessionRepository) write(ctx context.Context, session domain.CheckoutSession) error {
	if r == nil || r.base == nil {
		return errors.New("checkout session repository not initialised")
	}
	gatewayOrderID := strings.TrimSpace(session.GatewayOrderID)
	if gatewayOrderID == "" {
		return errors.New("checkout session repository: gateway order id is required")
	}

	doc := checkoutSessionDocument{
		SessionID: strings.TrimSpace(session.ID),
		UserID:    strings.TrimSpace(session.UserID),
		OrderID:   strings.TrimSpace(session.OrderID),
		State:     string(session.State),
		Outcome:   string(session.Outcome),
		Amount:    session.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(session.Currency)),
		PaymentID: strings.TrimSpace(session.PaymentID),
		CreatedAt: session.CreatedAt.UTC(),
		UpdatedAt: session.UpdatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if session.SettledAt != nil {
		settledAt := session.SettledAt.UTC()
		doc.SettledAt = &settledAt
	}

	if _, err := r.base.Set(ctx, gatewayOrderID, doc); err != nil {
		return err
	}
	return nil
}

// FindByGatewayOrderID loads the session for a gateway callback.
func (r *CheckoutSessionRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("checkout session repository not initialised")
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return domain.CheckoutSession{}, errors.New("checkout session repository: gateway order id is required")
	}

	doc, err := r.base.Get(ctx, gatewayOrderID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeCheckoutSession(doc.ID, doc.Data), nil
}

// FindActiveByUser returns the user's unsettled session when one exists.
func (r *CheckoutSessionRepository) FindActiveByUser(ctx context.Context, userID string) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("checkout session repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CheckoutSession{}, errors.New("checkout session repository: user id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("userId", "==", userID).
			Where("state", "in", []string{
				string(domain.CheckoutStateOrderCreating),
				string(domain.CheckoutStateAwaitingPayment),
				string(domain.CheckoutStateVerifying),
			}).
			Limit(1)
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if len(docs) == 0 {
		return domain.CheckoutSession{}, pfirestore.WrapError("checkout_sessions.find_active", status.Error(codes.NotFound, "no active session"))
	}
	return decodeCheckoutSession(docs[0].ID, docs[0].Data), nil
}

func decodeCheckoutSession(gatewayOrderID string, doc checkoutSessionDocument) domain.CheckoutSession {
	return domain.CheckoutSession{
		ID:             doc.SessionID,
		UserID:         doc.UserID,
		OrderID:        doc.OrderID,
		GatewayOrderID: gatewayOrderID,
		State:          domain.CheckoutState(doc.State),
		Outcome:        domain.CheckoutOutcome(doc.Outcome),
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		PaymentID:      doc.PaymentID,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		SettledAt:      doc.SettledAt,
	}
}

type checkoutSessionDocument struct {
	SessionID string     `firestore:"sessionId"`
	UserID    string     `firestore:"userId"`
	OrderID   string     `firestore:"orderId"`
	State     string     `firestore:"state"`
	Outcome   string     `firestore:"outcome,omitempty"`
	Amount    int64      `firestore:"amount"`
	Currency  string     `firestore:"currency"`
	PaymentID string     `firestore:"paymentId,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
	SettledAt *time.Time `firestore:"settledAt,omitempty"`
}

var _ repositories.CheckoutSessionRepository = (*CheckoutSessionRepository)(nil)
