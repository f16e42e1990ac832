package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trueskin/api/internal/platform/auth"
	"github.com/trueskin/api/internal/platform/httpx"
	"github.com/trueskin/api/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024

	// A user gets a handful of submit attempts per minute; payment callbacks
	// are never throttled.
	checkoutSubmitLimit  = 5
	checkoutSubmitWindow = time.Minute
)

// CheckoutHandlers exposes checkout submission and payment callback endpoints
// for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newSimpleRateLimiter(checkoutSubmitLimit, checkoutSubmitWindow, nil),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.submit)
	r.Post("/payment/success", h.paymentSuccess)
	r.Post("/payment/cancel", h.paymentCancel)
}

type checkoutSubmitRequest struct {
	Contact  checkoutContactRequest `json:"contact"`
	Shipping *addressRequest        `json:"shipping"`
}

type checkoutContactRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type checkoutSessionResponse struct {
	Session checkoutSessionPayload `json:"session"`
}

type checkoutSessionPayload struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	State          string `json:"state"`
	Outcome        string `json:"outcome,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentID      string `json:"payment_id,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	SettledAt      string `json:"settled_at,omitempty"`
}

type paymentSuccessRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	Signature      string `json:"signature"`
}

type paymentCancelRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason"`
}

type checkoutResultResponse struct {
	Outcome   string                 `json:"outcome"`
	Duplicate bool                   `json:"duplicate,omitempty"`
	Session   checkoutSessionPayload `json:"session"`
	Order     *orderPayload          `json:"order,omitempty"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	var req checkoutSubmitRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	cmd := services.SubmitCheckoutCommand{
		UserID: identity.UID,
		Contact: services.OrderContact{
			Email: strings.TrimSpace(req.Contact.Email),
			Name:  strings.TrimSpace(req.Contact.Name),
			Phone: strings.TrimSpace(req.Contact.Phone),
		},
	}
	if req.Shipping != nil {
		cmd.Shipping = &services.Address{
			Line1:      strings.TrimSpace(req.Shipping.Line1),
			Line2:      strings.TrimSpace(req.Shipping.Line2),
			City:       strings.TrimSpace(req.Shipping.City),
			State:      strings.TrimSpace(req.Shipping.State),
			PostalCode: strings.TrimSpace(req.Shipping.PostalCode),
			Country:    strings.TrimSpace(req.Shipping.Country),
		}
	}

	session, err := h.checkout.Submit(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func (h *CheckoutHandlers) paymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req paymentSuccessRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	result, err := h.checkout.HandleSuccess(ctx, services.PaymentSuccessCommand{
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		PaymentID:      strings.TrimSpace(req.PaymentID),
		Signature:      strings.TrimSpace(req.Signature),
	})
	if err != nil {
		h.writeCallbackError(ctx, w, result, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCheckoutResultResponse(result))
}

func (h *CheckoutHandlers) paymentCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req paymentCancelRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	result, err := h.checkout.HandleCancel(ctx, services.PaymentCancelCommand{
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		UserID:         identity.UID,
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeCallbackError(ctx, w, result, err)
		return
	}

	response := buildCheckoutResultResponse(result)
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *CheckoutHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutNotAuthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAlreadyProcessing):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout is already in progress for this user", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway is unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

// writeCallbackError maps callback failures, attaching the result context the
// service returns alongside terminal verification and settlement errors.
func (h *CheckoutHandlers) writeCallbackError(ctx context.Context, w http.ResponseWriter, result services.CheckoutResult, err error) {
	var statusErr *services.StatusUpdateError
	switch {
	case errors.Is(err, services.ErrCheckoutNotAuthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("verification_failed", "payment signature verification failed", http.StatusBadRequest).
			WithDetails(map[string]any{"outcome": string(result.Outcome)}))
	case errors.As(err, &statusErr):
		httpx.WriteError(ctx, w, httpx.NewError("status_update_failed", "payment verified but order update failed; support will reconcile", http.StatusInternalServerError).
			WithDetails(map[string]any{
				"order_id":   statusErr.OrderID,
				"payment_id": statusErr.PaymentID,
			}))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process payment callback", http.StatusInternalServerError))
	}
}

func buildCheckoutResultResponse(result services.CheckoutResult) checkoutResultResponse {
	response := checkoutResultResponse{
		Outcome:   string(result.Outcome),
		Duplicate: result.Duplicate,
		Session:   buildCheckoutSessionPayload(result.Session),
	}
	if strings.TrimSpace(result.Order.ID) != "" {
		order := buildOrderPayload(result.Order)
		response.Order = &order
	}
	return response
}

func buildCheckoutSessionPayload(session services.CheckoutSession) checkoutSessionPayload {
	payload := checkoutSessionPayload{
		ID:             strings.TrimSpace(session.ID),
		OrderID:        strings.TrimSpace(session.OrderID),
		GatewayOrderID: strings.TrimSpace(session.GatewayOrderID),
		State:          string(session.State),
		Outcome:        string(session.Outcome),
		Amount:         session.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(session.Currency)),
		PaymentID:      strings.TrimSpace(session.PaymentID),
		CreatedAt:      formatTime(session.CreatedAt),
	}
	if session.SettledAt != nil {
		payload.SettledAt = formatTime(*session.SettledAt)
	}
	return payload
}
