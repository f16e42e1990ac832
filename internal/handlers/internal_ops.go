package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trueskin/api/internal/platform/httpx"
	"github.com/trueskin/api/internal/services"
)

const (
	defaultStalePendingAge = 30 * time.Minute
	maxStalePendingAge     = 24 * time.Hour
)

// InternalHandlers exposes maintenance endpoints invoked by schedulers rather
// than end users. The router guards this group with request signing middleware.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs the internal maintenance handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:expire-stale", h.expireStaleOrders)
}

type expireStaleResponse struct {
	Expired   int    `json:"expired"`
	OlderThan string `json:"older_than"`
}

func (h *InternalHandlers) expireStaleOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	olderThan := defaultStalePendingAge
	if raw := strings.TrimSpace(r.URL.Query().Get("older_than_minutes")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "older_than_minutes must be a positive integer", http.StatusBadRequest))
			return
		}
		olderThan = time.Duration(minutes) * time.Minute
		if olderThan > maxStalePendingAge {
			olderThan = maxStalePendingAge
		}
	}

	expired, err := h.orders.ExpireStalePending(ctx, olderThan)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, expireStaleResponse{
		Expired:   expired,
		OlderThan: olderThan.String(),
	})
}
