package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/trueskin/api/internal/notifications"
)

const defaultNotificationTimeout = 10 * time.Second

// emailPolicy strips all markup from customer-provided values before they are
// interpolated into email bodies.
var emailPolicy = bluemonday.StrictPolicy()

var amountPrinter = message.NewPrinter(language.English)

func sanitizeEmailValue(value string) string {
	return strings.TrimSpace(emailPolicy.Sanitize(value))
}

func formatAmount(currency string, amount int64) string {
	return amountPrinter.Sprintf("%s %d", currency, amount)
}

// ErrNotificationInvalidConfig indicates the dispatcher was built without a sender.
var ErrNotificationInvalidConfig = errors.New("notifications: sender is required")

// NotificationServiceDeps wires the email sender and alert routing.
type NotificationServiceDeps struct {
	Sender        notifications.EmailSender
	OperatorEmail string
	StoreName     string
	Timeout       time.Duration
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	sender        notifications.EmailSender
	operatorEmail string
	storeName     string
	timeout       time.Duration
	logger        func(context.Context, string, map[string]any)
}

// NewNotificationService constructs the best-effort order email dispatcher.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Sender == nil {
		return nil, ErrNotificationInvalidConfig
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}

	storeName := strings.TrimSpace(deps.StoreName)
	if storeName == "" {
		storeName = "TrueSkin"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		sender:        deps.Sender,
		operatorEmail: strings.TrimSpace(deps.OperatorEmail),
		storeName:     storeName,
		timeout:       timeout,
		logger:        logger,
	}, nil
}

// NotifyOrderPaid sends the customer confirmation and the operator alert.
// Both sends are best effort, a failed email never fails the checkout that
// triggered it. The sends run under their own deadline detached from the
// request context, the emails should still go out after the response.
func (s *notificationService) NotifyOrderPaid(ctx context.Context, order Order) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if to := strings.TrimSpace(order.Contact.Email); to != "" {
		subject, body := customerOrderPaidEmail(s.storeName, order)
		if _, err := s.sender.SendEmail(sendCtx, to, subject, body); err != nil {
			s.logger(ctx, "notifications.customer.send_failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}

	if s.operatorEmail != "" {
		subject, body := operatorOrderPaidEmail(s.storeName, order)
		if _, err := s.sender.SendEmail(sendCtx, s.operatorEmail, subject, body); err != nil {
			s.logger(ctx, "notifications.operator.send_failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}
}

func customerOrderPaidEmail(storeName string, order Order) (string, string) {
	subject := fmt.Sprintf("%s order %s confirmed", storeName, order.OrderNumber)

	var sb strings.Builder
	name := sanitizeEmailValue(order.Contact.Name)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&sb, "<p>Hi %s,</p>", name)
	fmt.Fprintf(&sb, "<p>Thanks for your order! We received your payment for order <strong>%s</strong>.</p>", order.OrderNumber)
	sb.WriteString("<table><tr><th>Item</th><th>Qty</th><th>Price</th></tr>")
	for _, item := range order.Items {
		fmt.Fprintf(&sb, "<tr><td>%s</td><td>%d</td><td>%s</td></tr>", sanitizeEmailValue(item.Name), item.Quantity, formatAmount(order.Currency, item.UnitPrice))
	}
	sb.WriteString("</table>")
	fmt.Fprintf(&sb, "<p>Total: <strong>%s</strong></p>", formatAmount(order.Currency, order.TotalAmount))
	sb.WriteString("<p>We will email you again when your order ships.</p>")
	fmt.Fprintf(&sb, "<p>The %s team</p>", storeName)

	return subject, sb.String()
}

func operatorOrderPaidEmail(storeName string, order Order) (string, string) {
	subject := fmt.Sprintf("[%s] new paid order %s", storeName, order.OrderNumber)

	var sb strings.Builder
	fmt.Fprintf(&sb, "<p>Order <strong>%s</strong> (%s) was paid.</p>", order.OrderNumber, order.ID)
	fmt.Fprintf(&sb, "<p>Customer: %s &lt;%s&gt;</p>", sanitizeEmailValue(order.Contact.Name), sanitizeEmailValue(order.Contact.Email))
	if order.PaymentID != "" {
		fmt.Fprintf(&sb, "<p>Payment id: %s</p>", order.PaymentID)
	}
	fmt.Fprintf(&sb, "<p>Total: %s, %d line(s)</p>", formatAmount(order.Currency, order.TotalAmount), len(order.Items))
	if order.Shipping != nil {
		fmt.Fprintf(&sb, "<p>Ship to: %s, %s %s, %s</p>",
			sanitizeEmailValue(order.Shipping.Line1),
			sanitizeEmailValue(order.Shipping.City),
			sanitizeEmailValue(order.Shipping.PostalCode),
			sanitizeEmailValue(order.Shipping.Country))
	}

	return subject, sb.String()
}
