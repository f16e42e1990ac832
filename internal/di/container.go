package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trueskin/api/internal/notifications"
	"github.com/trueskin/api/internal/platform/config"
	"github.com/trueskin/api/internal/repositories"
	"github.com/trueskin/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog       services.CatalogService
	Cart          services.CartService
	Orders        services.OrderService
	Checkout      services.CheckoutService
	Notifications services.NotificationService
	Counters      services.CounterService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option injects the external adapters the service layer depends on. Wiring
// to Razorpay, SMTP, Cloud Storage and Pub/Sub happens in main; tests pass
// fakes or leave options out to skip the dependent services.
type Option func(*containerDeps)

type containerDeps struct {
	gateway   services.PaymentGateway
	sender    notifications.EmailSender
	signer    services.ImageURLSigner
	publisher services.OrderEventPublisher
	build     services.BuildInfo
	clock     func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// WithPaymentGateway installs the payment gateway used by checkout.
func WithPaymentGateway(gateway services.PaymentGateway) Option {
	return func(d *containerDeps) {
		d.gateway = gateway
	}
}

// WithEmailSender installs the email sender backing order notifications.
func WithEmailSender(sender notifications.EmailSender) Option {
	return func(d *containerDeps) {
		d.sender = sender
	}
}

// WithImageURLSigner installs the signer for catalog product images.
func WithImageURLSigner(signer services.ImageURLSigner) Option {
	return func(d *containerDeps) {
		d.signer = signer
	}
}

// WithOrderEventPublisher installs the publisher for order domain events.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(d *containerDeps) {
		d.publisher = publisher
	}
}

// WithBuildInfo records the build metadata surfaced by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(d *containerDeps) {
		d.build = build
	}
}

// WithClock overrides the clock shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(d *containerDeps) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithServiceLogger installs the structured event logger passed to services.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(d *containerDeps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// adapters through options, while tests can supply in-memory registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	deps := containerDeps{
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps containerDeps) (Services, error) {
	var svc Services

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      deps.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Signer:   deps.signer,
		Clock:    deps.clock,
		Logger:   deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Products:        reg.Products(),
		Clock:           deps.clock,
		DefaultCurrency: cfg.Checkout.Currency,
		Logger:          deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Counters:   svc.Counters,
		Clock:      deps.clock,
		Events:     deps.publisher,
		Logger:     deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.sender != nil {
		notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Sender:        deps.sender,
			OperatorEmail: cfg.SMTP.OperatorEmail,
			Logger:        deps.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notificationSvc
	}

	if deps.gateway != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:         svc.Cart,
			Orders:        svc.Orders,
			Sessions:      reg.CheckoutSessions(),
			Gateway:       deps.gateway,
			Notifications: svc.Notifications,
			Clock:         deps.clock,
			Logger:        deps.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            deps.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
