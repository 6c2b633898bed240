package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/example/immo/internal/config"
	"github.com/example/immo/internal/handlers"
	"github.com/example/immo/internal/middleware"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/services"
)

// Services groups the long-lived payment components shared by handlers and
// the process lifecycle.
type Services struct {
	Monitor      *services.Monitor
	Reservations *services.ReservationService
	Commissions  *services.CommissionService
	Payments     *services.PaymentService
}

// NewServices builds the payment pipeline on top of the given gateway.
func NewServices(db *gorm.DB, cfg *config.Config, gateway services.PaymentGateway, notifier services.Notifier) *Services {
	poller := services.NewPoller(gateway)
	settler := services.NewSettlementService(db)
	monitor := services.NewMonitor(poller, settler, notifier, cfg.Monitor)

	return &Services{
		Monitor:      monitor,
		Reservations: services.NewReservationService(db, gateway, monitor, notifier),
		Commissions:  services.NewCommissionService(db, gateway, monitor, cfg.PlatformFeeRate),
		Payments:     services.NewPaymentService(db, gateway, monitor),
	}
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, svc *Services) {
	authHandler := handlers.NewAuthHandler(db, cfg)
	propertyHandler := handlers.NewPropertyHandler(db)
	reservationHandler := handlers.NewReservationHandler(svc.Reservations)
	commissionHandler := handlers.NewCommissionHandler(svc.Commissions)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, svc.Monitor)
	notificationHandler := handlers.NewNotificationHandler(db)
	healthHandler := handlers.NewHealthHandler(db)

	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	authRequired := middleware.AuthMiddleware(cfg)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// Properties
	properties := api.Group("/properties")
	properties.Get("/", propertyHandler.ListProperties)
	properties.Get("/:id", propertyHandler.GetProperty)
	properties.Post("/", authRequired, middleware.RequireRole(models.RoleAgent, models.RoleAdmin), propertyHandler.CreateProperty)

	// Reservations
	reservations := api.Group("/reservations", authRequired)
	reservations.Post("/", reservationHandler.CreateReservation)
	reservations.Get("/", reservationHandler.ListReservations)
	reservations.Get("/:id", reservationHandler.GetReservation)
	reservations.Post("/:id/pay", reservationHandler.PayReservation)
	reservations.Post("/:id/cancel", reservationHandler.CancelReservation)
	reservations.Post("/:id/refund", reservationHandler.RefundReservation)

	// Commissions
	commissions := api.Group("/commissions", authRequired)
	commissions.Post("/", commissionHandler.CreateCommission)
	commissions.Get("/", commissionHandler.ListCommissions)
	commissions.Get("/:id", commissionHandler.GetCommission)

	// Gateway callback uses a shared secret instead of a user token.
	api.Post("/payments/webhook", middleware.WebhookAuthMiddleware(cfg.WebhookSecret), paymentHandler.Webhook)

	payments := api.Group("/payments", authRequired)
	payments.Get("/sessions/:id", paymentHandler.GetSession)
	payments.Delete("/sessions/:id", paymentHandler.StopSession)
	payments.Get("/transactions/:transId", paymentHandler.GetTransaction)

	// Notifications
	notifications := api.Group("/notifications", authRequired)
	notifications.Get("/", notificationHandler.ListNotifications)
	notifications.Post("/:id/read", notificationHandler.MarkRead)
}
