package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sparehub/sparehub-backend/api/controllers"
	"github.com/sparehub/sparehub-backend/api/middleware"
	"github.com/sparehub/sparehub-backend/internal/admin"
	"github.com/sparehub/sparehub-backend/internal/dispatch"
	"github.com/sparehub/sparehub-backend/internal/locations"
	"github.com/sparehub/sparehub-backend/internal/notifications"
	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/internal/parts"
	"github.com/sparehub/sparehub-backend/internal/payments"
	"github.com/sparehub/sparehub-backend/internal/users"
	"github.com/sparehub/sparehub-backend/pkg/config"
	"github.com/sparehub/sparehub-backend/pkg/db"
	"github.com/sparehub/sparehub-backend/pkg/logger"
	"github.com/sparehub/sparehub-backend/pkg/redis"
)

// Services bundles everything the router mounts.
type Services struct {
	Users         users.Service
	Parts         parts.Service
	Orders        orders.Service
	Payments      payments.Service
	Dispatch      dispatch.Service
	Notifications notifications.Service
	Locations     locations.Service
	Admin         admin.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbClient, redisClient))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", controllers.AuthRegister(svcs.Users, logg))
		r.Post("/login", controllers.AuthLogin(svcs.Users, logg))
		r.With(middleware.Auth(cfg.JWT, logg)).Get("/me", controllers.AuthMe(svcs.Users, logg))
	})

	// Public catalog, no token required.
	r.Route("/api/v1/parts", func(r chi.Router) {
		r.Get("/", controllers.ListParts(svcs.Parts, logg))
		r.Get("/categories", controllers.ListPartCategories(svcs.Parts, logg))
		r.Get("/{partId}", controllers.GetPart(svcs.Parts, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole("vendor", logg))
			r.Get("/parts", controllers.VendorListParts(svcs.Parts, logg))
			r.Post("/parts", controllers.VendorCreatePart(svcs.Parts, logg))
			r.Patch("/parts/{partId}", controllers.VendorUpdatePart(svcs.Parts, logg))
			r.Delete("/parts/{partId}", controllers.VendorDeletePart(svcs.Parts, logg))
			r.Post("/parts/{partId}/restock", controllers.VendorRestockPart(svcs.Parts, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(svcs.Orders, logg))
			r.Get("/", controllers.ListOrders(svcs.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(svcs.Orders, logg))
			r.Post("/{orderId}/status", controllers.UpdateOrderStatus(svcs.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(svcs.Orders, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/initialize", controllers.InitializePayment(svcs.Payments, logg))
			r.Get("/verify/{reference}", controllers.VerifyPayment(svcs.Payments, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svcs.Notifications, logg))
			r.Get("/unread-count", controllers.NotificationsUnreadCount(svcs.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svcs.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svcs.Notifications, logg))
		})

		r.Route("/dispatch", func(r chi.Router) {
			r.Use(middleware.RequireRole("dispatcher", logg))
			r.Post("/orders/{orderId}/claim", controllers.DispatchClaim(svcs.Dispatch, logg))
			r.Put("/location", controllers.UpdateLocation(svcs.Locations, logg))
		})

		r.Get("/locations/dispatchers", controllers.ListDispatcherLocations(svcs.Locations, logg))
		r.Get("/locations/{userId}", controllers.GetDispatcherLocation(svcs.Locations, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", logg))
			r.Get("/users", controllers.AdminListUsers(svcs.Admin, logg))
			r.Get("/stats", controllers.AdminStats(svcs.Admin, logg))
			r.Put("/users/{userId}/status", controllers.AdminSetUserStatus(svcs.Admin, logg))
			r.Post("/orders/{orderId}/reassign", controllers.DispatchReassign(svcs.Dispatch, logg))
		})
	})

	return r
}
