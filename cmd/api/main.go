package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/sparehub/sparehub-backend/api/routes"
	"github.com/sparehub/sparehub-backend/internal/admin"
	"github.com/sparehub/sparehub-backend/internal/dispatch"
	"github.com/sparehub/sparehub-backend/internal/inventory"
	"github.com/sparehub/sparehub-backend/internal/locations"
	"github.com/sparehub/sparehub-backend/internal/notifications"
	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/internal/parts"
	"github.com/sparehub/sparehub-backend/internal/payments"
	"github.com/sparehub/sparehub-backend/internal/users"
	"github.com/sparehub/sparehub-backend/pkg/config"
	"github.com/sparehub/sparehub-backend/pkg/db"
	"github.com/sparehub/sparehub-backend/pkg/logger"
	"github.com/sparehub/sparehub-backend/pkg/migrate"
	"github.com/sparehub/sparehub-backend/pkg/outbox"
	"github.com/sparehub/sparehub-backend/pkg/paystack"
	"github.com/sparehub/sparehub-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	svcs, err := buildServices(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, svcs),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Services, error) {
	usersRepo := users.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	ledger := inventory.NewLedger()
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	usersSvc, err := users.NewService(users.ServiceParams{
		DB:             dbClient,
		Repo:           usersRepo,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return routes.Services{}, err
	}

	partsSvc, err := parts.NewService(parts.NewRepository(dbClient.DB()), dbClient, ledger, usersRepo)
	if err != nil {
		return routes.Services{}, err
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		DB:       dbClient,
		Ledger:   ledger,
		Outbox:   outboxSvc,
		UserRepo: usersRepo,
	})
	if err != nil {
		return routes.Services{}, err
	}

	gateway, err := paystack.NewClient(cfg.Paystack, logg)
	if err != nil {
		return routes.Services{}, err
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		OrdersRepo: ordersRepo,
		DB:         dbClient,
		Outbox:     outboxSvc,
		Gateway:    gateway,
	})
	if err != nil {
		return routes.Services{}, err
	}

	dispatchSvc, err := dispatch.NewService(dispatch.ServiceParams{
		OrdersRepo: ordersRepo,
		DB:         dbClient,
		Outbox:     outboxSvc,
		UserRepo:   usersRepo,
	})
	if err != nil {
		return routes.Services{}, err
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		return routes.Services{}, err
	}

	locationsSvc, err := locations.NewService(locations.ServiceParams{
		Store:    redisClient,
		UserRepo: usersRepo,
		TTL:      cfg.Locations.TTL,
	})
	if err != nil {
		return routes.Services{}, err
	}

	adminSvc, err := admin.NewService(admin.ServiceParams{
		Repo:     admin.NewRepository(dbClient.DB()),
		UserRepo: usersRepo,
	})
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Users:         usersSvc,
		Parts:         partsSvc,
		Orders:        ordersSvc,
		Payments:      paymentsSvc,
		Dispatch:      dispatchSvc,
		Notifications: notificationsSvc,
		Locations:     locationsSvc,
		Admin:         adminSvc,
	}, nil
}
