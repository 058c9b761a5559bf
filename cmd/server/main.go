package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/config"
	"cirsqu_api/internal/handlers"
	"cirsqu_api/internal/logging"
	"cirsqu_api/internal/middleware"
	"cirsqu_api/internal/queue"
	"cirsqu_api/internal/services"
)

var build = "develop"

// realtime is what the server needs from the push notifier
type realtime interface {
	services.Notifier
	handlers.TopicSubscriber
	Wait()
}

func main() {
	cfg, err := config.Load(build)
	if errors.Is(err, config.ErrHelpWanted) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	log.Infof("starting server, build %s\n%s", build, config.String(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.InitDB(cfg.DB, log)
	if err != nil {
		return err
	}
	if err := services.AutoMigrate(db, log); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// Initialize Redis
	rdb, err := services.NewRedisClient(cfg.Redis.URL, log)
	if err != nil {
		return err
	}
	defer rdb.Close()
	rs := services.NewRedsync(rdb)

	// Initialize Firebase. Without it the API still serves public routes and
	// the notification endpoints.
	var (
		verifier middleware.TokenVerifier
		issuer   handlers.SessionIssuer
		notifier realtime = services.NopNotifier{}
	)
	fb, err := services.InitFirebase(ctx, cfg.Firebase.CredentialsPath)
	if err != nil {
		log.WithError(err).Warn("firebase initialization failed, auth and realtime disabled")
	} else {
		verifier = fb.Auth
		issuer = fb.Auth
		notifier = services.NewRealtimeNotifier(fb.Messaging, cfg.Firebase.PushTimeout, log)
	}

	clk := clock.NewSystem()
	store := services.NewStore(db)
	orders := services.NewOrderRepository(store)
	users := services.NewUserRepository(store)
	prices := services.NewPriceRepository(store)
	history := services.NewCallbackHistory(store)
	midtransSvc := services.NewMidtransService(cfg.Midtrans)

	accountSvc := services.NewAccountService(users, clk)
	priceSvc := services.NewPriceService(prices, services.NewRedisCache(rdb, "cirsqu"), cfg.Cache.PriceTTL, log)
	if err := priceSvc.Seed(ctx); err != nil {
		return err
	}
	orderSvc := services.NewOrderService(orders, prices, users, midtransSvc, services.NewRedisLocker(rs, cfg.Checkout.LockTTL), log)
	notificationSvc := services.NewNotificationService(store, orders, users, history, notifier, clk, log)

	relayQueue := queue.New(rdb, cfg.Relay.QueueName, queue.Options{
		MaxAttempts:    cfg.Relay.MaxAttempts,
		InitialBackoff: cfg.Relay.InitialBackoff,
		MaxBackoff:     cfg.Relay.MaxBackoff,
		Clock:          clk,
		Log:            log,
	})

	var signatures handlers.SignatureVerifier
	if cfg.Midtrans.VerifySignature {
		signatures = midtransSvc
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(issuer, accountSvc, cfg.Firebase.SessionTTL, cfg.Web.SecureCookies, log)
	accountHandler := handlers.NewAccountHandler(accountSvc, notifier)
	orderHandler := handlers.NewOrderHandler(orderSvc)
	adminOrderHandler := handlers.NewAdminOrderHandler(orderSvc)
	userHandler := handlers.NewUserHandler(accountSvc)
	priceHandler := handlers.NewPriceHandler(priceSvc)
	notificationHandler := handlers.NewNotificationHandler(handlers.NotificationHandlerConfig{
		Queue:      relayQueue,
		Applier:    notificationSvc,
		Verifier:   signatures,
		RelayToken: cfg.Relay.Token,
		BodyLimit:  cfg.Web.BodyLimit,
		Log:        log,
	})
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"postgres": sqlDB.PingContext,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.JSONErrorHandler(log)
	e.Server.ReadTimeout = cfg.Web.ReadTimeout
	e.Server.WriteTimeout = cfg.Web.WriteTimeout
	e.Server.IdleTimeout = cfg.Web.IdleTimeout

	// Middleware
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	requireAuth := middleware.RequireAuth(verifier, accountSvc)

	// Public routes
	e.GET("/healthz", healthHandler.Health)
	e.GET("/prices", priceHandler.List)
	e.GET("/prices/:slug", priceHandler.GetBySlug)
	e.POST("/auth/login", authHandler.HandleLogin)
	e.POST("/auth/logout", authHandler.HandleLogout)

	// Gateway webhook and the relay's applier endpoint
	e.POST("/orders/notification", notificationHandler.Ingress)
	e.POST("/orders/notification/handling", notificationHandler.Handling)

	// Account routes
	account := e.Group("/account", requireAuth)
	account.GET("/profile", accountHandler.Profile)
	account.POST("/realtime/subscribe", accountHandler.SubscribeRealtime)

	// Order routes
	userOrders := e.Group("/orders", requireAuth)
	userOrders.GET("", orderHandler.List)
	userOrders.GET("/:id", orderHandler.Get)
	userOrders.PUT("/:id/cancel", orderHandler.Cancel)
	userOrders.POST("/checkout/:priceId/:paymentType", orderHandler.Checkout,
		middleware.PerUserRateLimit(cfg.Checkout.RateLimit, cfg.Checkout.RateBurst))

	// Admin routes
	admin := e.Group("/admin", requireAuth, middleware.RequireAdmin())
	admin.GET("/orders", adminOrderHandler.List)
	admin.GET("/orders/:id", adminOrderHandler.Get)
	admin.GET("/orders/user/:userId", adminOrderHandler.ListByUser)
	admin.PUT("/orders/:id/cancel", adminOrderHandler.Cancel)
	admin.DELETE("/orders/:id", adminOrderHandler.Delete)
	admin.GET("/users", userHandler.ListUsers)
	admin.GET("/users/:id", userHandler.GetUser)
	admin.GET("/prices", priceHandler.List)
	admin.PUT("/prices/:id", priceHandler.Update)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Web.Address).Info("server listening")
		if err := e.Start(cfg.Web.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	notifier.Wait()
	return nil
}
