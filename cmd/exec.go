package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventmart/config"
	"eventmart/internal/gateway"
	"eventmart/internal/handlers"
	"eventmart/internal/repository"
	"eventmart/internal/services"
	"eventmart/monitoring"
	"eventmart/security"
	"eventmart/utils"

	_ "eventmart/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// PubNub publisher for user-facing settlement notifications.
	var notifier services.Notifier = services.NopNotifier{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	netpay, err := gateway.New(ctx, &cfg.NetPay)
	if err != nil {
		return err
	}

	unitRepo := repository.NewUnitRepo(app)
	txRepo := repository.NewTransactionRepo(app)
	walletRepo := repository.NewWalletRepo(app)
	rewardRepo := repository.NewRewardRepo(app)

	inventoryService := services.NewInventoryService(unitRepo, redisClient, cfg.PaymentTimeout)
	rewardService := services.NewRewardService(cfg.CashbackRate, cfg.WheelSegments, txRepo, walletRepo, rewardRepo, app)
	walletService := services.NewWalletService(walletRepo)
	settlementService := services.NewSettlementService(
		inventoryService, txRepo, walletRepo, netpay, rewardService,
		notifier, app, redisClient, cfg,
	)

	reservationHandler := handlers.NewReservationHandler(app, settlementService)
	callbackHandler := handlers.NewCallbackHandler(app, settlementService, netpay)
	walletHandler := handlers.NewWalletHandler(app, walletService)
	rewardHandler := handlers.NewRewardHandler(app, rewardService)
	adminHandler := handlers.NewAdminHandler(app, settlementService, walletService)

	rateLimiter := security.NewRateLimiter(redisClient)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Provider notices can also arrive over the PubNub channel; feed them
	// into the same settlement path as the HTTP webhook.
	noticeCh := make(chan *gateway.CallbackNotice, 16)
	netpay.SetNoticeChannel(noticeCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case notice := <-noticeCh:
				if _, err := settlementService.HandleCallback(ctx, notice); err != nil {
					slog.Error("pubnub callback handling failed", "order", notice.ProviderOrderID, "error", err)
				}
			}
		}
	}()

	go settlementService.RetryStuckSettlements(ctx)
	go settlementService.ExpirePendingPayments(ctx)

	if cfg.EnableMetrics {
		go monitoring.NewCollector(redisClient).Run(ctx)
	}

	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Catalog and reservation endpoints
		e.Router.GET("/api/v1/units", reservationHandler.ListUnits)
		e.Router.POST("/api/v1/reserve", reservationHandler.Reserve).
			BindFunc(rateLimiter.Limit("reserve", 30, time.Minute))
		e.Router.GET("/api/v1/transactions/{transactionId}", reservationHandler.GetTransaction)

		// Provider webhook
		e.Router.POST("/api/v1/payment/callback", callbackHandler.Confirm).
			BindFunc(rateLimiter.Limit("callback", 300, time.Minute))

		// Wallet endpoints
		e.Router.GET("/api/v1/wallets/{userId}", walletHandler.GetWallet)
		e.Router.GET("/api/v1/wallets/{userId}/ledger", walletHandler.GetLedger)

		// Reward endpoints
		e.Router.GET("/api/v1/rewards/segments", rewardHandler.Segments)
		e.Router.POST("/api/v1/rewards/spin", rewardHandler.Spin).
			BindFunc(rateLimiter.Limit("spin", 10, time.Minute))

		// Admin endpoints
		e.Router.GET("/api/v1/admin/settlements/stuck", adminHandler.ListStuckSettlements).
			BindFunc(security.RequireAdminToken(cfg.AdminTokenHash))
		e.Router.POST("/api/v1/admin/settlements/{transactionId}/retry", adminHandler.RetrySettlement).
			BindFunc(security.RequireAdminToken(cfg.AdminTokenHash))
		e.Router.POST("/api/v1/admin/settlements/{transactionId}/reverse", adminHandler.ReverseSettlement).
			BindFunc(security.RequireAdminToken(cfg.AdminTokenHash))
		e.Router.GET("/api/v1/admin/wallets/{userId}/audit", adminHandler.AuditWallet).
			BindFunc(security.RequireAdminToken(cfg.AdminTokenHash))

		// Test endpoint for payment simulation
		if cfg.Environment == "development" {
			e.Router.POST("/api/v1/test/simulate-callback", callbackHandler.SimulateCallback)
		}

		if cfg.EnableMetrics {
			metricsHandler := promhttp.Handler()
			e.Router.GET("/metrics", func(e *core.RequestEvent) error {
				metricsHandler.ServeHTTP(e.Response, e.Request)
				return nil
			})
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down background workers...")
	cancel()
}
