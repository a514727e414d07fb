package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/routecore/platform/internal/audit"
	"github.com/routecore/platform/internal/booking"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/eventbus"
	"github.com/routecore/platform/internal/httpapi"
	"github.com/routecore/platform/internal/idempotency"
	"github.com/routecore/platform/internal/lock"
	"github.com/routecore/platform/internal/matchmaking"
	"github.com/routecore/platform/internal/payment"
	"github.com/routecore/platform/internal/platformlog"
	"github.com/routecore/platform/internal/scheduler"
	"github.com/routecore/platform/internal/seats"
	"github.com/routecore/platform/internal/statemachine"
	"github.com/routecore/platform/internal/ticketing"
	"github.com/routecore/platform/pkg/cache"
	"github.com/routecore/platform/pkg/database"
	"github.com/routecore/platform/pkg/tracing"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	shutdownTracing, err := tracing.InitTracer(ctx, &cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	db, err := database.NewPostgresConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := cache.NewClient(&cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	producer := eventbus.NewProducer(&cfg.Kafka)
	defer producer.Close()

	// Substrate.
	lockSvc := lock.New(redisClient, cfg.Lock.DefaultWait, cfg.Lock.DefaultLease)
	paymentIdemStore := idempotency.New(redisClient, "idempotency:payment:")
	webhookIdemStore := idempotency.New(redisClient, "idempotency:webhook:")
	bookingIdemStore := idempotency.New(redisClient, "idempotency:booking:")
	auditRepo := audit.NewRepository(db)
	seatsEngine := seats.New(db, redisClient)
	bookingMachine := statemachine.NewBookingMachine(auditRepo)
	paymentMachine := statemachine.NewPaymentMachine(auditRepo)
	jobScheduler := scheduler.New(lockSvc)

	// Ticketing core.
	ticketSigner, err := ticketing.GenerateSigner()
	if err != nil {
		log.Fatalf("failed to generate ticket signer: %v", err)
	}
	anchorClient := ticketing.NewHTTPAnchorClient(cfg.Ticketing.AnchorURL, &http.Client{Timeout: 10 * time.Second})
	ticketRepo := ticketing.NewRepository(db)
	ticketSvc := ticketing.NewService(ticketRepo, ticketSigner, anchorClient, cfg.Ticketing)

	// Matchmaking core.
	matchRepo := matchmaking.NewRepository(db)
	matchCache := matchmaking.NewResultCache(redisClient, cfg.Matchmaking.CacheTTL)
	matchSvc := matchmaking.NewService(matchRepo, matchCache, cfg.Matchmaking)

	// Booking core (reuses matchmaking's route repository to revalidate
	// availability and pricing at booking time).
	bookingRepo := booking.NewRepository(db)
	bookingSvc := booking.NewService(
		bookingRepo,
		matchRepo,
		seatsEngine,
		lockSvc,
		bookingIdemStore,
		bookingMachine,
		producer,
		cfg.Booking,
		cfg.Seats,
	)

	// Payment core.
	gateway := payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.GatewayTimeout)
	paymentRepo := payment.NewRepository(db)
	paymentSvc := payment.NewService(
		paymentRepo,
		gateway,
		lockSvc,
		paymentIdemStore,
		webhookIdemStore,
		paymentMachine,
		bookingSvc,
		producer,
		cfg.Payment,
	)

	registerScheduledJobs(jobScheduler, cfg, bookingSvc, paymentSvc, ticketSvc)
	jobScheduler.Start()
	defer jobScheduler.Stop(ctx)

	consumerCtx, stopConsumers := context.WithCancel(ctx)
	startConsumers(consumerCtx, cfg, bookingSvc, ticketSvc)
	defer stopConsumers()

	router := httpapi.NewRouter(
		httpapi.Config{
			JWTSecret:           cfg.JWT.Secret,
			RateLimitPerMinute:  cfg.RateLimit.RequestsPerMinute,
			RateLimitBurst:      cfg.RateLimit.Burst,
			MaxInFlightRequests: 200,
		},
		httpapi.NewBookingHandler(bookingSvc),
		httpapi.NewPaymentHandler(paymentSvc),
		httpapi.NewMatchmakingHandler(matchSvc),
		httpapi.NewTicketingHandler(ticketSvc),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		platformlog.Logger.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	platformlog.Logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	platformlog.Logger.Info().Msg("server exited")
}
