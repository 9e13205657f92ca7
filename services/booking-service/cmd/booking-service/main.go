package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nahid-mahmud/clinicbook/libs/auth"
	"github.com/nahid-mahmud/clinicbook/libs/config"
	"github.com/nahid-mahmud/clinicbook/libs/db"
	"github.com/nahid-mahmud/clinicbook/libs/httpx"
	otelx "github.com/nahid-mahmud/clinicbook/libs/otel"
	"github.com/nahid-mahmud/clinicbook/libs/runtime"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/booking"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/database"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/handlers"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/outbox"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/storage"
)

func main() {
	logger := runtime.NewLogger("booking-service")

	ctx, stop := runtime.SignalContext()
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("service exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		return err
	}
	port, err := config.Port("PORT", "8080")
	if err != nil {
		return err
	}

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv("booking-service"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	if err := database.Migrate(databaseURL); err != nil {
		return err
	}

	pool, err := db.Open(ctx, databaseURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)
	availabilityRepo := storage.NewAvailabilityRepository(pool)
	userRepo := storage.NewUserRepository(pool)

	svc := booking.NewService(bookingRepo, bookingRepo, availabilityRepo, userRepo, logger, booking.Config{
		SlotDuration: config.Minutes("SLOT_DURATION_MINUTES", 30*time.Minute),
		HorizonDays:  config.Int("BOOKING_HORIZON_DAYS", 30),
		CancelNotice: config.Minutes("CANCEL_NOTICE_MINUTES", 24*time.Hour),
	})

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: time.Duration(config.Int("OUTBOX_POLL_SECONDS", 2)) * time.Second,
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)})
	handlers.New(svc, logger).Register(mux)

	cors := httpx.CORSPolicy{
		AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", "*"), ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         10 * time.Minute,
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(cors),
		auth.Middleware(jwtSecret),
		rateLimit(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "booking-service"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("booking service listening", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// rateLimit picks the Redis-backed limiter when REDIS_URL is set, so multiple
// replicas share one budget, and falls back to the in-process limiter.
func rateLimit(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err == nil {
			rdb := redis.NewClient(opts)
			return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking:rl").
				Middleware(logger, true)
		}
		logger.Warn("invalid REDIS_URL, using in-process rate limiter", "err", err)
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}
