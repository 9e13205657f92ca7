package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nahid-mahmud/clinicbook/libs/config"
	"github.com/nahid-mahmud/clinicbook/libs/db"
	"github.com/nahid-mahmud/clinicbook/libs/kafkax"
	otelx "github.com/nahid-mahmud/clinicbook/libs/otel"
	"github.com/nahid-mahmud/clinicbook/libs/runtime"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/consumer"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/database"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/email"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/inbox"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/sms"
	"github.com/nahid-mahmud/clinicbook/services/notification-service/internal/storage"
)

func main() {
	logger := runtime.NewLogger("notification-service")

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
	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		return err
	}
	port, err := config.Port("PORT", "8081")
	if err != nil {
		return err
	}

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv("notification-service"))
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
		MaxConns: int32(config.Int("DB_MAX_CONNS", 5)),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	processor := consumer.NewProcessor(
		newEmailSender(logger),
		newSMSSender(logger),
		storage.NewNotificationsRepository(pool),
		logger,
	)

	inboxRepo := inbox.NewRepository(pool)
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	var wg sync.WaitGroup
	for _, topic := range []string{
		consumer.TopicAppointmentBooked,
		consumer.TopicAppointmentStatusChanged,
	} {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, processor.Handle)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("notification service listening", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		wg.Wait()
		return err
	case err := <-errCh:
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newEmailSender(logger *slog.Logger) email.Sender {
	host := config.String("SMTP_HOST", "")
	if host == "" {
		logger.Warn("SMTP_HOST not set, email delivery disabled")
		return email.NoopSender{}
	}
	return email.NewSMTPSender(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
}

func newSMSSender(logger *slog.Logger) sms.Sender {
	url := config.String("SMS_WEBHOOK_URL", "")
	if url == "" {
		logger.Warn("SMS_WEBHOOK_URL not set, sms delivery disabled")
		return sms.NoopSender{}
	}
	return sms.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
}
