// main.go - Entry point
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"ticket-checkout/internal/booking"
	"ticket-checkout/internal/channel"
	"ticket-checkout/internal/checkout"
	"ticket-checkout/internal/config"
	"ticket-checkout/internal/httpapi"
	"ticket-checkout/internal/tasks"
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	booker := booking.NewRedisBooker(redisClient, booking.Config{
		BankAccount: cfg.BankAccount,
		BankName:    cfg.BankName,
		HoldWindow:  cfg.PaymentWindow + booking.HOLD_GRACE,
	})

	var (
		transport channel.Transport
		publisher channel.Publisher
		pn        channel.Pubnub
		notifier  tasks.Notifier
	)
	if cfg.Simulate {
		sim := channel.NewSimulator(cfg.SimStepDelay, cfg.SimStepDelay/2, true)
		transport, publisher = sim, sim
	} else {
		var err error
		pn, err = channel.NewPubnub(&channel.PubNubConfig{
			PublishKey:   cfg.PNPublishKey,
			SubscribeKey: cfg.PNSubscribeKey,
			SecretKey:    cfg.PNSecretKey,
			UUIDKey:      cfg.PNUUIDKey,
			UUIDSubKey:   cfg.PNUUIDSubKey,
		})
		if err != nil {
			log.Fatal("pubnub setup failed:", err)
		}
		transport, publisher, notifier = pn, pn, pn
	}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	hook := func(sessionID, customerID string, from, to checkout.Phase, snap checkout.Snapshot) {
		if !to.Terminal() || customerID == "" {
			return
		}
		reservationID := ""
		if snap.Instructions != nil {
			reservationID = snap.Instructions.ReservationID
		}
		tasks.EnqueueNotify(asynqClient, tasks.NotifyCustomerPayload{
			CustomerID:    customerID,
			ReservationID: reservationID,
			Phase:         string(to),
			Message:       terminalMessage(to),
		})
	}

	manager := checkout.NewManager(
		checkout.Config{Window: cfg.PaymentWindow},
		booker,
		func() checkout.StatusChannel { return channel.NewAdapter(transport) },
		hook,
	)
	defer manager.Close()

	handlers := httpapi.NewHandlers(manager, booker, publisher, pn)

	go func() {
		if err := tasks.StartServer(redisOpt, tasks.NewHandlers(booker, notifier)); err != nil {
			log.Fatal("Asynq server failed to start:", err)
		}
	}()

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	httpapi.SetupRoutes(e, handlers)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
}

func terminalMessage(p checkout.Phase) string {
	switch p {
	case checkout.PhaseCompleted:
		return "Payment confirmed. Your tickets are booked!"
	case checkout.PhaseExpired:
		return "Payment window expired. Your seats were released."
	default:
		return "Payment failed. You can retry to book again."
	}
}
