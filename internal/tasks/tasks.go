// Package tasks holds the background work: customer notifications on
// terminal checkout states and the scheduled sweep of orphaned holds.
package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"ticket-checkout/internal/booking"
)

const (
	TypeNotifyCustomer = "notify:customer"
	TypeHoldSweeper    = "holds:sweep"
)

// Task payloads
type NotifyCustomerPayload struct {
	CustomerID    string `json:"customer_id"`
	ReservationID string `json:"reservation_id"`
	Phase         string `json:"phase"`
	Message       string `json:"message"`
}

type HoldSweeperPayload struct {
	Scope string `json:"scope"` // always "all" for the scheduled sweep
}

// Notifier delivers a push message to one customer's channel.
type Notifier interface {
	NotifyCustomer(ctx context.Context, customerID string, payload any) (string, error)
}

type Handlers struct {
	booker   *booking.RedisBooker
	notifier Notifier
}

// NewHandlers builds the task handlers. notifier may be nil in simulated
// environments, in which case notifications are logged and dropped.
func NewHandlers(booker *booking.RedisBooker, notifier Notifier) *Handlers {
	return &Handlers{booker: booker, notifier: notifier}
}

func (h *Handlers) HandleNotifyCustomer(ctx context.Context, t *asynq.Task) error {
	var payload NotifyCustomerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	if h.notifier == nil {
		slog.Info("notification (no push backend)",
			"customerID", payload.CustomerID, "phase", payload.Phase, "message", payload.Message)
		return nil
	}

	if _, err := h.notifier.NotifyCustomer(ctx, payload.CustomerID, payload); err != nil {
		return err
	}
	return nil
}

func (h *Handlers) HandleHoldSweeper(ctx context.Context, t *asynq.Task) error {
	var payload HoldSweeperPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	return h.booker.Sweep(ctx)
}

// EnqueueNotify schedules a customer notification. Failures are logged,
// not surfaced; notification is best effort.
func EnqueueNotify(client *asynq.Client, payload NotifyCustomerPayload) {
	payloadByte, _ := json.Marshal(payload)
	task := asynq.NewTask(TypeNotifyCustomer, payloadByte)
	if _, err := client.Enqueue(task); err != nil {
		slog.Error("enqueue notify task", "customerID", payload.CustomerID, "error", err)
	}
}

// StartServer runs the asynq worker and the minute-cadence hold sweeper.
// Blocks until the server stops.
func StartServer(redisOpt asynq.RedisClientOpt, handlers *Handlers) error {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotifyCustomer, handlers.HandleNotifyCustomer)
	mux.HandleFunc(TypeHoldSweeper, handlers.HandleHoldSweeper)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})

	sweepByte, _ := json.Marshal(HoldSweeperPayload{Scope: "all"})
	if _, err := scheduler.Register("*/1 * * * *", asynq.NewTask(TypeHoldSweeper, sweepByte)); err != nil {
		return err
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	return srv.Run(mux)
}
