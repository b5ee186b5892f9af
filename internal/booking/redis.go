// Package booking implements the reserve-tickets call against the Redis
// hold store: stock counters per ticket type, one hold record per
// reservation, and bank-transfer payment instructions.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ticket-checkout/internal/checkout"
)

const (
	// HOLD_GRACE keeps a hold alive past the payment window so a payment
	// completing at the buzzer still finds its tickets held.
	HOLD_GRACE = 30 * time.Second
)

var _ checkout.Booker = (*RedisBooker)(nil)

// Hold is the record of tickets held for one reservation.
type Hold struct {
	ReservationID string              `json:"reservation_id"`
	ShowID        string              `json:"show_id"`
	Items         []checkout.LineItem `json:"items"`
	Amount        int64               `json:"amount"`
	Recipient     string              `json:"recipient,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
}

type Config struct {
	BankAccount string
	BankName    string
	// HoldWindow is how long held tickets stay exclusive; normally the
	// payment window plus grace.
	HoldWindow time.Duration
}

type RedisBooker struct {
	redis *redis.Client
	cfg   Config
}

func NewRedisBooker(redis *redis.Client, cfg Config) *RedisBooker {
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = checkout.DefaultWindow + HOLD_GRACE
	}
	return &RedisBooker{redis: redis, cfg: cfg}
}

func stockKey(showID, typeID string) string { return fmt.Sprintf("stock:%s:%s", showID, typeID) }

func priceKey(showID, typeID string) string { return fmt.Sprintf("price:%s:%s", showID, typeID) }

func holdKey(showID, reservationID string) string {
	return fmt.Sprintf("hold:%s:%s", showID, reservationID)
}

func holdSetKey(showID string) string { return fmt.Sprintf("hold_set:%s", showID) }

const showSetKey = "shows"

// Reserve holds the requested tickets and returns payment instructions.
// Sold-out or short stock surfaces as checkout.ErrInventoryUnavailable;
// every other failure is transient and safe to retry as a fresh action.
func (b *RedisBooker) Reserve(ctx context.Context, req checkout.Request) (*checkout.Instructions, error) {
	if req.ShowID == "" || len(req.Items) == 0 {
		return nil, fmt.Errorf("invalid reservation request: show %q, %d items", req.ShowID, len(req.Items))
	}

	var amount int64
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for ticket type %s", item.Quantity, item.TicketTypeID)
		}

		stock, err := b.redis.Get(ctx, stockKey(req.ShowID, item.TicketTypeID)).Int64()
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: no stock for ticket type %s", checkout.ErrInventoryUnavailable, item.TicketTypeID)
		}
		if err != nil {
			return nil, fmt.Errorf("read stock %s: %w", item.TicketTypeID, err)
		}
		if stock < int64(item.Quantity) {
			return nil, fmt.Errorf("%w: %d of ticket type %s left", checkout.ErrInventoryUnavailable, stock, item.TicketTypeID)
		}

		price, err := b.redis.Get(ctx, priceKey(req.ShowID, item.TicketTypeID)).Int64()
		if err != nil {
			return nil, fmt.Errorf("read price %s: %w", item.TicketTypeID, err)
		}
		amount += price * int64(item.Quantity)
	}

	reservationID := uuid.New().String()
	now := time.Now()
	hold := &Hold{
		ReservationID: reservationID,
		ShowID:        req.ShowID,
		Items:         req.Items,
		Amount:        amount,
		Recipient:     req.Recipient,
		CreatedAt:     now,
		ExpiresAt:     now.Add(b.cfg.HoldWindow),
	}
	holdJSON, _ := json.Marshal(hold)

	pipe := b.redis.TxPipeline()
	for _, item := range req.Items {
		pipe.DecrBy(ctx, stockKey(req.ShowID, item.TicketTypeID), int64(item.Quantity))
	}
	pipe.Set(ctx, holdKey(req.ShowID, reservationID), holdJSON, 0)
	pipe.SAdd(ctx, holdSetKey(req.ShowID), reservationID)
	pipe.SAdd(ctx, showSetKey, req.ShowID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("write hold %s: %w", reservationID, err)
	}

	return &checkout.Instructions{
		ReservationID: reservationID,
		BankAccount:   b.cfg.BankAccount,
		BankName:      b.cfg.BankName,
		Amount:        amount,
		Reference:     paymentReference(reservationID),
		Status:        checkout.StatusWaitingPayment,
	}, nil
}

// Release returns a hold's tickets to stock. Restoring at most once is
// guarded by the set removal: whoever removes the member does the restore.
func (b *RedisBooker) Release(ctx context.Context, showID, reservationID string) error {
	removed, err := b.redis.SRem(ctx, holdSetKey(showID), reservationID).Result()
	if err != nil {
		return fmt.Errorf("remove hold member %s: %w", reservationID, err)
	}
	if removed == 0 {
		return nil // already released
	}

	holdJSON, err := b.redis.Get(ctx, holdKey(showID, reservationID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read hold %s: %w", reservationID, err)
	}

	var hold Hold
	if err := json.Unmarshal([]byte(holdJSON), &hold); err != nil {
		return fmt.Errorf("unmarshal hold %s: %w", reservationID, err)
	}

	pipe := b.redis.TxPipeline()
	for _, item := range hold.Items {
		pipe.IncrBy(ctx, stockKey(showID, item.TicketTypeID), int64(item.Quantity))
	}
	pipe.Del(ctx, holdKey(showID, reservationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("restore stock %s: %w", reservationID, err)
	}
	return nil
}

// Sweep releases every expired hold across all shows. The coordinator
// releases failed and expired attempts itself; this is the backstop for
// holds orphaned by a crash.
func (b *RedisBooker) Sweep(ctx context.Context) error {
	showIDs, err := b.redis.SMembers(ctx, showSetKey).Result()
	if err != nil {
		return fmt.Errorf("list shows: %w", err)
	}

	now := time.Now()
	for _, showID := range showIDs {
		members, err := b.redis.SMembers(ctx, holdSetKey(showID)).Result()
		if err != nil {
			return fmt.Errorf("list holds %s: %w", showID, err)
		}
		for _, reservationID := range members {
			holdJSON, err := b.redis.Get(ctx, holdKey(showID, reservationID)).Result()
			if errors.Is(err, redis.Nil) {
				// hold record gone, drop the dangling member
				b.redis.SRem(ctx, holdSetKey(showID), reservationID)
				continue
			}
			if err != nil {
				return fmt.Errorf("read hold %s: %w", reservationID, err)
			}
			var hold Hold
			if err := json.Unmarshal([]byte(holdJSON), &hold); err != nil {
				continue
			}
			if hold.ExpiresAt.Before(now) {
				if err := b.Release(ctx, showID, reservationID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SetStock sets the stock counter and price for one ticket type. Used by
// the admin endpoint to seed a show.
func (b *RedisBooker) SetStock(ctx context.Context, showID, typeID string, quantity int, price int64) error {
	pipe := b.redis.TxPipeline()
	pipe.Set(ctx, stockKey(showID, typeID), quantity, 0)
	pipe.Set(ctx, priceKey(showID, typeID), price, 0)
	pipe.SAdd(ctx, showSetKey, showID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set stock %s:%s: %w", showID, typeID, err)
	}
	return nil
}

// paymentReference derives the short code the customer quotes on the bank
// transfer.
func paymentReference(reservationID string) string {
	compact := strings.ReplaceAll(reservationID, "-", "")
	if len(compact) > 10 {
		compact = compact[:10]
	}
	return "TK-" + strings.ToUpper(compact)
}
