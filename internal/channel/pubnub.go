package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pubnubgo "github.com/pubnub/go/v7"

	"ticket-checkout/internal/checkout"
)

var (
	_ Transport = (*pubnub)(nil)
	_ Publisher = (*pubnub)(nil)
)

type PubNubConfig struct {
	PublishKey, SubscribeKey, SecretKey, UUIDKey, UUIDSubKey string
}

// Pubnub is the real status channel backend plus the gateway-side publish
// used by the webhook and by customer notifications.
type Pubnub interface {
	Transport
	Publisher
	NotifyCustomer(ctx context.Context, customerID string, payload any) (string, error)
	GenGrantToken(ctx context.Context) (string, error)
}

func NewPubnub(pnCfg *PubNubConfig) (Pubnub, error) {
	if pnCfg == nil {
		return nil, fmt.Errorf("[NewPubnub] pnCfg: must not be nil")
	}

	cfg := pubnubgo.NewConfigWithUserId(pubnubgo.UserId(pnCfg.UUIDKey))
	cfg.PublishKey = pnCfg.PublishKey
	cfg.SubscribeKey = pnCfg.SubscribeKey
	cfg.SecretKey = pnCfg.SecretKey

	return &pubnub{
		pn:         pubnubgo.NewPubNub(cfg),
		uuidSubKey: pnCfg.UUIDSubKey,
	}, nil
}

type pubnub struct {
	pn         *pubnubgo.PubNub
	uuidSubKey string
}

func statusChannelName(reservationID string) string {
	return fmt.Sprintf("payment-status-%s", reservationID)
}

// Open subscribes to the reservation's status channel and forwards decoded
// events. Malformed messages are logged and dropped; they never reach the
// coordinator.
func (p *pubnub) Open(ctx context.Context, reservationID string, deliver func(checkout.StatusEvent)) (func(), error) {
	channelName := statusChannelName(reservationID)

	listener := pubnubgo.NewListener()
	p.pn.AddListener(listener)
	p.pn.Subscribe().Channels([]string{channelName}).Execute()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-listener.Message:
				if !ok {
					return
				}
				ev, err := decodeStatusMessage(msg.Message)
				if err != nil {
					slog.Warn("malformed status message", "channel", channelName, "error", err)
					continue
				}
				deliver(ev)
			case <-listener.Status:
				// lifecycle noise; the deadline timer is the backstop
				// if the stream silently drops
			case <-listener.Presence:
			}
		}
	}()

	closeStream := func() {
		p.pn.Unsubscribe().Channels([]string{channelName}).Execute()
		p.pn.RemoveListener(listener)
		close(done)
	}
	return closeStream, nil
}

// PublishStatus pushes a payment status event onto the reservation's
// channel. This is the gateway side of the stream.
func (p *pubnub) PublishStatus(ctx context.Context, reservationID string, ev checkout.StatusEvent) error {
	messageJSON, err := setPrepareMessage(ev)
	if err != nil {
		return err
	}

	publish := p.pn.Publish()
	publish.Channel(statusChannelName(reservationID)).Message(messageJSON)
	if _, _, err := publish.Execute(); err != nil {
		return fmt.Errorf("publish status %s: %w", reservationID, err)
	}
	return nil
}

// NotifyCustomer publishes to the customer's personal channel and returns
// the publish timetoken.
func (p *pubnub) NotifyCustomer(ctx context.Context, customerID string, payload any) (string, error) {
	messageJSON, err := setPrepareMessage(payload)
	if err != nil {
		return "", err
	}

	channel := fmt.Sprintf("channel-%s", customerID)

	publish := p.pn.Publish()
	publish.Channel(channel).Message(messageJSON)
	resp, _, err := publish.Execute()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d", resp.Timestamp), nil
}

// GenGrantToken issues a read-only token for clients subscribing to their
// own status and notification channels.
func (p *pubnub) GenGrantToken(ctx context.Context) (string, error) {
	grantToken := p.pn.GrantTokenWithContext(ctx)
	permissions := map[string]pubnubgo.ChannelPermissions{
		"^payment-status-[A-Za-z0-9-]*$": {
			Read: true,
		},
		"^channel-[A-Za-z0-9-]*$": {
			Read: true,
		},
	}

	token, _, err := grantToken.TTL(60).AuthorizedUUID(p.uuidSubKey).ChannelsPattern(permissions).Execute()
	if err != nil {
		return "", err
	}

	return token.Data.Token, nil
}

// setPrepareMessage is a function to format message to JSON
func setPrepareMessage(messagePayload any) (string, error) {
	messageJSON, err := json.Marshal(messagePayload)
	if err != nil {
		return "", err
	}

	return string(messageJSON), nil
}

func decodeStatusMessage(raw any) (checkout.StatusEvent, error) {
	var payload struct {
		Type      string `json:"type"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}

	switch m := raw.(type) {
	case string:
		if err := json.Unmarshal([]byte(m), &payload); err != nil {
			return checkout.StatusEvent{}, fmt.Errorf("decode status message: %w", err)
		}
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return checkout.StatusEvent{}, fmt.Errorf("re-encode status message: %w", err)
		}
		if err := json.Unmarshal(b, &payload); err != nil {
			return checkout.StatusEvent{}, fmt.Errorf("decode status message: %w", err)
		}
	}

	ts, err := time.Parse(time.RFC3339, payload.Timestamp)
	if err != nil {
		return checkout.StatusEvent{}, fmt.Errorf("parse status timestamp %q: %w", payload.Timestamp, err)
	}

	return checkout.StatusEvent{
		Type:      payload.Type,
		Status:    payload.Status,
		Timestamp: ts,
	}, nil
}
