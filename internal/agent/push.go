package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/hray3182/habitline/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoSubscriptions is returned when there is no device to push to.
var ErrNoSubscriptions = errors.New("no push subscriptions")

// SubscriptionStore lists and prunes Web Push subscriptions.
type SubscriptionStore interface {
	List(ctx context.Context) ([]webpush.Subscription, error)
	Remove(ctx context.Context, endpoint string) error
}

// RedisSubscriptions keeps push subscriptions in a Redis hash keyed by endpoint.
type RedisSubscriptions struct {
	rdb *redis.Client
	key string
}

// Subscriptions returns the subscription store for the agent's origin.
func (a *Agent) Subscriptions() *RedisSubscriptions {
	return &RedisSubscriptions{rdb: a.rdb, key: a.key("subscriptions")}
}

func (s *RedisSubscriptions) Add(ctx context.Context, sub webpush.Subscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription endpoint is required")
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	return s.rdb.HSet(ctx, s.key, sub.Endpoint, raw).Err()
}

func (s *RedisSubscriptions) List(ctx context.Context) ([]webpush.Subscription, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs := make([]webpush.Subscription, 0, len(all))
	for endpoint, raw := range all {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("decode subscription %s: %w", endpoint, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *RedisSubscriptions) Remove(ctx context.Context, endpoint string) error {
	return s.rdb.HDel(ctx, s.key, endpoint).Err()
}

type PushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// WebPush displays notifications on every subscribed device.
type WebPush struct {
	subs SubscriptionStore
	cfg  PushConfig
	log  *zap.SugaredLogger
}

func NewWebPush(subs SubscriptionStore, cfg PushConfig, logger *zap.SugaredLogger) *WebPush {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebPush{subs: subs, cfg: cfg, log: logger}
}

// pushPayload is what the service worker passes to showNotification.
type pushPayload struct {
	Title string `json:"title"`
	models.NotificationOptions
}

func encodePush(title string, opts models.NotificationOptions) ([]byte, error) {
	payload, err := json.Marshal(pushPayload{Title: title, NotificationOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("marshal push payload: %w", err)
	}
	return payload, nil
}

// Push sends payload to every subscription. It succeeds if at least one
// device accepted the message. Subscriptions the push service reports as
// gone are removed.
func (w *WebPush) Push(ctx context.Context, payload []byte) error {
	subs, err := w.subs.List(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return ErrNoSubscriptions
	}

	var errs []error
	delivered := 0
	for i := range subs {
		sub := subs[i]
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
			Subscriber:      w.cfg.Subscriber,
			VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
			TTL:             w.cfg.TTL,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("push to %s: %w", sub.Endpoint, err))
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			if err := w.subs.Remove(ctx, sub.Endpoint); err != nil {
				w.log.Warnw("Failed to remove expired subscription", "endpoint", sub.Endpoint, "error", err)
			} else {
				w.log.Infow("Removed expired subscription", "endpoint", sub.Endpoint)
			}
			errs = append(errs, fmt.Errorf("push to %s: subscription gone", sub.Endpoint))
		case resp.StatusCode >= 400:
			errs = append(errs, fmt.Errorf("push to %s: status %d", sub.Endpoint, resp.StatusCode))
		default:
			delivered++
		}
	}

	if delivered == 0 {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		w.log.Warnw("Partial push failure", "error", err)
	}
	return nil
}
