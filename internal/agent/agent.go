package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/habitline/internal/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBackgroundUnavailable is returned when the out-of-process delivery
// facility cannot be reached. Callers continue with in-process timers only.
var ErrBackgroundUnavailable = errors.New("background delivery unavailable")

type MessageType string

const (
	MessageSchedule MessageType = "SCHEDULE_NOTIFICATION"
	MessageCancel   MessageType = "CANCEL_NOTIFICATION"
)

// Message is posted by the foreground to the agent.
type Message struct {
	Type    MessageType                `json:"type"`
	Title   string                     `json:"title,omitempty"`
	Options models.NotificationOptions `json:"options"`
	Delay   int64                      `json:"delay,omitempty"` // milliseconds
	Tag     string                     `json:"tag,omitempty"`
}

// Registration identifies the agent registered for an origin.
type Registration struct {
	ID     string
	Origin string
	Reused bool
}

// Displayer shows a notification without the foreground process.
type Displayer interface {
	Push(ctx context.Context, payload []byte) error
}

// Agent delivers notifications out of process. Schedules live in a Redis
// sorted set scored by fire time; Run claims and displays due entries.
type Agent struct {
	rdb          *redis.Client
	origin       string
	display      Displayer
	log          *zap.SugaredLogger
	pollInterval time.Duration
	now          func() time.Time
}

func New(rdb *redis.Client, origin string, display Displayer, logger *zap.SugaredLogger) *Agent {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Agent{
		rdb:          rdb,
		origin:       origin,
		display:      display,
		log:          logger,
		pollInterval: time.Second,
		now:          time.Now,
	}
}

// SetPollInterval changes how often Run looks for due notifications.
func (a *Agent) SetPollInterval(d time.Duration) {
	if d > 0 {
		a.pollInterval = d
	}
}

func (a *Agent) key(parts ...string) string {
	k := "habitline:" + a.origin
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (a *Agent) registrationKey() string { return a.key("agent") }
func (a *Agent) queueKey() string        { return a.key("queue") }
func (a *Agent) payloadKey() string      { return a.key("payloads") }
func (a *Agent) actionsChannel() string  { return a.key("actions") }

// Register registers the agent for this origin. An existing registration is
// reused rather than replaced.
func (a *Agent) Register(ctx context.Context) (Registration, error) {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrBackgroundUnavailable, err)
	}

	id := uuid.NewString()
	created, err := a.rdb.SetNX(ctx, a.registrationKey(), id, 0).Result()
	if err != nil {
		return Registration{}, fmt.Errorf("%w: register: %v", ErrBackgroundUnavailable, err)
	}
	if created {
		a.log.Infow("Registered background agent", "origin", a.origin, "id", id)
		return Registration{ID: id, Origin: a.origin}, nil
	}

	existing, err := a.rdb.Get(ctx, a.registrationKey()).Result()
	if err != nil {
		return Registration{}, fmt.Errorf("%w: read registration: %v", ErrBackgroundUnavailable, err)
	}
	return Registration{ID: existing, Origin: a.origin, Reused: true}, nil
}

// Post hands a schedule or cancel message to the agent. Delivery of the
// message is not acknowledged beyond the Redis write.
func (a *Agent) Post(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSchedule:
		return a.schedule(ctx, msg)
	case MessageCancel:
		return a.cancel(ctx, msg.Tag)
	default:
		return fmt.Errorf("unknown agent message type %q", msg.Type)
	}
}

func (a *Agent) schedule(ctx context.Context, msg Message) error {
	tag := msg.Options.Tag
	if tag == "" {
		tag = msg.Tag
	}
	if tag == "" {
		return fmt.Errorf("schedule message without tag")
	}
	msg.Options.Tag = tag

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal schedule %s: %w", tag, err)
	}
	fireAt := a.now().Add(time.Duration(msg.Delay) * time.Millisecond)

	pipe := a.rdb.TxPipeline()
	pipe.HSet(ctx, a.payloadKey(), tag, payload)
	pipe.ZAdd(ctx, a.queueKey(), redis.Z{Score: float64(fireAt.UnixMilli()), Member: tag})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: schedule %s: %v", ErrBackgroundUnavailable, tag, err)
	}
	return nil
}

func (a *Agent) cancel(ctx context.Context, tag string) error {
	if tag == "" {
		return fmt.Errorf("cancel message without tag")
	}
	pipe := a.rdb.TxPipeline()
	pipe.ZRem(ctx, a.queueKey(), tag)
	pipe.HDel(ctx, a.payloadKey(), tag)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrBackgroundUnavailable, tag, err)
	}
	return nil
}

// SetDisplay sets the surface due notifications are shown on.
func (a *Agent) SetDisplay(display Displayer) {
	a.display = display
}

// Show displays a notification right away through the background surface.
func (a *Agent) Show(ctx context.Context, title string, opts models.NotificationOptions) error {
	if a.display == nil {
		return fmt.Errorf("%w: no display surface", ErrBackgroundUnavailable)
	}
	payload, err := encodePush(title, opts)
	if err != nil {
		return err
	}
	return a.display.Push(ctx, payload)
}

// Run delivers due notifications until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	a.log.Infow("Background agent started", "origin", a.origin, "interval", a.pollInterval)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Background agent stopped")
			return
		case <-ticker.C:
			if _, err := a.DeliverDue(ctx); err != nil {
				a.log.Warnw("Failed to deliver due notifications", "error", err)
			}
		}
	}
}

// DeliverDue shows every notification whose fire time has passed and
// returns how many were claimed by this call.
func (a *Agent) DeliverDue(ctx context.Context) (int, error) {
	max := strconv.FormatInt(a.now().UnixMilli(), 10)
	tags, err := a.rdb.ZRangeByScore(ctx, a.queueKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}

	delivered := 0
	for _, tag := range tags {
		// Only the caller whose ZREM succeeds owns the delivery.
		removed, err := a.rdb.ZRem(ctx, a.queueKey(), tag).Result()
		if err != nil {
			a.log.Warnw("Failed to claim notification", "tag", tag, "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		raw, err := a.rdb.HGet(ctx, a.payloadKey(), tag).Bytes()
		if err != nil {
			a.log.Warnw("Missing payload for due notification", "tag", tag, "error", err)
			continue
		}
		if err := a.rdb.HDel(ctx, a.payloadKey(), tag).Err(); err != nil {
			a.log.Warnw("Failed to remove delivered payload", "tag", tag, "error", err)
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			a.log.Warnw("Failed to decode scheduled notification", "tag", tag, "error", err)
			continue
		}
		if err := a.Show(ctx, msg.Title, msg.Options); err != nil {
			a.log.Warnw("Failed to show scheduled notification", "tag", tag, "error", err)
			continue
		}
		delivered++
		a.log.Infow("Delivered scheduled notification", "tag", tag, "title", msg.Title)
	}
	return delivered, nil
}

// Pending returns the tags waiting in the delay queue.
func (a *Agent) Pending(ctx context.Context) ([]string, error) {
	return a.rdb.ZRange(ctx, a.queueKey(), 0, -1).Result()
}

// ReportAction publishes a notification action for the foreground.
func (a *Agent) ReportAction(ctx context.Context, action models.ActionMessage) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	if err := a.rdb.Publish(ctx, a.actionsChannel(), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish action: %v", ErrBackgroundUnavailable, err)
	}
	return nil
}

// Actions streams notification actions until ctx is cancelled.
func (a *Agent) Actions(ctx context.Context) <-chan models.ActionMessage {
	out := make(chan models.ActionMessage)
	sub := a.rdb.Subscribe(ctx, a.actionsChannel())

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var action models.ActionMessage
				if err := json.Unmarshal([]byte(m.Payload), &action); err != nil {
					a.log.Warnw("Failed to decode notification action", "error", err)
					continue
				}
				select {
				case out <- action:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
