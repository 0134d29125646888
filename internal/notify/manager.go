package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/habitline/internal/agent"
	"github.com/hray3182/habitline/internal/models"
	"go.uber.org/zap"
)

var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrUnsupported      = errors.New("notifications unsupported")
	ErrPastTarget       = errors.New("target time is in the past")
)

const fireTimeout = 30 * time.Second

// Agent is the background delivery agent.
type Agent interface {
	Register(ctx context.Context) (agent.Registration, error)
	Post(ctx context.Context, msg agent.Message) error
	Show(ctx context.Context, title string, opts models.NotificationOptions) error
}

// IntentStore persists scheduled intents across restarts.
type IntentStore interface {
	Put(ctx context.Context, intent models.ScheduledIntent) error
	GetAll(ctx context.Context) ([]models.ScheduledIntent, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Permissions reports and requests the notification permission.
type Permissions interface {
	State(ctx context.Context) (models.Permission, error)
	Request(ctx context.Context) (models.Permission, error)
}

// Foreground displays a notification through the running process.
type Foreground interface {
	Show(ctx context.Context, title string, opts models.NotificationOptions) error
}

// Manager schedules, shows and cancels notifications for one device.
// Every schedule is armed twice: an in-process timer and a message to the
// background agent. Both carry the same tag, so the notification surface
// shows one alert.
type Manager struct {
	agent      Agent
	store      IntentStore
	perms      Permissions
	foreground Foreground
	log        *zap.SugaredLogger

	now    func() time.Time
	newTag func() string

	initMu      sync.Mutex
	initDone    bool
	bgAvailable bool

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Manager. agent, perms and foreground may be nil; a nil agent
// means in-process timers only and nil perms means notifications are
// unsupported on this device.
func New(a Agent, store IntentStore, perms Permissions, foreground Foreground, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		agent:      a,
		store:      store,
		perms:      perms,
		foreground: foreground,
		log:        logger,
		now:        time.Now,
		newTag:     uuid.NewString,
		timers:     make(map[string]*time.Timer),
	}
}

// Initialize registers the background agent once and reports whether it is
// available. Concurrent callers wait for the first registration.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initDone {
		return m.bgAvailable
	}
	m.initDone = true

	if m.agent == nil {
		m.log.Info("No background agent configured, using in-process timers only")
		return false
	}
	reg, err := m.agent.Register(ctx)
	if err != nil {
		m.log.Warnw("Background agent unavailable, using in-process timers only", "error", err)
		return false
	}
	m.bgAvailable = true
	m.log.Infow("Background agent ready", "id", reg.ID, "origin", reg.Origin, "reused", reg.Reused)
	return true
}

// RequestPermission reports whether notifications may be shown, prompting
// the user if the permission has never been decided.
func (m *Manager) RequestPermission(ctx context.Context) bool {
	return m.ensurePermission(ctx) == nil
}

func (m *Manager) ensurePermission(ctx context.Context) error {
	if m.perms == nil {
		return ErrUnsupported
	}
	state, err := m.perms.State(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if state == models.PermissionDefault {
		if state, err = m.perms.Request(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
	}
	if state != models.PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// ScheduleNotification arranges for a notification at target. It returns
// false without side effects when target is in the past or the user denied
// notifications.
func (m *Manager) ScheduleNotification(ctx context.Context, name string, target time.Time, opts models.NotificationOptions) bool {
	if err := m.schedule(ctx, name, target, opts); err != nil {
		m.log.Debugw("Notification not scheduled", "name", name, "target", target, "error", err)
		return false
	}
	return true
}

func (m *Manager) schedule(ctx context.Context, name string, target time.Time, opts models.NotificationOptions) error {
	now := m.now()
	delay := target.Sub(now)
	if delay < 0 {
		return ErrPastTarget
	}
	if m.perms != nil {
		if state, err := m.perms.State(ctx); err == nil && state == models.PermissionDenied {
			return ErrPermissionDenied
		}
	}

	if opts.Tag == "" {
		opts.Tag = m.newTag()
	}
	tag := opts.Tag

	intent := models.ScheduledIntent{
		ID:        tag,
		Name:      name,
		TargetAt:  target,
		Options:   opts,
		CreatedAt: now,
	}
	if err := m.store.Put(ctx, intent); err != nil {
		m.log.Warnw("Failed to persist notification, keeping it in memory only", "tag", tag, "error", err)
	}

	if m.Initialize(ctx) {
		msg := agent.Message{
			Type:    agent.MessageSchedule,
			Title:   name,
			Options: opts,
			Delay:   delay.Milliseconds(),
		}
		if err := m.agent.Post(ctx, msg); err != nil {
			m.log.Warnw("Failed to hand notification to background agent", "tag", tag, "error", err)
		}
	}

	m.arm(tag, name, delay, opts)
	m.log.Debugw("Scheduled notification", "tag", tag, "name", name, "target", target)
	return nil
}

// arm starts the in-process timer for tag, replacing any timer already
// armed under it.
func (m *Manager) arm(tag, name string, delay time.Duration, opts models.NotificationOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.timers[tag]; ok {
		prev.Stop()
		delete(m.timers, tag)
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		current, ok := m.timers[tag]
		owned := ok && current == t
		if owned {
			delete(m.timers, tag)
		}
		m.mu.Unlock()
		if !owned {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
		defer cancel()
		if !m.ShowNotification(ctx, name, opts) {
			m.log.Warnw("Scheduled notification was not shown", "tag", tag, "name", name)
		}
	})
	m.timers[tag] = t
}

// clear stops the timer armed under tag and reports whether one existed.
func (m *Manager) clear(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[tag]
	if !ok {
		return false
	}
	t.Stop()
	delete(m.timers, tag)
	return true
}

// ShowNotification displays a notification now. The background surface is
// preferred; the foreground display is the fallback.
func (m *Manager) ShowNotification(ctx context.Context, title string, opts models.NotificationOptions) bool {
	if err := m.show(ctx, title, opts); err != nil {
		m.log.Debugw("Notification not shown", "title", title, "error", err)
		return false
	}
	return true
}

func (m *Manager) show(ctx context.Context, title string, opts models.NotificationOptions) error {
	if err := m.ensurePermission(ctx); err != nil {
		return err
	}

	if m.Initialize(ctx) {
		err := m.agent.Show(ctx, title, opts)
		if err == nil {
			return nil
		}
		m.log.Warnw("Background display failed, falling back to foreground", "title", title, "error", err)
	}

	if m.foreground == nil {
		return ErrUnsupported
	}
	if err := m.foreground.Show(ctx, title, opts); err != nil {
		return fmt.Errorf("show %q: %w", title, err)
	}
	return nil
}

// GetScheduledNotifications returns every stored intent, including those
// whose target has already passed.
func (m *Manager) GetScheduledNotifications(ctx context.Context) []models.ScheduledIntent {
	intents, err := m.store.GetAll(ctx)
	if err != nil {
		m.log.Warnw("Failed to read scheduled notifications", "error", err)
		return nil
	}
	return intents
}

// RestoreScheduled re-arms timers for stored intents that are still in the
// future and returns how many were armed. Past intents are left in the store.
func (m *Manager) RestoreScheduled(ctx context.Context) int {
	now := m.now()
	armed := 0
	for _, intent := range m.GetScheduledNotifications(ctx) {
		if !intent.TargetAt.After(now) {
			continue
		}
		opts := intent.Options
		opts.Tag = intent.Tag()
		m.arm(opts.Tag, intent.Name, intent.TargetAt.Sub(now), opts)
		armed++
	}
	if armed > 0 {
		m.log.Infow("Restored scheduled notifications", "count", armed)
	}
	return armed
}

// CancelNotification cancels by tag or by display name. Every stored intent
// whose tag or name matches key is cancelled; the number of cancelled tags
// is returned.
func (m *Manager) CancelNotification(ctx context.Context, key string) int {
	tags := make(map[string]struct{})
	if m.clear(key) {
		tags[key] = struct{}{}
	}

	intents, err := m.store.GetAll(ctx)
	if err != nil {
		m.log.Warnw("Failed to look up notifications to cancel", "key", key, "error", err)
	}
	for _, intent := range intents {
		tag := intent.Tag()
		if tag != key && intent.Name != key && intent.ID != key {
			continue
		}
		m.clear(tag)
		if err := m.store.Delete(ctx, intent.ID); err != nil {
			m.log.Warnw("Failed to delete stored notification", "tag", tag, "error", err)
		}
		tags[tag] = struct{}{}
	}

	// The agent may hold the key even when this process has no record of it.
	if len(tags) == 0 {
		m.postCancel(ctx, key)
		return 0
	}
	for tag := range tags {
		m.postCancel(ctx, tag)
	}
	return len(tags)
}

// CancelAllNotifications clears every timer, cancels every stored tag at the
// agent and empties the store.
func (m *Manager) CancelAllNotifications(ctx context.Context) {
	m.mu.Lock()
	for tag, t := range m.timers {
		t.Stop()
		delete(m.timers, tag)
	}
	m.mu.Unlock()

	intents, err := m.store.GetAll(ctx)
	if err != nil {
		m.log.Warnw("Failed to read notifications to cancel", "error", err)
	}
	for _, intent := range intents {
		m.postCancel(ctx, intent.Tag())
	}
	if err := m.store.DeleteAll(ctx); err != nil {
		m.log.Warnw("Failed to purge stored notifications", "error", err)
	}
}

// postCancel tells the agent to drop tag. It does not wait for confirmation
// that the agent's timer is gone.
func (m *Manager) postCancel(ctx context.Context, tag string) {
	if !m.Initialize(ctx) {
		return
	}
	if err := m.agent.Post(ctx, agent.Message{Type: agent.MessageCancel, Tag: tag}); err != nil {
		m.log.Warnw("Failed to cancel notification at background agent", "tag", tag, "error", err)
	}
}

// PendingTags returns the tags with a live in-process timer.
func (m *Manager) PendingTags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tags := make([]string, 0, len(m.timers))
	for tag := range m.timers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// HasTimer reports whether a timer is armed under tag.
func (m *Manager) HasTimer(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[tag]
	return ok
}

// Stop clears all in-process timers without touching the store or agent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tag, t := range m.timers {
		t.Stop()
		delete(m.timers, tag)
	}
}
