package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hray3182/habitline/internal/models"
	"github.com/hray3182/habitline/internal/occurrence"
	"github.com/hray3182/habitline/internal/repository"
	"go.uber.org/zap"
)

const SnoozePrefix = "Snoozed: "

var ErrNoSession = errors.New("no active session")

type ReminderStore interface {
	List(ctx context.Context, userID string) ([]*models.Reminder, error)
	Get(ctx context.Context, userID, id string) (*models.Reminder, error)
	Create(ctx context.Context, userID string, in models.ReminderInput) (*models.Reminder, error)
	SetLastTriggered(ctx context.Context, userID, id string, at time.Time) error
}

// Notifier is the part of the notification manager the scheduler drives.
type Notifier interface {
	ScheduleNotification(ctx context.Context, name string, target time.Time, opts models.NotificationOptions) bool
	ShowNotification(ctx context.Context, title string, opts models.NotificationOptions) bool
	CancelNotification(ctx context.Context, key string) int
}

// Toaster surfaces an in-app message offering to snooze a fired reminder.
type Toaster interface {
	Toast(ctx context.Context, reminder *models.Reminder, snoozeMinutes []int) error
}

type Session interface {
	UserID() (string, bool)
	Watch() <-chan struct{}
}

type ChangeSource interface {
	Listen(ctx context.Context) <-chan models.ChangeEvent
}

type Config struct {
	SyncInterval     time.Duration
	PollInterval     time.Duration
	Horizon          time.Duration
	HeartbeatTimeout time.Duration
	SnoozeMinutes    []int
	DefaultSnooze    int
	LinkBaseURL      string
}

func DefaultConfig() Config {
	return Config{
		SyncInterval:     2 * time.Minute,
		PollInterval:     5 * time.Second,
		Horizon:          7 * 24 * time.Hour,
		HeartbeatTimeout: 10 * time.Second,
		SnoozeMinutes:    []int{5, 15, 60},
		DefaultSnooze:    10,
	}
}

// Scheduler keeps the device's notification timers in line with the user's
// reminders and fires reminders that come due while the process runs.
type Scheduler struct {
	store    ReminderStore
	notifier Notifier
	toaster  Toaster
	session  Session
	changes  ChangeSource
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time
	notifyCh chan struct{}

	mu        sync.Mutex
	userID    string
	reminders []*models.Reminder
	armed     map[string]bool
	// fired maps reminder id to the minute bucket it last fired in on this device.
	fired map[string]string
}

func New(store ReminderStore, notifier Notifier, toaster Toaster, session Session, changes ChangeSource, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if len(cfg.SnoozeMinutes) == 0 {
		cfg.SnoozeMinutes = def.SnoozeMinutes
	}
	if cfg.DefaultSnooze <= 0 {
		cfg.DefaultSnooze = def.DefaultSnooze
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		toaster:  toaster,
		session:  session,
		changes:  changes,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		notifyCh: make(chan struct{}, 1),
		armed:    make(map[string]bool),
		fired:    make(map[string]string),
	}
}

// Notify triggers an immediate resync. Non-blocking if one is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Infow("Scheduler started", "sync_interval", s.cfg.SyncInterval, "poll_interval", s.cfg.PollInterval)
	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()
	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()

	var changes <-chan models.ChangeEvent
	if s.changes != nil {
		changes = s.changes.Listen(ctx)
	}
	sessionChanged := s.session.Watch()

	s.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-syncTicker.C:
			s.sync(ctx)
		case <-pollTicker.C:
			s.poll(ctx)
		case <-s.notifyCh:
			s.log.Debug("Scheduler triggered by notification")
			s.sync(ctx)
		case <-sessionChanged:
			s.log.Info("Session changed, resyncing reminders")
			s.sync(ctx)
		case event, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if s.concerns(event) {
				s.log.Debugw("Reminder changed remotely", "op", event.Op, "id", event.ID)
				s.sync(ctx)
			}
		}
	}
}

// concerns reports whether a change event touches the signed-in user's rows.
// The feed carries every user's changes.
func (s *Scheduler) concerns(event models.ChangeEvent) bool {
	if event.Op == repository.OpReconnect {
		return true
	}
	userID, ok := s.session.UserID()
	return ok && event.UserID == userID
}

// Reminders returns the reminders loaded by the last sync.
func (s *Scheduler) Reminders() []models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Reminder, len(s.reminders))
	for i, r := range s.reminders {
		out[i] = *r
	}
	return out
}

func (s *Scheduler) sync(ctx context.Context) {
	userID, ok := s.session.UserID()
	if !ok {
		s.signOut(ctx)
		return
	}

	reminders, err := s.store.List(ctx, userID)
	if err != nil {
		s.log.Warnw("Failed to load reminders", "user_id", userID, "error", err)
		return
	}

	s.mu.Lock()
	if s.userID != userID {
		s.fired = make(map[string]string)
	}
	s.userID = userID
	s.reminders = reminders
	previous := s.armed
	s.armed = make(map[string]bool)
	s.mu.Unlock()

	now := s.now()
	armed := make(map[string]bool)
	for _, r := range reminders {
		if !r.Enabled {
			continue
		}
		next, err := occurrence.Next(r, now)
		if err != nil {
			s.log.Warnw("Skipping reminder with invalid schedule", "id", r.ID, "error", err)
			continue
		}
		if next == nil || next.Sub(now) > s.cfg.Horizon {
			continue
		}

		s.notifier.CancelNotification(ctx, r.ID)
		if s.notifier.ScheduleNotification(ctx, r.Title, *next, s.options(r)) {
			armed[r.ID] = true
		}
	}

	for id := range previous {
		if !armed[id] {
			s.notifier.CancelNotification(ctx, id)
		}
	}

	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
	s.log.Debugw("Reminders synced", "user_id", userID, "loaded", len(reminders), "armed", len(armed))
}

func (s *Scheduler) signOut(ctx context.Context) {
	s.mu.Lock()
	armed := s.armed
	hadUser := s.userID != ""
	s.userID = ""
	s.reminders = nil
	s.armed = make(map[string]bool)
	s.fired = make(map[string]string)
	s.mu.Unlock()

	for id := range armed {
		s.notifier.CancelNotification(ctx, id)
	}
	if hadUser {
		s.log.Info("Session ended, reminder timers cleared")
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	userID, ok := s.session.UserID()
	if !ok {
		return
	}
	now := s.now()
	bucket := occurrence.MinuteBucket(now)

	s.mu.Lock()
	if s.userID != userID {
		s.mu.Unlock()
		return
	}
	for id, b := range s.fired {
		if b != bucket {
			delete(s.fired, id)
		}
	}
	var due []models.Reminder
	for _, r := range s.reminders {
		if !occurrence.ShouldTrigger(r, now) || s.fired[r.ID] == bucket {
			continue
		}
		s.fired[r.ID] = bucket
		triggered := now
		r.LastTriggered = &triggered
		due = append(due, *r)
	}
	s.mu.Unlock()

	for i := range due {
		s.fire(ctx, userID, &due[i], now)
	}
}

func (s *Scheduler) fire(ctx context.Context, userID string, r *models.Reminder, now time.Time) {
	s.log.Infow("Reminder due", "id", r.ID, "title", r.Title)

	if !s.notifier.ShowNotification(ctx, r.Title, s.options(r)) {
		s.log.Warnw("Reminder notification not shown", "id", r.ID)
	}
	if s.toaster != nil {
		if err := s.toaster.Toast(ctx, r, s.cfg.SnoozeMinutes); err != nil {
			s.log.Warnw("Failed to show snooze toast", "id", r.ID, "error", err)
		}
	}

	hbCtx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
	defer cancel()
	if err := s.store.SetLastTriggered(hbCtx, userID, r.ID, now); err != nil {
		s.log.Warnw("Failed to record reminder heartbeat", "id", r.ID, "error", err)
	}
}

func (s *Scheduler) options(r *models.Reminder) models.NotificationOptions {
	return models.NotificationOptions{
		Body:               r.Body(),
		Tag:                r.ID,
		RequireInteraction: true,
		Vibrate:            []int{200, 100, 200},
		Actions: []models.NotificationAction{
			{Action: models.ActionComplete, Title: "Done"},
			{Action: models.ActionSnooze, Title: fmt.Sprintf("Snooze %d min", s.cfg.DefaultSnooze)},
		},
		Data: models.NotificationData{URL: s.linkURL(r), ReminderID: r.ID},
	}
}

func (s *Scheduler) linkURL(r *models.Reminder) string {
	base := strings.TrimRight(s.cfg.LinkBaseURL, "/")
	if r.LinkType != "" && r.LinkID != nil {
		return fmt.Sprintf("%s/%ss/%s", base, r.LinkType, *r.LinkID)
	}
	return base + "/reminders"
}

func (s *Scheduler) find(id string) *models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if r.ID == id {
			copied := *r
			return &copied
		}
	}
	return nil
}

// Snooze creates a one-time copy of reminder id due minutes from now and
// triggers a resync. The source reminder is not modified.
func (s *Scheduler) Snooze(ctx context.Context, id string, minutes int) (*models.Reminder, error) {
	userID, ok := s.session.UserID()
	if !ok {
		return nil, ErrNoSession
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("snooze minutes must be positive, got %d", minutes)
	}

	src := s.find(id)
	if src == nil {
		var err error
		if src, err = s.store.Get(ctx, userID, id); err != nil {
			return nil, fmt.Errorf("snooze %s: %w", id, err)
		}
	}

	target := s.now().Add(time.Duration(minutes) * time.Minute).Truncate(time.Minute)
	date := occurrence.FormatDate(target)
	title := src.Title
	if !strings.HasPrefix(title, SnoozePrefix) {
		title = SnoozePrefix + title
	}

	created, err := s.store.Create(ctx, userID, models.ReminderInput{
		Title:    title,
		Time:     target.Format("15:04"),
		Days:     []int{},
		Date:     &date,
		Enabled:  true,
		LinkType: src.LinkType,
		LinkID:   src.LinkID,
		Message:  src.Message,
		Channel:  src.Channel,
	})
	if err != nil {
		return nil, fmt.Errorf("snooze %s: %w", id, err)
	}

	s.log.Infow("Reminder snoozed", "id", id, "snooze_id", created.ID, "minutes", minutes)
	s.Notify()
	return created, nil
}

// HandleAction applies a notification action reported by the background agent.
func (s *Scheduler) HandleAction(ctx context.Context, action models.ActionMessage) error {
	id := action.ReminderID
	if id == "" {
		id = action.Tag
	}

	switch action.Action {
	case models.ActionSnooze:
		minutes := action.Minutes
		if minutes <= 0 {
			minutes = s.cfg.DefaultSnooze
		}
		_, err := s.Snooze(ctx, id, minutes)
		return err
	case models.ActionComplete:
		tag := action.Tag
		if tag == "" {
			tag = id
		}
		s.notifier.CancelNotification(ctx, tag)
		return nil
	case models.ActionOpen:
		s.log.Debugw("Notification opened", "id", id)
		return nil
	default:
		return fmt.Errorf("unknown notification action %q", action.Action)
	}
}

// ConsumeActions applies actions from ch until it closes.
func (s *Scheduler) ConsumeActions(ctx context.Context, ch <-chan models.ActionMessage) {
	for action := range ch {
		if err := s.HandleAction(ctx, action); err != nil {
			s.log.Warnw("Failed to handle notification action", "action", action.Action, "error", err)
		}
	}
}
