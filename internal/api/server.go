package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/hray3182/habitline/internal/models"
	"github.com/hray3182/habitline/internal/repository"
	"github.com/hray3182/habitline/internal/scheduler"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodySize = 64 << 10

type Subscriptions interface {
	Add(ctx context.Context, sub webpush.Subscription) error
	Remove(ctx context.Context, endpoint string) error
}

// ActionSink receives notification actions clicked in the service worker.
type ActionSink interface {
	ReportAction(ctx context.Context, action models.ActionMessage) error
}

// ActionFunc adapts a function to ActionSink.
type ActionFunc func(ctx context.Context, action models.ActionMessage) error

func (f ActionFunc) ReportAction(ctx context.Context, action models.ActionMessage) error {
	return f(ctx, action)
}

type Notifications interface {
	GetScheduledNotifications(ctx context.Context) []models.ScheduledIntent
	CancelNotification(ctx context.Context, key string) int
	CancelAllNotifications(ctx context.Context)
}

type Snoozer interface {
	Snooze(ctx context.Context, id string, minutes int) (*models.Reminder, error)
}

type Server struct {
	subs     Subscriptions
	actions  ActionSink
	notifs   Notifications
	snoozer  Snoozer
	validate *validator.Validate
	log      *zap.SugaredLogger
}

// New creates the HTTP API. subs may be nil when push delivery is disabled.
func New(subs Subscriptions, actions ActionSink, notifs Notifications, snoozer Snoozer, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		subs:     subs,
		actions:  actions,
		notifs:   notifs,
		snoozer:  snoozer,
		validate: validator.New(),
		log:      logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.RealIP,
		middleware.CleanPath,
		requestLogger(s.log),
		middleware.Timeout(30*time.Second),
	)

	r.Get("/healthz", s.health)

	r.Route("/push/subscriptions", func(r chi.Router) {
		r.Post("/", s.subscribe)
		r.Delete("/", s.unsubscribe)
	})
	r.Post("/agent/actions", s.reportAction)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", s.listNotifications)
		r.Delete("/", s.cancelAllNotifications)
		r.Delete("/{key}", s.cancelNotification)
	})
	r.Post("/reminders/{id}/snooze", s.snooze)

	return r
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

type snoozeRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=1440"`
}

type apiError struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, apiError{Message: msg})
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	if s.subs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "push delivery is disabled")
		return
	}
	var req subscriptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub := webpush.Subscription{
		Endpoint: req.Endpoint,
		Keys:     webpush.Keys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
	}
	if err := s.subs.Add(r.Context(), sub); err != nil {
		s.log.Warnw("Failed to store push subscription", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not store subscription")
		return
	}
	s.writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	if s.subs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "push delivery is disabled")
		return
	}
	var req unsubscribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.subs.Remove(r.Context(), req.Endpoint); err != nil {
		s.log.Warnw("Failed to remove push subscription", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reportAction(w http.ResponseWriter, r *http.Request) {
	var action models.ActionMessage
	if !s.decode(w, r, &action) {
		return
	}
	if action.Tag == "" && action.ReminderID == "" {
		s.writeError(w, http.StatusBadRequest, "tag or reminder_id is required")
		return
	}
	if err := s.actions.ReportAction(r.Context(), action); err != nil {
		s.log.Warnw("Failed to report notification action", "action", action.Action, "error", err)
		s.writeError(w, http.StatusBadGateway, "could not deliver action")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	intents := s.notifs.GetScheduledNotifications(r.Context())
	if intents == nil {
		intents = []models.ScheduledIntent{}
	}
	s.writeJSON(w, http.StatusOK, intents)
}

func (s *Server) cancelAllNotifications(w http.ResponseWriter, r *http.Request) {
	s.notifs.CancelAllNotifications(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelNotification(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	n := s.notifs.CancelNotification(r.Context(), key)
	s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if !s.decode(w, r, &req) {
		return
	}
	created, err := s.snoozer.Snooze(r.Context(), chi.URLParam(r, "id"), req.Minutes)
	switch {
	case errors.Is(err, scheduler.ErrNoSession):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "reminder not found")
	case err != nil:
		s.log.Warnw("Failed to snooze reminder", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not snooze reminder")
	default:
		s.writeJSON(w, http.StatusCreated, created)
	}
}
