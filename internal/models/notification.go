package models

import "time"

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type NotificationData struct {
	URL        string `json:"url,omitempty"`
	ReminderID string `json:"reminder_id,omitempty"`
}

// NotificationOptions mirrors the options accepted by a notification surface.
// Tag is the dedup and cancellation key: two notifications with the same tag
// collapse into one visible alert.
type NotificationOptions struct {
	Body               string               `json:"body,omitempty"`
	Icon               string               `json:"icon,omitempty"`
	Tag                string               `json:"tag,omitempty"`
	RequireInteraction bool                 `json:"requireInteraction,omitempty"`
	Vibrate            []int                `json:"vibrate,omitempty"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	Data               NotificationData     `json:"data"`
}

// ScheduledIntent is a pending notification persisted in the local store.
// ID is the tag the intent was scheduled under.
type ScheduledIntent struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	TargetAt  time.Time           `json:"target_at"`
	Options   NotificationOptions `json:"options"`
	CreatedAt time.Time           `json:"created_at"`
}

// Tag returns the dedup key of the intent.
func (i ScheduledIntent) Tag() string {
	if i.Options.Tag != "" {
		return i.Options.Tag
	}
	return i.ID
}

// ChangeEvent is a row-level change on the reminders collection.
type ChangeEvent struct {
	Op     string `json:"op"` // INSERT, UPDATE or DELETE
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// Notification action names sent back by the background agent.
const (
	ActionComplete = "complete"
	ActionSnooze   = "snooze"
	ActionOpen     = "open"
)

// ActionMessage is emitted by the background agent when the user clicks a
// notification or one of its actions.
type ActionMessage struct {
	Action     string `json:"action" validate:"required,oneof=complete snooze open"`
	Tag        string `json:"tag"`
	ReminderID string `json:"reminder_id"`
	Minutes    int    `json:"minutes,omitempty" validate:"min=0,max=1440"`
}

// Permission is the notification permission state of a device.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)
