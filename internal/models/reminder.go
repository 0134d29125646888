package models

import "time"

// DeliveryChannel is where the user prefers a reminder to be delivered.
type DeliveryChannel string

const (
	ChannelInApp DeliveryChannel = "in_app"
	ChannelPush  DeliveryChannel = "push"
	ChannelEmail DeliveryChannel = "email"
)

// Link types a reminder can point at. The link only categorises the reminder.
const (
	LinkHabit    = "habit"
	LinkCourse   = "course"
	LinkVideo    = "video"
	LinkResource = "resource"
	LinkFolder   = "folder"
)

type Reminder struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Title         string          `json:"title"`
	Time          string          `json:"time"`           // HH:MM or HH:MM:SS, local clock
	Days          []int           `json:"days"`           // 0-6, Sunday=0
	Date          *string         `json:"date"`           // YYYY-MM-DD, overrides Days
	Enabled       bool            `json:"enabled"`
	LinkType      string          `json:"link_type,omitempty"`
	LinkID        *string         `json:"link_id"`
	Message       string          `json:"message,omitempty"`
	Channel       DeliveryChannel `json:"delivery_channel"`
	LastTriggered *time.Time      `json:"last_triggered"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsOneTime returns true if the reminder fires on a single calendar date.
func (r *Reminder) IsOneTime() bool {
	return r.Date != nil && *r.Date != ""
}

// IsWeekly returns true if the reminder repeats on a set of weekdays.
func (r *Reminder) IsWeekly() bool {
	return !r.IsOneTime() && len(r.Days) > 0
}

// Body is the notification body shown for this reminder.
func (r *Reminder) Body() string {
	if r.Message != "" {
		return r.Message
	}
	return "It's time: " + r.Title
}

// ReminderInput holds the fields of a new reminder.
type ReminderInput struct {
	Title    string          `json:"title" validate:"required"`
	Time     string          `json:"time" validate:"required"`
	Days     []int           `json:"days" validate:"dive,min=0,max=6"`
	Date     *string         `json:"date"`
	Enabled  bool            `json:"enabled"`
	LinkType string          `json:"link_type"`
	LinkID   *string         `json:"link_id"`
	Message  string          `json:"message"`
	Channel  DeliveryChannel `json:"delivery_channel"`
}

// ReminderPatch holds optional fields for a partial update. Nil means unchanged.
type ReminderPatch struct {
	Title         *string
	Time          *string
	Days          *[]int
	Date          **string
	Enabled       *bool
	LinkType      *string
	LinkID        **string
	Message       *string
	Channel       *DeliveryChannel
	LastTriggered *time.Time
}
