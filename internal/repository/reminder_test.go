package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hray3182/habitline/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNormalizeLinkID(t *testing.T) {
	assert.Nil(t, normalizeLinkID(nil))
	assert.Nil(t, normalizeLinkID(strPtr("")))
	assert.Nil(t, normalizeLinkID(strPtr("habit-42")))

	got := normalizeLinkID(strPtr(" 6F9619FF-8B86-D011-B42D-00CF4FC964FF "))
	require.NotNil(t, got)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00cf4fc964ff", *got)
}

func TestNormalizeTime(t *testing.T) {
	assert.Equal(t, "09:00", normalizeTime("09:00:00"))
	assert.Equal(t, "09:00:30", normalizeTime("09:00:30"))
	assert.Equal(t, "09:00", normalizeTime("09:00"))
}

func TestWithSchemaRetry(t *testing.T) {
	missing := &pgconn.PgError{Code: undefinedColumn, Message: `column "message" does not exist`}

	var calls []bool
	err := withSchemaRetry("create", func(reduced bool) error {
		calls = append(calls, reduced)
		if !reduced {
			return missing
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, calls)

	calls = nil
	err = withSchemaRetry("create", func(reduced bool) error {
		calls = append(calls, reduced)
		return fmt.Errorf("exec: %w", missing)
	})
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.Len(t, calls, 2)

	calls = nil
	boom := errors.New("connection refused")
	err = withSchemaRetry("create", func(reduced bool) error {
		calls = append(calls, reduced)
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Len(t, calls, 1)
}

func TestInputValuesNullsInvalidLink(t *testing.T) {
	values := inputValues("user-1", models.ReminderInput{
		Title:  "Read",
		Time:   "21:30",
		Days:   []int{1, 3},
		LinkID: strPtr("not-a-uuid"),
	})

	assert.Equal(t, []int32{1, 3}, values["days"])
	assert.Equal(t, "in_app", values["delivery_channel"])
	assert.Nil(t, values["message"])

	_, args, err := values["link_id"].(squirrel.Sqlizer).ToSql()
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Nil(t, args[0])
}

func TestWithoutOptionalDropsNewColumns(t *testing.T) {
	values := inputValues("user-1", models.ReminderInput{Title: "Read", Time: "21:30", Message: "Chapter 3"})
	reduced := withoutOptional(values)

	for field := range optionalFields {
		assert.NotContains(t, reduced, field)
	}
	assert.Contains(t, reduced, "title")
	assert.Contains(t, reduced, "user_id")
	assert.Len(t, values, len(reduced)+len(optionalFields))
}

func TestPatchValuesOnlySetFields(t *testing.T) {
	assert.Empty(t, patchValues(models.ReminderPatch{}))

	enabled := false
	var noDate *string
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	values := patchValues(models.ReminderPatch{Enabled: &enabled, Date: &noDate, LastTriggered: &at})
	assert.Len(t, values, 3)
	assert.Equal(t, false, values["enabled"])
	assert.Equal(t, at, values["last_triggered"])
}

func TestUpdateQueryShape(t *testing.T) {
	repo := NewReminderRepository(nil)
	title := "Stretch"
	query, args, err := repo.psql.Update("reminders").
		SetMap(patchValues(models.ReminderPatch{Title: &title})).
		Where(squirrel.Eq{"user_id": "user-1"}).
		Where(castEq("id", "6f9619ff-8b86-d011-b42d-00cf4fc964ff")).
		ToSql()
	require.NoError(t, err)
	assert.Equal(t, "UPDATE reminders SET title = $1 WHERE user_id = $2 AND id = CAST($3 AS TEXT)::uuid", query)
	assert.Equal(t, []any{"Stretch", "user-1", "6f9619ff-8b86-d011-b42d-00cf4fc964ff"}, args)
}

// A row read back from the table maps to the same logical reminder that was
// written.
func TestRowRoundTrip(t *testing.T) {
	date := "2026-10-20"
	link := "6f9619ff-8b86-d011-b42d-00cf4fc964ff"
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	in := models.ReminderInput{
		Title:    "Meditate",
		Time:     "07:15",
		Days:     []int{0, 6},
		Date:     &date,
		Enabled:  true,
		LinkType: models.LinkHabit,
		LinkID:   &link,
		Message:  "Ten minutes",
		Channel:  models.ChannelPush,
	}

	values := inputValues("user-1", in)
	row := reminderRow{
		ID:            "r-1",
		UserID:        values["user_id"].(string),
		Title:         values["title"].(string),
		Time:          in.Time + ":00",
		Days:          values["days"].([]int32),
		Date:          in.Date,
		Enabled:       values["enabled"].(bool),
		LastTriggered: &at,
		CreatedAt:     at,
		LinkType:      values["link_type"].(string),
		LinkID:        normalizeLinkID(in.LinkID),
		Message:       values["message"].(string),
		Channel:       values["delivery_channel"].(string),
	}
	got := row.toModel()

	assert.Equal(t, in.Title, got.Title)
	assert.Equal(t, in.Time, got.Time)
	assert.Equal(t, in.Days, got.Days)
	assert.Equal(t, date, *got.Date)
	assert.Equal(t, link, *got.LinkID)
	assert.Equal(t, in.LinkType, got.LinkType)
	assert.Equal(t, in.Message, got.Message)
	assert.Equal(t, in.Channel, got.Channel)
	assert.Equal(t, &at, got.LastTriggered)

	bare := reminderRow{ID: "r-2", Time: "08:00:00"}.toModel()
	assert.Nil(t, bare.LinkID)
	assert.Nil(t, bare.Date)
	assert.Equal(t, []int{}, bare.Days)
	assert.Equal(t, models.ChannelInApp, bare.Channel)
}

func TestDecodeChange(t *testing.T) {
	event, err := decodeChange(`{"op":"UPDATE","id":"r-1","user_id":"user-1"}`)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeEvent{Op: "UPDATE", ID: "r-1", UserID: "user-1"}, event)

	_, err = decodeChange(`{"id":"r-1"}`)
	assert.Error(t, err)
	_, err = decodeChange(`not json`)
	assert.Error(t, err)
}
