package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hray3182/habitline/internal/database"
	"github.com/hray3182/habitline/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrSchemaMismatch is returned when the reminders table lacks a column
	// even after retrying without the optional ones.
	ErrSchemaMismatch = errors.New("reminders schema mismatch")
	ErrNotFound       = errors.New("reminder not found")
)

// SQLSTATE undefined_column.
const undefinedColumn = "42703"

var baseColumns = []string{
	"id::text", "user_id", "title", "time::text", "days", "date::text",
	"enabled", "last_triggered", "created_at",
}

// Columns added after the first schema; older backends may not have them.
var optionalColumns = []string{
	"COALESCE(link_type, '')", "link_id::text", "COALESCE(message, '')", "delivery_channel",
}

var optionalFields = map[string]bool{
	"link_type":        true,
	"link_id":          true,
	"message":          true,
	"delivery_channel": true,
}

type ReminderRepository struct {
	db   *database.DB
	psql squirrel.StatementBuilderType
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{
		db:   db,
		psql: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func selectColumns(reduced bool) []string {
	if reduced {
		return baseColumns
	}
	return append(append([]string(nil), baseColumns...), optionalColumns...)
}

// reminderRow is the scan target for one reminders row.
type reminderRow struct {
	ID            string
	UserID        string
	Title         string
	Time          string
	Days          []int32
	Date          *string
	Enabled       bool
	LastTriggered *time.Time
	CreatedAt     time.Time
	LinkType      string
	LinkID        *string
	Message       string
	Channel       string
}

func scanReminder(row pgx.Row, reduced bool) (*models.Reminder, error) {
	var rr reminderRow
	dest := []any{
		&rr.ID, &rr.UserID, &rr.Title, &rr.Time, &rr.Days, &rr.Date,
		&rr.Enabled, &rr.LastTriggered, &rr.CreatedAt,
	}
	if !reduced {
		dest = append(dest, &rr.LinkType, &rr.LinkID, &rr.Message, &rr.Channel)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return rr.toModel(), nil
}

func (rr reminderRow) toModel() *models.Reminder {
	days := make([]int, len(rr.Days))
	for i, d := range rr.Days {
		days[i] = int(d)
	}
	channel := models.DeliveryChannel(rr.Channel)
	if channel == "" {
		channel = models.ChannelInApp
	}
	return &models.Reminder{
		ID:            rr.ID,
		UserID:        rr.UserID,
		Title:         rr.Title,
		Time:          normalizeTime(rr.Time),
		Days:          days,
		Date:          rr.Date,
		Enabled:       rr.Enabled,
		LinkType:      rr.LinkType,
		LinkID:        rr.LinkID,
		Message:       rr.Message,
		Channel:       channel,
		LastTriggered: rr.LastTriggered,
		CreatedAt:     rr.CreatedAt,
	}
}

// normalizeTime drops a zero seconds component so 09:00:00 reads back as 09:00.
func normalizeTime(s string) string {
	if len(s) == 8 && strings.HasSuffix(s, ":00") {
		return s[:5]
	}
	return s
}

// normalizeLinkID returns nil for ids that are not well-formed uuids.
func normalizeLinkID(id *string) *string {
	if id == nil {
		return nil
	}
	parsed, err := uuid.Parse(strings.TrimSpace(*id))
	if err != nil {
		return nil
	}
	s := parsed.String()
	return &s
}

func int32Days(days []int) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func castText(sqlType string, v any) squirrel.Sqlizer {
	return squirrel.Expr("CAST(? AS TEXT)::"+sqlType, v)
}

func inputValues(userID string, in models.ReminderInput) map[string]any {
	channel := in.Channel
	if channel == "" {
		channel = models.ChannelInApp
	}
	var linkType any
	if in.LinkType != "" {
		linkType = in.LinkType
	}
	var message any
	if in.Message != "" {
		message = in.Message
	}
	return map[string]any{
		"user_id":          userID,
		"title":            in.Title,
		"time":             castText("time", in.Time),
		"days":             int32Days(in.Days),
		"date":             castText("date", in.Date),
		"enabled":          in.Enabled,
		"link_type":        linkType,
		"link_id":          castText("uuid", normalizeLinkID(in.LinkID)),
		"message":          message,
		"delivery_channel": string(channel),
	}
}

func patchValues(p models.ReminderPatch) map[string]any {
	values := make(map[string]any)
	if p.Title != nil {
		values["title"] = *p.Title
	}
	if p.Time != nil {
		values["time"] = castText("time", *p.Time)
	}
	if p.Days != nil {
		values["days"] = int32Days(*p.Days)
	}
	if p.Date != nil {
		values["date"] = castText("date", *p.Date)
	}
	if p.Enabled != nil {
		values["enabled"] = *p.Enabled
	}
	if p.LinkType != nil {
		values["link_type"] = *p.LinkType
	}
	if p.LinkID != nil {
		values["link_id"] = castText("uuid", normalizeLinkID(*p.LinkID))
	}
	if p.Message != nil {
		values["message"] = *p.Message
	}
	if p.Channel != nil {
		values["delivery_channel"] = string(*p.Channel)
	}
	if p.LastTriggered != nil {
		values["last_triggered"] = *p.LastTriggered
	}
	return values
}

// withoutOptional returns values minus the optional columns.
func withoutOptional(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if !optionalFields[k] {
			out[k] = v
		}
	}
	return out
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedColumn
}

// withSchemaRetry runs fn with the full column set and, if the backend
// reports an unknown column, once more with the reduced set.
func withSchemaRetry(op string, fn func(reduced bool) error) error {
	err := fn(false)
	if !isUndefinedColumn(err) {
		return err
	}
	err = fn(true)
	if isUndefinedColumn(err) {
		return fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, op, err)
	}
	return err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// List returns the user's reminders, oldest first.
func (r *ReminderRepository) List(ctx context.Context, userID string) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	err := withSchemaRetry("list", func(reduced bool) error {
		reminders = nil
		query, args, err := r.psql.Select(selectColumns(reduced)...).
			From("reminders").
			Where(squirrel.Eq{"user_id": userID}).
			OrderBy("created_at ASC").
			ToSql()
		if err != nil {
			return fmt.Errorf("build list query: %w", err)
		}

		rows, err := r.db.Pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			reminder, err := scanReminder(rows, reduced)
			if err != nil {
				return err
			}
			reminders = append(reminders, reminder)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list reminders (user_id: %s): %w", userID, err)
	}
	return reminders, nil
}

func (r *ReminderRepository) Get(ctx context.Context, userID, id string) (*models.Reminder, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var reminder *models.Reminder
	err := withSchemaRetry("get", func(reduced bool) error {
		query, args, err := r.psql.Select(selectColumns(reduced)...).
			From("reminders").
			Where(squirrel.Eq{"user_id": userID}).
			Where(castEq("id", id)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build get query: %w", err)
		}
		reminder, err = scanReminder(r.db.Pool.QueryRow(ctx, query, args...), reduced)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder (id: %s): %w", id, err)
	}
	return reminder, nil
}

func castEq(column, id string) squirrel.Sqlizer {
	return squirrel.Expr(column+" = CAST(? AS TEXT)::uuid", id)
}

// Create inserts a reminder and returns it as stored.
func (r *ReminderRepository) Create(ctx context.Context, userID string, in models.ReminderInput) (*models.Reminder, error) {
	values := inputValues(userID, in)
	var reminder *models.Reminder
	err := withSchemaRetry("create", func(reduced bool) error {
		set := values
		if reduced {
			set = withoutOptional(values)
		}
		query, args, err := r.psql.Insert("reminders").
			SetMap(set).
			Suffix("RETURNING " + strings.Join(selectColumns(reduced), ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert query: %w", err)
		}
		reminder, err = scanReminder(r.db.Pool.QueryRow(ctx, query, args...), reduced)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create reminder (user_id: %s): %w", userID, err)
	}
	return reminder, nil
}

// Update applies the non-nil fields of patch.
func (r *ReminderRepository) Update(ctx context.Context, userID, id string, patch models.ReminderPatch) error {
	if !validID(id) {
		return ErrNotFound
	}
	values := patchValues(patch)
	if len(values) == 0 {
		return nil
	}
	err := withSchemaRetry("update", func(reduced bool) error {
		set := values
		if reduced {
			set = withoutOptional(values)
			if len(set) == 0 {
				return nil
			}
		}
		query, args, err := r.psql.Update("reminders").
			SetMap(set).
			Where(squirrel.Eq{"user_id": userID}).
			Where(castEq("id", id)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update query: %w", err)
		}
		_, err = r.db.Pool.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("update reminder (id: %s): %w", id, err)
	}
	return nil
}

// SetLastTriggered records the heartbeat of a fired reminder.
func (r *ReminderRepository) SetLastTriggered(ctx context.Context, userID, id string, at time.Time) error {
	return r.Update(ctx, userID, id, models.ReminderPatch{LastTriggered: &at})
}

func (r *ReminderRepository) SetAllEnabled(ctx context.Context, userID string, enabled bool) error {
	query, args, err := r.psql.Update("reminders").
		Set("enabled", enabled).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set all enabled (user_id: %s): %w", userID, err)
	}
	return nil
}

func (r *ReminderRepository) Delete(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	query, args, err := r.psql.Delete("reminders").
		Where(squirrel.Eq{"user_id": userID}).
		Where(castEq("id", id)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete reminder (id: %s): %w", id, err)
	}
	return nil
}

func (r *ReminderRepository) DeleteAll(ctx context.Context, userID string) error {
	query, args, err := r.psql.Delete("reminders").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete all reminders (user_id: %s): %w", userID, err)
	}
	return nil
}
