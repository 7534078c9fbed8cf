package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"auditrisk/internal/features"
	"auditrisk/internal/frequency"
	"auditrisk/pkg/models"
)

// ErrDataSourceUnavailable is returned when the feedback store cannot be
// reached or queried.
var ErrDataSourceUnavailable = errors.New("feedback data source unavailable")

// FeedbackSource yields audit events an operator confirmed as normal.
type FeedbackSource interface {
	Fetch(ctx context.Context) ([]models.AuditEvent, error)
}

const feedbackQuery = `
	SELECT create_time, result_count, affected_rows, execution_time,
	       error_code, sql_template, app_user_id, client_app
	FROM sys_audit_log
	WHERE feedback_status = 1
	LIMIT ?`

// DefaultFeedbackLimit bounds one fetch.
const DefaultFeedbackLimit = 10000

type feedbackRow struct {
	CreateTime    dbTime          `db:"create_time"`
	ResultCount   sql.NullInt64   `db:"result_count"`
	AffectedRows  sql.NullInt64   `db:"affected_rows"`
	ExecutionTime sql.NullFloat64 `db:"execution_time"`
	ErrorCode     sql.NullInt64   `db:"error_code"`
	SQLTemplate   sql.NullString  `db:"sql_template"`
	AppUserID     sql.NullString  `db:"app_user_id"`
	ClientApp     sql.NullString  `db:"client_app"`
}

// SQLFeedbackSource reads approved rows from the audit log table.
type SQLFeedbackSource struct {
	db     *sqlx.DB
	limit  int
	window time.Duration
}

// NewSQLFeedbackSource connects with driver "mysql" or "sqlite".
func NewSQLFeedbackSource(driver, dsn string, limit int) (*SQLFeedbackSource, error) {
	switch driver {
	case "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported feedback driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDataSourceUnavailable, driver, err)
	}
	return NewSQLFeedbackSourceFromDB(db, limit), nil
}

// NewSQLFeedbackSourceFromDB wraps an existing handle.
func NewSQLFeedbackSourceFromDB(db *sqlx.DB, limit int) *SQLFeedbackSource {
	if limit <= 0 {
		limit = DefaultFeedbackLimit
	}
	return &SQLFeedbackSource{db: db, limit: limit, window: frequency.DefaultWindow}
}

// Close closes the database handle.
func (s *SQLFeedbackSource) Close() error {
	return s.db.Close()
}

// Fetch runs the feedback query and re-derives the text features of every
// row the same way the serving path does.
func (s *SQLFeedbackSource) Fetch(ctx context.Context) ([]models.AuditEvent, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSourceUnavailable, err)
	}
	var rows []feedbackRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(feedbackQuery), s.limit); err != nil {
		return nil, fmt.Errorf("%w: query sys_audit_log: %v", ErrDataSourceUnavailable, err)
	}

	events := make([]models.AuditEvent, 0, len(rows))
	for _, r := range rows {
		if r.CreateTime.IsZero() {
			continue
		}
		ev := models.AuditEvent{
			Timestamp:     r.CreateTime.Time,
			Actor:         r.AppUserID.String,
			RowCount:      max(r.ResultCount.Int64, 0),
			AffectedRows:  max(r.AffectedRows.Int64, 0),
			ExecTimeMs:    max(r.ExecutionTime.Float64, 0),
			ErrorCodeRisk: r.ErrorCode.Valid && r.ErrorCode.Int64 > 0,
			ClientAppRisk: features.ClientAppRisk(r.ClientApp.String),
			Label:         models.LabelNormal,
		}
		features.ApplySQL(&ev, r.SQLTemplate.String)
		events = append(events, ev)
	}
	frequency.RollingCounts(events, s.window)
	return events, nil
}

// dbTime scans the timestamp representations the supported drivers return.
type dbTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case int64:
		t.Time = time.Unix(v, 0)
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported create_time type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = ts
			return nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.Unix(secs, 0)
		return nil
	}
	return fmt.Errorf("unparseable create_time %q", s)
}
