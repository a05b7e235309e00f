package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"classmon/internal/config"
	"classmon/internal/model"
)

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	Type     model.AlertType
	Resolved *bool
	Since    time.Time
	Limit    int
}

// Store is the persistence surface the pipeline and API are written
// against. Every implementation must make each insert atomic; readers
// never observe a partially written row.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	InsertReading(ctx context.Context, r model.Reading) (model.Reading, error)
	LatestReading(ctx context.Context) (model.Reading, bool, error)
	ReadingsInWindow(ctx context.Context, from, to time.Time) ([]model.Reading, error)
	RecentReadings(ctx context.Context, limit int) ([]model.Reading, error)

	InsertAlert(ctx context.Context, a model.Alert) (model.Alert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id int64) error

	InsertCard(ctx context.Context, c model.Card) error
	FindCardByUID(ctx context.Context, uid string) (model.Card, bool, error)
	ListCards(ctx context.Context) ([]model.Card, error)
	DeleteCard(ctx context.Context, cardID string) error

	InsertAccessEntry(ctx context.Context, e model.AccessEntry) (model.AccessEntry, error)
	AccessLog(ctx context.Context, limit int) ([]model.AccessLogView, error)
	AttendanceForDate(ctx context.Context, date time.Time) ([]model.AttendanceRecord, error)
	PresentCount(ctx context.Context, date time.Time) (int, error)
}

// OpError wraps a failed persistence operation. A write that fails with
// an OpError is fatal to the call that issued it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// dayBounds returns the UTC day containing t as a half-open interval.
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
