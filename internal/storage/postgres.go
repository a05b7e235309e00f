package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"classmon/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/classmon?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			sound_level DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			humidity DOUBLE PRECISION,
			co_level DOUBLE PRECISION,
			rssi INTEGER,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id BIGSERIAL PRIMARY KEY,
			card_id TEXT UNIQUE NOT NULL,
			student_name TEXT,
			rfid_uid TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_uid ON cards(rfid_uid)`,
		`CREATE TABLE IF NOT EXISTS access_log (
			id BIGSERIAL PRIMARY KEY,
			card_id TEXT NOT NULL REFERENCES cards(card_id),
			ts TIMESTAMPTZ NOT NULL,
			action TEXT NOT NULL DEFAULT 'ENTRY'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_log_ts ON access_log(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return opErr("init", err)
		}
	}
	return nil
}

func (s *postgresStore) InsertReading(ctx context.Context, r model.Reading) (model.Reading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = nowUTC()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO readings (device_id, sound_level, temperature, humidity, co_level, rssi, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.DeviceID, r.SoundLevel, r.Temperature, r.Humidity, r.COLevel, r.RSSI, r.Timestamp.UTC())
	if err := row.Scan(&r.ID); err != nil {
		return model.Reading{}, opErr("insert reading", err)
	}
	return r, nil
}

func scanReadingTZ(row rowScanner) (model.Reading, error) {
	var r model.Reading
	var sound, temp, humidity, co sql.NullFloat64
	var rssi sql.NullInt64
	if err := row.Scan(&r.ID, &r.DeviceID, &sound, &temp, &humidity, &co, &rssi, &r.Timestamp); err != nil {
		return model.Reading{}, err
	}
	if sound.Valid {
		v := sound.Float64
		r.SoundLevel = &v
	}
	if temp.Valid {
		v := temp.Float64
		r.Temperature = &v
	}
	if humidity.Valid {
		v := humidity.Float64
		r.Humidity = &v
	}
	if co.Valid {
		v := co.Float64
		r.COLevel = &v
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		r.RSSI = &v
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

func (s *postgresStore) LatestReading(ctx context.Context) (model.Reading, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM readings ORDER BY ts DESC, id DESC LIMIT 1`)
	r, err := scanReadingTZ(row)
	if err == sql.ErrNoRows {
		return model.Reading{}, false, nil
	}
	if err != nil {
		return model.Reading{}, false, opErr("latest reading", err)
	}
	return r, true, nil
}

func (s *postgresStore) ReadingsInWindow(ctx context.Context, from, to time.Time) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE ts >= $1 AND ts < $2 ORDER BY ts ASC, id ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, opErr("readings in window", err)
	}
	defer rows.Close()
	var out []model.Reading
	for rows.Next() {
		r, err := scanReadingTZ(rows)
		if err != nil {
			return nil, opErr("readings in window", err)
		}
		out = append(out, r)
	}
	return out, opErr("readings in window", rows.Err())
}

func (s *postgresStore) RecentReadings(ctx context.Context, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings ORDER BY ts DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, opErr("recent readings", err)
	}
	defer rows.Close()
	var out []model.Reading
	for rows.Next() {
		r, err := scanReadingTZ(rows)
		if err != nil {
			return nil, opErr("recent readings", err)
		}
		out = append(out, r)
	}
	return out, opErr("recent readings", rows.Err())
}

func (s *postgresStore) InsertAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = nowUTC()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (type, severity, message, value, ts, resolved)
		VALUES ($1, $2, $3, $4, $5, FALSE) RETURNING id`,
		string(a.Type), string(a.Severity), a.Message, a.Value, a.Timestamp.UTC())
	if err := row.Scan(&a.ID); err != nil {
		return model.Alert{}, opErr("insert alert", err)
	}
	a.Resolved = false
	return a, nil
}

func (s *postgresStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, type, severity, message, value, ts, resolved FROM alerts WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Type != "" {
		query += ` AND type = ` + arg(string(f.Type))
	}
	if f.Resolved != nil {
		query += ` AND resolved = ` + arg(*f.Resolved)
	}
	if !f.Since.IsZero() {
		query += ` AND ts > ` + arg(f.Since.UTC())
	}
	query += ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("list alerts", err)
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &a.Value, &a.Timestamp, &a.Resolved); err != nil {
			return nil, opErr("list alerts", err)
		}
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, opErr("list alerts", rows.Err())
}

func (s *postgresStore) ResolveAlert(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved = TRUE WHERE id = $1`, id)
	return opErr("resolve alert", err)
}

func (s *postgresStore) InsertCard(ctx context.Context, c model.Card) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cards (card_id, student_name, rfid_uid, created_at) VALUES ($1, $2, $3, $4)`,
		c.CardID, c.StudentName, c.RFIDUID, c.CreatedAt.UTC())
	return opErr("insert card", err)
}

func (s *postgresStore) FindCardByUID(ctx context.Context, uid string) (model.Card, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT card_id, student_name, rfid_uid, created_at FROM cards
		WHERE rfid_uid = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, uid)
	var c model.Card
	err := row.Scan(&c.CardID, &c.StudentName, &c.RFIDUID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Card{}, false, nil
	}
	if err != nil {
		return model.Card{}, false, opErr("find card", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, true, nil
}

func (s *postgresStore) ListCards(ctx context.Context) ([]model.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT card_id, student_name, rfid_uid, created_at FROM cards ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, opErr("list cards", err)
	}
	defer rows.Close()
	var out []model.Card
	for rows.Next() {
		var c model.Card
		if err := rows.Scan(&c.CardID, &c.StudentName, &c.RFIDUID, &c.CreatedAt); err != nil {
			return nil, opErr("list cards", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, opErr("list cards", rows.Err())
}

func (s *postgresStore) DeleteCard(ctx context.Context, cardID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE card_id = $1`, cardID)
	return opErr("delete card", err)
}

func (s *postgresStore) InsertAccessEntry(ctx context.Context, e model.AccessEntry) (model.AccessEntry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = nowUTC()
	}
	if e.Action == "" {
		e.Action = model.ActionEntry
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO access_log (card_id, ts, action) VALUES ($1, $2, $3) RETURNING id`,
		e.CardID, e.Timestamp.UTC(), string(e.Action))
	if err := row.Scan(&e.ID); err != nil {
		return model.AccessEntry{}, opErr("insert access entry", err)
	}
	return e, nil
}

func (s *postgresStore) AccessLog(ctx context.Context, limit int) ([]model.AccessLogView, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.ts, l.action, c.student_name, c.rfid_uid
		FROM access_log l JOIN cards c ON l.card_id = c.card_id
		ORDER BY l.ts DESC, l.id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, opErr("access log", err)
	}
	defer rows.Close()
	var out []model.AccessLogView
	for rows.Next() {
		var v model.AccessLogView
		if err := rows.Scan(&v.ID, &v.Timestamp, &v.Action, &v.StudentName, &v.RFIDUID); err != nil {
			return nil, opErr("access log", err)
		}
		v.Timestamp = v.Timestamp.UTC()
		out = append(out, v)
	}
	return out, opErr("access log", rows.Err())
}

func (s *postgresStore) AttendanceForDate(ctx context.Context, date time.Time) ([]model.AttendanceRecord, error) {
	from, to := dayBounds(date)
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.student_name, c.rfid_uid, COUNT(*), MIN(l.ts), MAX(l.ts)
		FROM access_log l JOIN cards c ON l.card_id = c.card_id
		WHERE l.ts >= $1 AND l.ts < $2
		GROUP BY c.card_id, c.student_name, c.rfid_uid ORDER BY c.student_name`,
		from, to)
	if err != nil {
		return nil, opErr("attendance for date", err)
	}
	defer rows.Close()
	var out []model.AttendanceRecord
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(&rec.StudentName, &rec.RFIDUID, &rec.Entries, &rec.FirstEntry, &rec.LastEntry); err != nil {
			return nil, opErr("attendance for date", err)
		}
		rec.FirstEntry = rec.FirstEntry.UTC()
		rec.LastEntry = rec.LastEntry.UTC()
		out = append(out, rec)
	}
	return out, opErr("attendance for date", rows.Err())
}

func (s *postgresStore) PresentCount(ctx context.Context, date time.Time) (int, error) {
	from, to := dayBounds(date)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT card_id) FROM access_log WHERE ts >= $1 AND ts < $2`, from, to)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, opErr("present count", err)
	}
	return n, nil
}
