package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"classmon/internal/model"
)

// sqliteTimeLayout is fixed-width so stored timestamps sort
// lexicographically in ORDER BY and MIN/MAX.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:classroom.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			sound_level REAL,
			temperature REAL,
			humidity REAL,
			co_level REAL,
			rssi INTEGER,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id TEXT UNIQUE NOT NULL,
			student_name TEXT,
			rfid_uid TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_uid ON cards(rfid_uid)`,
		`CREATE TABLE IF NOT EXISTS access_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			action TEXT NOT NULL DEFAULT 'ENTRY',
			FOREIGN KEY (card_id) REFERENCES cards(card_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_log_ts ON access_log(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			value REAL NOT NULL,
			ts TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0
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

func encodeTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *sqliteStore) InsertReading(ctx context.Context, r model.Reading) (model.Reading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = nowUTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (device_id, sound_level, temperature, humidity, co_level, rssi, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.SoundLevel, r.Temperature, r.Humidity, r.COLevel, r.RSSI, encodeTime(r.Timestamp),
	)
	if err != nil {
		return model.Reading{}, opErr("insert reading", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Reading{}, opErr("insert reading", err)
	}
	r.ID = id
	return r, nil
}

const readingColumns = `id, device_id, sound_level, temperature, humidity, co_level, rssi, ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReadingText(row rowScanner) (model.Reading, error) {
	var r model.Reading
	var sound, temp, humidity, co sql.NullFloat64
	var rssi sql.NullInt64
	var ts string
	if err := row.Scan(&r.ID, &r.DeviceID, &sound, &temp, &humidity, &co, &rssi, &ts); err != nil {
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
	r.Timestamp = decodeTime(ts)
	return r, nil
}

func (s *sqliteStore) LatestReading(ctx context.Context) (model.Reading, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM readings ORDER BY ts DESC, id DESC LIMIT 1`)
	r, err := scanReadingText(row)
	if err == sql.ErrNoRows {
		return model.Reading{}, false, nil
	}
	if err != nil {
		return model.Reading{}, false, opErr("latest reading", err)
	}
	return r, true, nil
}

func (s *sqliteStore) ReadingsInWindow(ctx context.Context, from, to time.Time) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE ts >= ? AND ts < ? ORDER BY ts ASC, id ASC`,
		encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, opErr("readings in window", err)
	}
	defer rows.Close()
	var out []model.Reading
	for rows.Next() {
		r, err := scanReadingText(rows)
		if err != nil {
			return nil, opErr("readings in window", err)
		}
		out = append(out, r)
	}
	return out, opErr("readings in window", rows.Err())
}

func (s *sqliteStore) RecentReadings(ctx context.Context, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, opErr("recent readings", err)
	}
	defer rows.Close()
	var out []model.Reading
	for rows.Next() {
		r, err := scanReadingText(rows)
		if err != nil {
			return nil, opErr("recent readings", err)
		}
		out = append(out, r)
	}
	return out, opErr("recent readings", rows.Err())
}

func (s *sqliteStore) InsertAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = nowUTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (type, severity, message, value, ts, resolved) VALUES (?, ?, ?, ?, ?, 0)`,
		string(a.Type), string(a.Severity), a.Message, a.Value, encodeTime(a.Timestamp))
	if err != nil {
		return model.Alert{}, opErr("insert alert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Alert{}, opErr("insert alert", err)
	}
	a.ID = id
	a.Resolved = false
	return a, nil
}

func (s *sqliteStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, type, severity, message, value, ts, resolved FROM alerts WHERE 1=1`
	var args []any
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.Resolved != nil {
		query += ` AND resolved = ?`
		args = append(args, boolToInt(*f.Resolved))
	}
	if !f.Since.IsZero() {
		query += ` AND ts > ?`
		args = append(args, encodeTime(f.Since))
	}
	query += ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("list alerts", err)
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var ts string
		var resolved int
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &a.Value, &ts, &resolved); err != nil {
			return nil, opErr("list alerts", err)
		}
		a.Timestamp = decodeTime(ts)
		a.Resolved = resolved != 0
		out = append(out, a)
	}
	return out, opErr("list alerts", rows.Err())
}

func (s *sqliteStore) ResolveAlert(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved = 1 WHERE id = ?`, id)
	return opErr("resolve alert", err)
}

func (s *sqliteStore) InsertCard(ctx context.Context, c model.Card) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cards (card_id, student_name, rfid_uid, created_at) VALUES (?, ?, ?, ?)`,
		c.CardID, c.StudentName, c.RFIDUID, encodeTime(c.CreatedAt))
	return opErr("insert card", err)
}

// FindCardByUID returns the most recently registered card for a uid.
// Registration does not enforce uid uniqueness, so the newest row wins.
func (s *sqliteStore) FindCardByUID(ctx context.Context, uid string) (model.Card, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT card_id, student_name, rfid_uid, created_at FROM cards
		WHERE rfid_uid = ? ORDER BY created_at DESC, id DESC LIMIT 1`, uid)
	var c model.Card
	var created string
	err := row.Scan(&c.CardID, &c.StudentName, &c.RFIDUID, &created)
	if err == sql.ErrNoRows {
		return model.Card{}, false, nil
	}
	if err != nil {
		return model.Card{}, false, opErr("find card", err)
	}
	c.CreatedAt = decodeTime(created)
	return c, true, nil
}

func (s *sqliteStore) ListCards(ctx context.Context) ([]model.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT card_id, student_name, rfid_uid, created_at FROM cards ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, opErr("list cards", err)
	}
	defer rows.Close()
	var out []model.Card
	for rows.Next() {
		var c model.Card
		var created string
		if err := rows.Scan(&c.CardID, &c.StudentName, &c.RFIDUID, &created); err != nil {
			return nil, opErr("list cards", err)
		}
		c.CreatedAt = decodeTime(created)
		out = append(out, c)
	}
	return out, opErr("list cards", rows.Err())
}

func (s *sqliteStore) DeleteCard(ctx context.Context, cardID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE card_id = ?`, cardID)
	return opErr("delete card", err)
}

func (s *sqliteStore) InsertAccessEntry(ctx context.Context, e model.AccessEntry) (model.AccessEntry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = nowUTC()
	}
	if e.Action == "" {
		e.Action = model.ActionEntry
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO access_log (card_id, ts, action) VALUES (?, ?, ?)`,
		e.CardID, encodeTime(e.Timestamp), string(e.Action))
	if err != nil {
		return model.AccessEntry{}, opErr("insert access entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.AccessEntry{}, opErr("insert access entry", err)
	}
	e.ID = id
	return e, nil
}

func (s *sqliteStore) AccessLog(ctx context.Context, limit int) ([]model.AccessLogView, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.ts, l.action, c.student_name, c.rfid_uid
		FROM access_log l JOIN cards c ON l.card_id = c.card_id
		ORDER BY l.ts DESC, l.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, opErr("access log", err)
	}
	defer rows.Close()
	var out []model.AccessLogView
	for rows.Next() {
		var v model.AccessLogView
		var ts string
		if err := rows.Scan(&v.ID, &ts, &v.Action, &v.StudentName, &v.RFIDUID); err != nil {
			return nil, opErr("access log", err)
		}
		v.Timestamp = decodeTime(ts)
		out = append(out, v)
	}
	return out, opErr("access log", rows.Err())
}

func (s *sqliteStore) AttendanceForDate(ctx context.Context, date time.Time) ([]model.AttendanceRecord, error) {
	from, to := dayBounds(date)
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.student_name, c.rfid_uid, COUNT(*), MIN(l.ts), MAX(l.ts)
		FROM access_log l JOIN cards c ON l.card_id = c.card_id
		WHERE l.ts >= ? AND l.ts < ?
		GROUP BY c.card_id ORDER BY c.student_name`,
		encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, opErr("attendance for date", err)
	}
	defer rows.Close()
	var out []model.AttendanceRecord
	for rows.Next() {
		var rec model.AttendanceRecord
		var first, last string
		if err := rows.Scan(&rec.StudentName, &rec.RFIDUID, &rec.Entries, &first, &last); err != nil {
			return nil, opErr("attendance for date", err)
		}
		rec.FirstEntry = decodeTime(first)
		rec.LastEntry = decodeTime(last)
		out = append(out, rec)
	}
	return out, opErr("attendance for date", rows.Err())
}

func (s *sqliteStore) PresentCount(ctx context.Context, date time.Time) (int, error) {
	from, to := dayBounds(date)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT card_id) FROM access_log WHERE ts >= ? AND ts < ?`,
		encodeTime(from), encodeTime(to))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, opErr("present count", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
