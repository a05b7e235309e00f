package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"classmon/internal/model"
)

// memoryStore keeps everything in process memory. It backs the
// "memory" driver and doubles as the store used by package tests.
type memoryStore struct {
	mu       sync.RWMutex
	readings []model.Reading
	cards    []model.Card
	entries  []model.AccessEntry
	alerts   []model.Alert
	nextID   int64
}

func NewMemory() Store {
	return &memoryStore{nextID: 1}
}

func (s *memoryStore) Init(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                   { return nil }

func (s *memoryStore) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *memoryStore) InsertReading(ctx context.Context, r model.Reading) (model.Reading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = nowUTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.allocID()
	s.readings = append(s.readings, r)
	return r, nil
}

func (s *memoryStore) LatestReading(ctx context.Context) (model.Reading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.readings) == 0 {
		return model.Reading{}, false, nil
	}
	latest := s.readings[0]
	for _, r := range s.readings[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return latest, true, nil
}

func (s *memoryStore) ReadingsInWindow(ctx context.Context, from, to time.Time) ([]model.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Reading
	for _, r := range s.readings {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memoryStore) RecentReadings(ctx context.Context, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Reading, len(s.readings))
	copy(out, s.readings)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) InsertAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = nowUTC()
	}
	a.Resolved = false
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.allocID()
	s.alerts = append(s.alerts, a)
	return a, nil
}

func (s *memoryStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Resolved != nil && a.Resolved != *f.Resolved {
			continue
		}
		if !f.Since.IsZero() && !a.Timestamp.After(f.Since) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memoryStore) ResolveAlert(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Resolved = true
		}
	}
	return nil
}

func (s *memoryStore) InsertCard(ctx context.Context, c model.Card) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, c)
	return nil
}

// FindCardByUID mirrors the SQL stores: the most recently registered
// card wins when a uid was registered more than once.
func (s *memoryStore) FindCardByUID(ctx context.Context, uid string) (model.Card, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.cards) - 1; i >= 0; i-- {
		if s.cards[i].RFIDUID == uid {
			return s.cards[i], true, nil
		}
	}
	return model.Card{}, false, nil
}

func (s *memoryStore) ListCards(ctx context.Context) ([]model.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Card, len(s.cards))
	copy(out, s.cards)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) DeleteCard(ctx context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cards[:0]
	for _, c := range s.cards {
		if c.CardID != cardID {
			kept = append(kept, c)
		}
	}
	s.cards = kept
	return nil
}

func (s *memoryStore) InsertAccessEntry(ctx context.Context, e model.AccessEntry) (model.AccessEntry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = nowUTC()
	}
	if e.Action == "" {
		e.Action = model.ActionEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.allocID()
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *memoryStore) cardByID(cardID string) (model.Card, bool) {
	for i := len(s.cards) - 1; i >= 0; i-- {
		if s.cards[i].CardID == cardID {
			return s.cards[i], true
		}
	}
	return model.Card{}, false
}

func (s *memoryStore) AccessLog(ctx context.Context, limit int) ([]model.AccessLogView, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AccessLogView
	for _, e := range s.entries {
		card, ok := s.cardByID(e.CardID)
		if !ok {
			continue
		}
		out = append(out, model.AccessLogView{
			ID:          e.ID,
			Timestamp:   e.Timestamp,
			Action:      e.Action,
			StudentName: card.StudentName,
			RFIDUID:     card.RFIDUID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) AttendanceForDate(ctx context.Context, date time.Time) ([]model.AttendanceRecord, error) {
	from, to := dayBounds(date)
	s.mu.RLock()
	defer s.mu.RUnlock()
	byCard := make(map[string]*model.AttendanceRecord)
	for _, e := range s.entries {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		rec, ok := byCard[e.CardID]
		if !ok {
			card, found := s.cardByID(e.CardID)
			if !found {
				continue
			}
			rec = &model.AttendanceRecord{
				StudentName: card.StudentName,
				RFIDUID:     card.RFIDUID,
				FirstEntry:  e.Timestamp,
				LastEntry:   e.Timestamp,
			}
			byCard[e.CardID] = rec
		}
		rec.Entries++
		if e.Timestamp.Before(rec.FirstEntry) {
			rec.FirstEntry = e.Timestamp
		}
		if e.Timestamp.After(rec.LastEntry) {
			rec.LastEntry = e.Timestamp
		}
	}
	out := make([]model.AttendanceRecord, 0, len(byCard))
	for _, rec := range byCard {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentName < out[j].StudentName })
	return out, nil
}

func (s *memoryStore) PresentCount(ctx context.Context, date time.Time) (int, error) {
	from, to := dayBounds(date)
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		seen[e.CardID] = struct{}{}
	}
	return len(seen), nil
}
