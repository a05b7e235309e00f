package attendance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"classmon/internal/model"
	"classmon/internal/storage"
)

// ErrNotRegistered reports a badge uid with no registered card. The
// caller is expected to register the badge first; nothing is written.
var ErrNotRegistered = errors.New("card not registered")

// Strictness selects how LogAccess reports failure. The matching and
// logging logic is the same either way.
type Strictness int

const (
	// Strict surfaces lookup misses and write failures to the caller.
	Strict Strictness = iota
	// BestEffort swallows failures into a warning. Used when badge
	// correlation rides along with telemetry and must never sink it.
	BestEffort
)

type AccessResult struct {
	Entry model.AccessEntry
	Card  model.Card
}

type Correlator struct {
	store  storage.Store
	logger *slog.Logger
}

func NewCorrelator(store storage.Store, logger *slog.Logger) *Correlator {
	return &Correlator{store: store, logger: logger}
}

// RegisterCard allocates a card id for a badge uid and stores the
// mapping. A uid may be registered more than once; lookups resolve to
// the newest registration.
func (c *Correlator) RegisterCard(ctx context.Context, rfidUID, studentName string) (model.Card, error) {
	card := model.Card{
		CardID:      uuid.NewString(),
		StudentName: strings.TrimSpace(studentName),
		RFIDUID:     strings.TrimSpace(rfidUID),
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.InsertCard(ctx, card); err != nil {
		return model.Card{}, err
	}
	return card, nil
}

// LogAccess resolves a badge uid to its card and appends an access
// entry. Under BestEffort any failure is logged and (nil, nil) is
// returned so the surrounding call can proceed.
func (c *Correlator) LogAccess(ctx context.Context, rfidUID string, action model.Action, mode Strictness) (*AccessResult, error) {
	if action == "" {
		action = model.ActionEntry
	}
	card, found, err := c.store.FindCardByUID(ctx, rfidUID)
	if err != nil {
		if mode == BestEffort {
			c.warn("badge lookup failed", "uid", rfidUID, "err", err)
			return nil, nil
		}
		return nil, err
	}
	if !found {
		if mode == BestEffort {
			c.warn("unknown badge uid, skipping attendance entry", "uid", rfidUID)
			return nil, nil
		}
		return nil, ErrNotRegistered
	}
	entry, err := c.store.InsertAccessEntry(ctx, model.AccessEntry{
		CardID:    card.CardID,
		Timestamp: time.Now().UTC(),
		Action:    action,
	})
	if err != nil {
		if mode == BestEffort {
			c.warn("attendance entry write failed", "uid", rfidUID, "err", err)
			return nil, nil
		}
		return nil, err
	}
	return &AccessResult{Entry: entry, Card: card}, nil
}

func (c *Correlator) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
