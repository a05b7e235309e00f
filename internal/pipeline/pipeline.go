package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"classmon/internal/alerting"
	"classmon/internal/attendance"
	"classmon/internal/config"
	"classmon/internal/model"
	"classmon/internal/storage"
)

// ValidationError rejects a request before any write is attempted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

// ReadingPayload is one decoded inbound telemetry message. RFIDCard is
// an optional badge uid riding along with the sample.
type ReadingPayload struct {
	DeviceID    string
	SoundLevel  *float64
	Temperature *float64
	Humidity    *float64
	COLevel     *float64
	RSSI        *int
	Timestamp   time.Time
	RFIDCard    string
	Source      string
}

// Result reports what one ingestion call did: the stored reading and
// the alerts it raised.
type Result struct {
	Reading model.Reading
	Alerts  []model.Alert
}

type Pipeline struct {
	store      storage.Store
	slot       *attendance.ScanSlot
	correlator *attendance.Correlator
	logger     *slog.Logger
	cfg        atomic.Value
}

func New(cfg *config.Config, store storage.Store, slot *attendance.ScanSlot, correlator *attendance.Correlator, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		store:      store,
		slot:       slot,
		correlator: correlator,
		logger:     logger,
	}
	p.cfg.Store(cfg)
	return p
}

func (p *Pipeline) UpdateConfig(cfg *config.Config) {
	p.cfg.Store(cfg)
}

func (p *Pipeline) config() *config.Config {
	if v := p.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Ingest handles one reading. The raw row must persist or the whole
// call fails; alert evaluation and badge correlation run after it and
// never sink an already-recorded reading.
func (p *Pipeline) Ingest(ctx context.Context, payload ReadingPayload) (Result, error) {
	if strings.TrimSpace(payload.DeviceID) == "" {
		return Result{}, &ValidationError{Field: "deviceId"}
	}
	ts := payload.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	stored, err := p.store.InsertReading(ctx, model.Reading{
		DeviceID:    payload.DeviceID,
		SoundLevel:  payload.SoundLevel,
		Temperature: payload.Temperature,
		Humidity:    payload.Humidity,
		COLevel:     payload.COLevel,
		RSSI:        payload.RSSI,
		Timestamp:   ts,
	})
	if err != nil {
		return Result{}, err
	}
	res := Result{Reading: stored}

	cfg := p.config()
	for _, alert := range alerting.Evaluate(stored, cfg.Thresholds) {
		saved, err := p.store.InsertAlert(ctx, alert)
		if err != nil {
			p.warn("alert write failed",
				"device_id", stored.DeviceID,
				"type", alert.Type,
				"err", err,
			)
			continue
		}
		res.Alerts = append(res.Alerts, saved)
		p.warn("alert raised",
			"device_id", stored.DeviceID,
			"type", saved.Type,
			"severity", saved.Severity,
			"value", saved.Value,
		)
	}

	if uid := strings.TrimSpace(payload.RFIDCard); uid != "" {
		// Best effort only: telemetry capture must not fail because of
		// an unrelated badge problem.
		if _, err := p.correlator.LogAccess(ctx, uid, model.ActionEntry, attendance.BestEffort); err != nil {
			p.warn("badge correlation failed", "uid", uid, "err", err)
		}
	}
	return res, nil
}

// RecordScan stores a badge tap in the rendezvous slot.
func (p *Pipeline) RecordScan(uid string) (model.PendingScan, error) {
	if strings.TrimSpace(uid) == "" {
		return model.PendingScan{}, &ValidationError{Field: "rfidUid"}
	}
	return p.slot.Record(uid), nil
}

// ConsumeScan returns the pending badge tap, clearing the slot.
func (p *Pipeline) ConsumeScan() (model.PendingScan, bool) {
	return p.slot.Consume()
}

// Start consumes payloads from the async ingest sources.
func (p *Pipeline) Start(ctx context.Context, in <-chan ReadingPayload) {
	go func() {
		for {
			select {
			case payload := <-in:
				if _, err := p.Ingest(ctx, payload); err != nil {
					p.warn("ingest failed",
						"device_id", payload.DeviceID,
						"source", payload.Source,
						"err", err,
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
