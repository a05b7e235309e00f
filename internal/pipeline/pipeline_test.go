package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"classmon/internal/attendance"
	"classmon/internal/config"
	"classmon/internal/model"
	"classmon/internal/storage"
)

func f(v float64) *float64 { return &v }

func newTestPipeline(store storage.Store) *Pipeline {
	slot := attendance.NewScanSlot()
	correlator := attendance.NewCorrelator(store, nil)
	return New(config.DefaultConfig(), store, slot, correlator, nil)
}

func TestIngestPersistsReadingAndAlerts(t *testing.T) {
	store := storage.NewMemory()
	pipe := newTestPipeline(store)
	ctx := context.Background()

	res, err := pipe.Ingest(ctx, ReadingPayload{
		DeviceID:   "esp32-01",
		SoundLevel: f(92),
		COLevel:    f(4),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Reading.ID == 0 {
		t.Fatalf("stored reading must carry an id")
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Type != model.AlertSound {
		t.Fatalf("expected one SOUND alert, got %v", res.Alerts)
	}

	latest, ok, err := store.LatestReading(ctx)
	if err != nil || !ok {
		t.Fatalf("latest reading: ok=%v err=%v", ok, err)
	}
	if latest.DeviceID != "esp32-01" {
		t.Fatalf("unexpected device id %q", latest.DeviceID)
	}
	alerts, err := store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alert must be persisted, got %d", len(alerts))
	}
}

func TestIngestMissingDeviceID(t *testing.T) {
	store := storage.NewMemory()
	pipe := newTestPipeline(store)

	_, err := pipe.Ingest(context.Background(), ReadingPayload{SoundLevel: f(50)})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "deviceId" {
		t.Fatalf("expected deviceId validation error, got %v", err)
	}
	if _, ok, _ := store.LatestReading(context.Background()); ok {
		t.Fatalf("rejected payload must not persist anything")
	}
}

func TestIngestUnknownBadgeStillSucceeds(t *testing.T) {
	store := storage.NewMemory()
	pipe := newTestPipeline(store)
	ctx := context.Background()

	res, err := pipe.Ingest(ctx, ReadingPayload{
		DeviceID:    "esp32-01",
		Temperature: f(21),
		RFIDCard:    "UNKNOWN01",
	})
	if err != nil {
		t.Fatalf("unknown badge must not sink the reading: %v", err)
	}
	if res.Reading.ID == 0 {
		t.Fatalf("reading must still persist")
	}
	logs, err := store.AccessLog(ctx, 10)
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("unknown badge must not create an access entry")
	}
}

func TestIngestKnownBadgeCreatesEntry(t *testing.T) {
	store := storage.NewMemory()
	pipe := newTestPipeline(store)
	ctx := context.Background()

	correlator := attendance.NewCorrelator(store, nil)
	if _, err := correlator.RegisterCard(ctx, "AB12CD34", "Ada"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := pipe.Ingest(ctx, ReadingPayload{
		DeviceID: "esp32-01",
		RFIDCard: "AB12CD34",
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	logs, err := store.AccessLog(ctx, 10)
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(logs) != 1 || logs[0].RFIDUID != "AB12CD34" {
		t.Fatalf("expected one access entry for the badge, got %v", logs)
	}
}

// failingAlertStore drops alert writes to prove they never fail ingestion.
type failingAlertStore struct {
	storage.Store
}

func (s *failingAlertStore) InsertAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	return model.Alert{}, errors.New("alert table unavailable")
}

func TestAlertWriteFailureIsNonFatal(t *testing.T) {
	store := &failingAlertStore{Store: storage.NewMemory()}
	pipe := newTestPipeline(store)
	ctx := context.Background()

	res, err := pipe.Ingest(ctx, ReadingPayload{
		DeviceID:   "esp32-01",
		SoundLevel: f(99),
	})
	if err != nil {
		t.Fatalf("alert write failure must not sink the reading: %v", err)
	}
	if len(res.Alerts) != 0 {
		t.Fatalf("failed alert writes must not be reported as raised")
	}
	if _, ok, _ := store.LatestReading(ctx); !ok {
		t.Fatalf("reading must persist despite the alert failure")
	}
}

func TestIngestKeepsPayloadTimestamp(t *testing.T) {
	store := storage.NewMemory()
	pipe := newTestPipeline(store)
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	res, err := pipe.Ingest(context.Background(), ReadingPayload{
		DeviceID:  "esp32-01",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Reading.Timestamp.Equal(ts) {
		t.Fatalf("device timestamp must be kept, got %v", res.Reading.Timestamp)
	}
}

func TestRecordScanEmptyUID(t *testing.T) {
	pipe := newTestPipeline(storage.NewMemory())
	_, err := pipe.RecordScan("   ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "rfidUid" {
		t.Fatalf("expected rfidUid validation error, got %v", err)
	}
	if _, ok := pipe.ConsumeScan(); ok {
		t.Fatalf("rejected scan must not fill the slot")
	}
}

func TestRecordAndConsumeScan(t *testing.T) {
	pipe := newTestPipeline(storage.NewMemory())
	if _, err := pipe.RecordScan("ab12"); err != nil {
		t.Fatalf("record scan: %v", err)
	}
	scan, ok := pipe.ConsumeScan()
	if !ok || scan.UID != "AB12" {
		t.Fatalf("expected AB12 pending, got %q (ok=%v)", scan.UID, ok)
	}
}
