package alerting

import (
	"testing"
	"time"

	"classmon/internal/config"
	"classmon/internal/model"
)

func f(v float64) *float64 { return &v }

func testReading(ts time.Time) model.Reading {
	return model.Reading{DeviceID: "esp32-01", Timestamp: ts}
}

func TestSoundAboveThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	r := testReading(time.Now().UTC())
	r.SoundLevel = f(81)
	alerts := Evaluate(r, cfg.Thresholds)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Type != model.AlertSound || alerts[0].Severity != model.SeverityWarning {
		t.Fatalf("unexpected alert %v/%v", alerts[0].Type, alerts[0].Severity)
	}
	if alerts[0].Value != 81 {
		t.Fatalf("expected value 81, got %v", alerts[0].Value)
	}
	if !alerts[0].Timestamp.Equal(r.Timestamp) {
		t.Fatalf("alert timestamp must come from the reading")
	}
}

func TestExactThresholdNoAlert(t *testing.T) {
	cfg := config.DefaultConfig()
	r := testReading(time.Now().UTC())
	r.SoundLevel = f(80)
	r.Temperature = f(28)
	r.Humidity = f(70)
	r.COLevel = f(10)
	if alerts := Evaluate(r, cfg.Thresholds); len(alerts) != 0 {
		t.Fatalf("boundary values must not alert, got %d", len(alerts))
	}
}

func TestAbsentFieldsNeverTrigger(t *testing.T) {
	cfg := config.DefaultConfig()
	r := testReading(time.Now().UTC())
	if alerts := Evaluate(r, cfg.Thresholds); len(alerts) != 0 {
		t.Fatalf("empty reading must not alert, got %d", len(alerts))
	}
}

func TestMultipleBreachesOneReading(t *testing.T) {
	cfg := config.DefaultConfig()
	r := testReading(time.Now().UTC())
	r.Temperature = f(30)
	r.Humidity = f(20)
	r.COLevel = f(15)
	alerts := Evaluate(r, cfg.Thresholds)
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
	bySev := map[model.AlertType]model.Severity{}
	for _, a := range alerts {
		bySev[a.Type] = a.Severity
	}
	if bySev[model.AlertTemperature] != model.SeverityWarning {
		t.Fatalf("temperature breach must be WARNING")
	}
	if bySev[model.AlertHumidity] != model.SeverityInfo {
		t.Fatalf("humidity breach must be INFO")
	}
	if bySev[model.AlertCOLevel] != model.SeverityCritical {
		t.Fatalf("co breach must be CRITICAL")
	}
}

func TestLowTemperature(t *testing.T) {
	cfg := config.DefaultConfig()
	r := testReading(time.Now().UTC())
	r.Temperature = f(15)
	alerts := Evaluate(r, cfg.Thresholds)
	if len(alerts) != 1 || alerts[0].Type != model.AlertTemperature {
		t.Fatalf("expected one temperature alert, got %v", alerts)
	}
	if alerts[0].Message != "Low temperature: 15.00 C" {
		t.Fatalf("unexpected message %q", alerts[0].Message)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := config.DefaultConfig()
	r := testReading(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	r.SoundLevel = f(95.5)
	r.COLevel = f(12)
	first := Evaluate(r, cfg.Thresholds)
	second := Evaluate(r, cfg.Thresholds)
	if len(first) != len(second) {
		t.Fatalf("evaluation not deterministic: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("alert %d differs between runs", i)
		}
	}
}
