package ingest

import (
	"testing"
	"time"
)

func TestDecodeReading(t *testing.T) {
	payload, err := DecodeReading([]byte(`{
		"deviceId": "esp32-01",
		"soundLevel": 42.5,
		"temperature": 21.0,
		"rssi": -61,
		"rfidCard": " ab12 ",
		"timestamp": "2026-03-01T09:30:00Z"
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DeviceID != "esp32-01" {
		t.Fatalf("unexpected device id %q", payload.DeviceID)
	}
	if payload.SoundLevel == nil || *payload.SoundLevel != 42.5 {
		t.Fatalf("unexpected sound level %v", payload.SoundLevel)
	}
	if payload.Humidity != nil || payload.COLevel != nil {
		t.Fatalf("absent fields must stay nil")
	}
	if payload.RSSI == nil || *payload.RSSI != -61 {
		t.Fatalf("unexpected rssi %v", payload.RSSI)
	}
	if payload.RFIDCard != "ab12" {
		t.Fatalf("badge uid must be trimmed, got %q", payload.RFIDCard)
	}
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if !payload.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", payload.Timestamp)
	}
}

func TestDecodeReadingNoTimestamp(t *testing.T) {
	payload, err := DecodeReading([]byte(`{"deviceId": "esp32-01"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Timestamp.IsZero() {
		t.Fatalf("missing timestamp must stay zero, got %v", payload.Timestamp)
	}
}

func TestDecodeReadingBadTimestamp(t *testing.T) {
	if _, err := DecodeReading([]byte(`{"deviceId": "a", "timestamp": "yesterday"}`)); err == nil {
		t.Fatalf("expected an error for an unparseable timestamp")
	}
}

func TestDecodeScan(t *testing.T) {
	uid, err := DecodeScan([]byte(`{"rfidUid": " ab12cd34 "}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if uid != "ab12cd34" {
		t.Fatalf("uid must be trimmed, got %q", uid)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	cases := []string{
		"2026-03-01T09:30:00Z",
		"2026-03-01 09:30:00",
		"2026-03-01T09:30:00",
	}
	for _, in := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if !got.UTC().Equal(want) {
			t.Fatalf("parse %q: got %v, want %v", in, got, want)
		}
	}
}

func TestParseTimestampUnix(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	sec, err := ParseTimestamp("1772357400")
	if err != nil {
		t.Fatalf("parse seconds: %v", err)
	}
	if !sec.Equal(want) {
		t.Fatalf("seconds epoch: got %v, want %v", sec, want)
	}
	ms, err := ParseTimestamp("1772357400000")
	if err != nil {
		t.Fatalf("parse millis: %v", err)
	}
	if !ms.Equal(want) {
		t.Fatalf("millis epoch: got %v, want %v", ms, want)
	}
}

func TestParseTimestampEmpty(t *testing.T) {
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("empty timestamp must error")
	}
}
