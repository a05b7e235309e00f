package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"classmon/internal/pipeline"
)

type readingEnvelope struct {
	DeviceID    string   `json:"deviceId"`
	SoundLevel  *float64 `json:"soundLevel"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	COLevel     *float64 `json:"coLevel"`
	RSSI        *int     `json:"rssi"`
	RFIDCard    string   `json:"rfidCard"`
	Timestamp   string   `json:"timestamp"`
}

// DecodeReading parses one telemetry JSON document into a payload.
// The timestamp is optional; when present it may be RFC3339, a common
// datetime layout, or a unix epoch in seconds or milliseconds.
func DecodeReading(data []byte) (pipeline.ReadingPayload, error) {
	var env readingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return pipeline.ReadingPayload{}, err
	}
	payload := pipeline.ReadingPayload{
		DeviceID:    strings.TrimSpace(env.DeviceID),
		SoundLevel:  env.SoundLevel,
		Temperature: env.Temperature,
		Humidity:    env.Humidity,
		COLevel:     env.COLevel,
		RSSI:        env.RSSI,
		RFIDCard:    strings.TrimSpace(env.RFIDCard),
	}
	if env.Timestamp != "" {
		ts, err := ParseTimestamp(env.Timestamp)
		if err != nil {
			return pipeline.ReadingPayload{}, fmt.Errorf("parse timestamp: %w", err)
		}
		payload.Timestamp = ts.UTC()
	}
	return payload, nil
}

type scanEnvelope struct {
	RFIDUID string `json:"rfidUid"`
}

// DecodeScan parses one badge scan JSON document and returns the uid.
func DecodeScan(data []byte) (string, error) {
	var env scanEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return strings.TrimSpace(env.RFIDUID), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
