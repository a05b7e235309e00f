package model

import "time"

type AlertType string

const (
	AlertSound       AlertType = "SOUND"
	AlertTemperature AlertType = "TEMPERATURE"
	AlertHumidity    AlertType = "HUMIDITY"
	AlertCOLevel     AlertType = "CO_LEVEL"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Action string

const (
	ActionEntry Action = "ENTRY"
	ActionExit  Action = "EXIT"
)

// Reading is one telemetry sample from a classroom device. Measurement
// fields are pointers because a device may report any subset of them.
type Reading struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"deviceId"`
	SoundLevel  *float64  `json:"soundLevel,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	COLevel     *float64  `json:"coLevel,omitempty"`
	RSSI        *int      `json:"rssi,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Card struct {
	CardID      string    `json:"cardId"`
	StudentName string    `json:"studentName,omitempty"`
	RFIDUID     string    `json:"rfidUid"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AccessEntry struct {
	ID        int64     `json:"id"`
	CardID    string    `json:"cardId"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
}

type Alert struct {
	ID        int64     `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// PendingScan is the value held by the single-slot scan rendezvous.
// It is never persisted.
type PendingScan struct {
	UID       string    `json:"uid"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessLogView is an access log row joined with its card.
type AccessLogView struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	StudentName string    `json:"studentName,omitempty"`
	RFIDUID     string    `json:"rfidUid"`
}

// AttendanceRecord is a per-student rollup of one day's access entries.
type AttendanceRecord struct {
	StudentName string    `json:"studentName,omitempty"`
	RFIDUID     string    `json:"rfidUid"`
	Entries     int       `json:"entries"`
	FirstEntry  time.Time `json:"firstEntry"`
	LastEntry   time.Time `json:"lastEntry"`
}
