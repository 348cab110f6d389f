// Package eventlog implements the irrigation event log: an ordered,
// append-only sequence of entries held in memory and mirrored to a journal.
package eventlog

import (
	"context"
	"errors"
	"time"
)

// TimestampLayout is the ISO-8601 layout entries are stamped with.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Well known event kinds. Kinds are free-form; these are the ones the
// server emits.
const (
	KindManualOverride = "manual_override"
	KindAdjustSettings = "adjust_settings"
	KindSensorData     = "sensor_data"
)

var (
	// ErrCorrupt is returned by a journal whose persisted form cannot be decoded
	ErrCorrupt = errors.New("event journal is corrupt")

	// ErrClosed is returned when appending to a closed journal
	ErrClosed = errors.New("event journal is closed")
)

// Entry is a single recorded event. Entries are immutable once created.
type Entry struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Message   string `json:"message"`
}

// NewEntry creates an entry stamped with t.
func NewEntry(t time.Time, eventType, message string) Entry {
	return Entry{
		Timestamp: t.Format(TimestampLayout),
		EventType: eventType,
		Message:   message,
	}
}

// Journal is the persisted representation of the log.
// All methods accept context.Context for cancellation.
type Journal interface {
	// Load returns every persisted entry in insertion order
	Load(ctx context.Context) ([]Entry, error)

	// Append persists a single entry after all previously appended ones
	Append(ctx context.Context, entry Entry) error

	// Close releases journal resources
	Close() error
}
