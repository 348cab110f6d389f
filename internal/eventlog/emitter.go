package eventlog

import (
	"context"
	"time"
)

// Appender is the part of Log the Emitter writes to.
type Appender interface {
	Append(ctx context.Context, entry Entry) error
}

// Emitter stamps events with the wall clock and appends them to a log.
type Emitter struct {
	log    Appender
	now    func() time.Time
	onEmit func(kind string)
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the clock used to stamp entries.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		e.now = now
	}
}

// WithEmitHook registers fn to be called with the kind of every event
// that was appended successfully.
func WithEmitHook(fn func(kind string)) EmitterOption {
	return func(e *Emitter) {
		e.onEmit = fn
	}
}

// NewEmitter creates an Emitter writing to log.
func NewEmitter(log Appender, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		log: log,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit records an event of the given kind. Neither kind nor message is
// validated.
func (e *Emitter) Emit(ctx context.Context, kind, message string) (Entry, error) {
	entry := NewEntry(e.now(), kind, message)
	if err := e.log.Append(ctx, entry); err != nil {
		return entry, err
	}
	if e.onEmit != nil {
		e.onEmit(kind)
	}
	return entry, nil
}
