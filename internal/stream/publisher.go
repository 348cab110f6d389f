// Package stream pushes the event log tail to long-lived client connections.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rugwirobaker/irrigate/internal/eventlog"
)

// Mode selects how a publisher learns about new entries.
type Mode string

const (
	// ModePoll sends the current tail every interval, whether or not it
	// changed. Entries appended and superseded between two ticks are never
	// sent.
	ModePoll Mode = "poll"

	// ModePush sends the tail on connect and then every entry appended
	// while the client stays connected, in order.
	ModePush Mode = "push"
)

// DefaultInterval is the poll period.
const DefaultInterval = time.Second

const clientIDAlphabet = "1234567890abcdef"

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePoll, ModePush:
		return m, nil
	case "":
		return ModePoll, nil
	default:
		return "", fmt.Errorf("invalid stream mode: %q", s)
	}
}

// Source is the read side of the event log.
type Source interface {
	Last() (eventlog.Entry, bool)
	Len() int
	Since(i int) []eventlog.Entry
	Subscribe() (<-chan struct{}, func())
}

// Sink receives entries for one client.
type Sink interface {
	Send(entry eventlog.Entry) error
}

// Observer is notified when clients come and go.
type Observer interface {
	StreamOpened(transport string)
	StreamClosed(transport string)
}

// Publisher runs one streaming loop per connected client.
type Publisher struct {
	source   Source
	mode     Mode
	interval time.Duration
	logger   *slog.Logger
	observer Observer
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMode sets the delivery mode.
func WithMode(m Mode) Option {
	return func(p *Publisher) {
		p.mode = m
	}
}

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// WithObserver registers a client lifecycle observer.
func WithObserver(o Observer) Option {
	return func(p *Publisher) {
		p.observer = o
	}
}

// NewPublisher creates a publisher reading from source.
func NewPublisher(source Source, opts ...Option) *Publisher {
	p := &Publisher{
		source:   source,
		mode:     ModePoll,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mode returns the configured delivery mode.
func (p *Publisher) Mode() Mode {
	return p.mode
}

// Stream writes entries to sink until ctx is canceled or the sink fails.
// A canceled context is a normal disconnect and returns nil.
func (p *Publisher) Stream(ctx context.Context, transport string, sink Sink) error {
	id, err := nanoid.Generate(clientIDAlphabet, 8)
	if err != nil {
		return fmt.Errorf("failed to generate client id: %w", err)
	}
	logger := p.logger.With("client_id", id, "transport", transport, "mode", p.mode)

	if p.observer != nil {
		p.observer.StreamOpened(transport)
		defer p.observer.StreamClosed(transport)
	}

	logger.Info("Stream client connected")
	defer logger.Info("Stream client disconnected")

	switch p.mode {
	case ModePush:
		err = p.push(ctx, sink)
	default:
		err = p.poll(ctx, sink)
	}

	// the client went away or its deadline passed
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logger.Warn("Stream ended", "error", err)
	}
	return err
}

func (p *Publisher) poll(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if last, ok := p.source.Last(); ok {
			if err := sink.Send(last); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Publisher) push(ctx context.Context, sink Sink) error {
	// subscribe before reading the cursor so no append falls in between
	notify, cancel := p.source.Subscribe()
	defer cancel()

	next := p.source.Len()
	if next > 0 {
		// the tail as of the cursor; later appends arrive via notify
		if tail := p.source.Since(next - 1); len(tail) > 0 {
			if err := sink.Send(tail[0]); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
			for _, entry := range p.source.Since(next) {
				if err := sink.Send(entry); err != nil {
					return err
				}
				next++
			}
		}
	}
}
