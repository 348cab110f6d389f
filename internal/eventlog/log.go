package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Log is the in-memory event log mirrored to a Journal.
type Log struct {
	journal Journal
	logger  *slog.Logger

	mu          sync.RWMutex
	entries     []Entry
	subscribers map[int]chan struct{}
	nextID      int
}

// New creates an empty log backed by journal. Call Load to populate it.
func New(journal Journal, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		journal:     journal,
		logger:      logger,
		entries:     []Entry{},
		subscribers: make(map[int]chan struct{}),
	}
}

// Load replaces the in-memory log with the journal contents.
// A missing or corrupt journal leaves the log empty; the failure is
// logged and never returned.
func (l *Log) Load(ctx context.Context) {
	entries, err := l.journal.Load(ctx)
	if err != nil {
		l.logger.Warn("Discarding unreadable event journal", "error", err)
		entries = nil
	}
	if entries == nil {
		entries = []Entry{}
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.logger.Info("Event log loaded", "entries", len(entries))
}

// Append persists entry and then adds it to the in-memory log.
// If the journal rejects the entry the in-memory log is left unchanged.
func (l *Log) Append(ctx context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.journal.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	l.entries = append(l.entries, entry)

	for _, ch := range l.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// a notification is already pending
		}
	}
	return nil
}

// All returns a copy of the whole log.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent entry.
func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Since returns a copy of the entries at index i and later.
func (l *Log) Since(i int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i < 0 {
		i = 0
	}
	if i >= len(l.entries) {
		return nil
	}
	out := make([]Entry, len(l.entries)-i)
	copy(out, l.entries[i:])
	return out
}

// Subscribe registers for append notifications. Notifications coalesce:
// a receiver that falls behind sees one pending signal, not one per entry.
// The returned func unregisters the subscription.
func (l *Log) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subscribers[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subscribers, id)
			l.mu.Unlock()
		})
	}
}

// Close closes the underlying journal.
func (l *Log) Close() error {
	return l.journal.Close()
}
