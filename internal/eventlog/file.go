package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// FileJournal persists entries to an append-only file. Every line holds a
// JSON array with exactly one entry:
//
//	[{"timestamp": "...", "event_type": "...", "message": "..."}]
type FileJournal struct {
	path string

	mu     sync.Mutex
	writer *reopeningWriter
}

// FileOption configures a FileJournal.
type FileOption func(*fileOptions)

type fileOptions struct {
	attempts int
	minWait  time.Duration
	maxWait  time.Duration
	factory  writerFactory
}

// WithReopenAttempts bounds how many times a failed write reopens the file
// before giving up.
func WithReopenAttempts(n int) FileOption {
	return func(o *fileOptions) {
		o.attempts = n
	}
}

// WithReopenBackoff sets the wait between reopen attempts.
func WithReopenBackoff(minWait, maxWait time.Duration) FileOption {
	return func(o *fileOptions) {
		o.minWait = minWait
		o.maxWait = maxWait
	}
}

// withWriterFactory replaces the file opener, used by tests.
func withWriterFactory(f writerFactory) FileOption {
	return func(o *fileOptions) {
		o.factory = f
	}
}

// NewFileJournal creates a journal at path. The file is created lazily on
// the first append.
func NewFileJournal(path string, opts ...FileOption) *FileJournal {
	o := fileOptions{
		attempts: 3,
		minWait:  50 * time.Millisecond,
		maxWait:  time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = func() (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		}
	}

	return &FileJournal{
		path: path,
		writer: &reopeningWriter{
			factory:  o.factory,
			attempts: o.attempts,
			backoff: backoff.Backoff{
				Min:    o.minWait,
				Max:    o.maxWait,
				Factor: 2,
				Jitter: true,
			},
		},
	}
}

// Path returns the journal file path.
func (j *FileJournal) Path() string {
	return j.path
}

// Load reads the journal. A missing file is an empty journal. Besides the
// line format, a file holding a single JSON array of entries is accepted.
func (j *FileJournal) Load(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event journal: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	entries, lineErr := DecodeLines(data)
	if lineErr == nil {
		return entries, nil
	}

	// a journal written as one (possibly indented) array
	var whole []Entry
	if err := json.Unmarshal(data, &whole); err == nil {
		return whole, nil
	}
	return nil, lineErr
}

// DecodeLines decodes journal lines, skipping blank ones.
func DecodeLines(data []byte) ([]Entry, error) {
	var entries []Entry
	for n, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		batch, err := DecodeLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, n+1, err)
		}
		entries = append(entries, batch...)
	}
	return entries, nil
}

// DecodeLine decodes a single journal line.
func DecodeLine(line []byte) ([]Entry, error) {
	var batch []Entry
	if err := json.Unmarshal(line, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// EncodeLine encodes entry in the journal line format, newline included.
func EncodeLine(entry Entry) ([]byte, error) {
	line, err := json.Marshal([]Entry{entry})
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// Append writes entry as a new line.
func (j *FileJournal) Append(ctx context.Context, entry Entry) error {
	line, err := EncodeLine(entry)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write event journal: %w", err)
	}
	return nil
}

// Close closes the journal file. Further appends return ErrClosed.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writer.Close()
}

// writerFactory opens a fresh destination for journal writes.
type writerFactory func() (io.WriteCloser, error)

// reopeningWriter writes through a lazily opened io.WriteCloser and, when a
// write fails, reopens it with backoff a bounded number of times.
// Callers serialize access.
type reopeningWriter struct {
	factory  writerFactory
	backoff  backoff.Backoff
	attempts int

	writer io.WriteCloser
	closed bool
}

func (rw *reopeningWriter) Write(p []byte) (int, error) {
	if rw.closed {
		return 0, ErrClosed
	}

	if rw.writer == nil {
		if err := rw.renew(); err != nil {
			return 0, err
		}
	}

	n, err := rw.writer.Write(p)
	if err == nil {
		return n, nil
	}
	if n > 0 {
		// a partial line is already on disk; writing it again would
		// duplicate the prefix. Terminate it so the next entry starts on
		// its own line.
		if _, nlErr := rw.writer.Write([]byte{'\n'}); nlErr != nil {
			rw.writer.Close()
			rw.writer = nil
		}
		return n, err
	}

	if renewErr := rw.renew(); renewErr != nil {
		return 0, fmt.Errorf("%w (reopen failed: %v)", err, renewErr)
	}
	return rw.writer.Write(p)
}

// renew replaces the current writer, retrying the factory with backoff.
func (rw *reopeningWriter) renew() error {
	if rw.writer != nil {
		rw.writer.Close()
		rw.writer = nil
	}
	rw.backoff.Reset()

	attempts := rw.attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		var w io.WriteCloser
		if w, err = rw.factory(); err == nil {
			rw.writer = w
			return nil
		}
		if i < attempts-1 {
			time.Sleep(rw.backoff.Duration())
		}
	}
	return fmt.Errorf("failed to open event journal: %w", err)
}

func (rw *reopeningWriter) Close() error {
	if rw.closed {
		return nil
	}
	rw.closed = true
	if rw.writer != nil {
		err := rw.writer.Close()
		rw.writer = nil
		return err
	}
	return nil
}
