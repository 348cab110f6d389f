package stream

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valyala/bytebufferpool"

	"github.com/rugwirobaker/irrigate/internal/eventlog"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// SSESink writes entries as server-sent events.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink sets the event-stream headers on w and sends them.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{w: w, flusher: flusher}, nil
}

// Send writes one "data:" frame and flushes it.
func (s *SSESink) Send(entry eventlog.Entry) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := EncodeFrame(buf, entry); err != nil {
		return err
	}
	if _, err := s.w.Write(buf.B); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// EncodeFrame appends the SSE frame for entry to buf:
//
//	data: {"timestamp":...}\n\n
func EncodeFrame(buf *bytebufferpool.ByteBuffer, entry eventlog.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return nil
}

// ServeSSE returns a handler streaming p over server-sent events.
func ServeSSE(p *Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sink, err := NewSSESink(w)
		if err != nil {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}
		_ = p.Stream(r.Context(), "sse", sink)
	}
}
