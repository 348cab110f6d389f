package main

import (
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rugwirobaker/irrigate/internal/config"
	"github.com/rugwirobaker/irrigate/internal/server"
)

// configureLogger installs the default logger. Output goes to stderr, or to
// a rotated file when log.path is set; the returned closer releases it.
func configureLogger(c *config.Config, stderr io.Writer) (io.Closer, error) {
	opts := slog.HandlerOptions{Level: &server.LogLevel}

	server.LogLevel.Lock()
	if c.Log.Debug {
		server.LogLevel.Set(slog.LevelDebug)
	} else {
		server.LogLevel.Set(slog.LevelInfo)
	}
	server.LogLevel.Unlock()

	if !c.Log.Timestamp {
		opts.ReplaceAttr = removeTime
	}

	out := stderr
	var closer io.Closer = nopCloser{}
	if c.Log.Path != nil && *c.Log.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   *c.Log.Path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out, closer = rotator, rotator
	}

	var handler slog.Handler
	switch format := c.Log.Format; format {
	case "text":
		handler = slog.NewTextHandler(out, &opts)
	case "json":
		handler = slog.NewJSONHandler(out, &opts)
	default:
		closer.Close()
		return nil, fmt.Errorf("invalid log format: %q", format)
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

// removeTime removes the "time" field from slog.
func removeTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
