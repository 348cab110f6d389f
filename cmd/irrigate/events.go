package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"github.com/rugwirobaker/irrigate/internal/command"
	"github.com/rugwirobaker/irrigate/internal/config"
	"github.com/rugwirobaker/irrigate/internal/eventlog"
	"github.com/rugwirobaker/irrigate/internal/flag"
	"github.com/rugwirobaker/irrigate/internal/iostreams"
	"github.com/rugwirobaker/irrigate/internal/render"
)

func NewEventsCommand() *cobra.Command {
	const (
		long  = "Prints the recorded events, oldest first. With --follow, keeps printing events as the server appends them"
		short = "Lists recorded events"
	)

	cmd := command.New("events", short, long, runEvents)

	flag.Add(cmd,
		flag.Config(),
		flag.EventLog(),
		flag.Backend(),
		flag.Bool{
			Name:        "json",
			Description: "Print events as JSON",
		},
		flag.Bool{
			Name:        "follow",
			Shorthand:   "f",
			Description: "Follow the event log file (file backend only)",
		},
	)
	return cmd
}

func runEvents(ctx context.Context) error {
	ios := iostreams.FromContext(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	asJSON := flag.GetBool(ctx, "json")

	if flag.GetBool(ctx, "follow") {
		if cfg.EventLog.Backend != config.BackendFile {
			return fmt.Errorf("--follow requires the %s backend", config.BackendFile)
		}
		return followEvents(ctx, ios.Out, cfg.EventLog.Path, asJSON)
	}

	journal, err := openJournal(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read event log: %w", err)
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}

	if asJSON {
		return render.JSON(ios.Out, entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Timestamp, e.EventType, e.Message})
	}
	render.WriteTable(ios.Out, "Events", rows, "timestamp", "event type", "message")
	return nil
}

// followEvents prints the file journal from the start and keeps printing
// lines as they are appended, until ctx is canceled.
func followEvents(ctx context.Context, w io.Writer, path string, asJSON bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow event log: %w", err)
	}
	defer t.Cleanup()
	defer t.Stop()

	enc := json.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read event log: %w", line.Err)
			}
			if strings.TrimSpace(line.Text) == "" {
				continue
			}

			entries, err := eventlog.DecodeLine([]byte(line.Text))
			if err != nil {
				slog.Warn("Skipping undecodable event log line", "error", err)
				continue
			}
			for _, e := range entries {
				if asJSON {
					if err := enc.Encode(e); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(w, "%s  %-16s  %s\n", e.Timestamp, e.EventType, e.Message)
			}
		}
	}
}
