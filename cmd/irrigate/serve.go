package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rugwirobaker/irrigate/internal/command"
	"github.com/rugwirobaker/irrigate/internal/device"
	"github.com/rugwirobaker/irrigate/internal/eventlog"
	"github.com/rugwirobaker/irrigate/internal/flag"
	"github.com/rugwirobaker/irrigate/internal/iostreams"
	"github.com/rugwirobaker/irrigate/internal/metrics"
	"github.com/rugwirobaker/irrigate/internal/server"
	"github.com/rugwirobaker/irrigate/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cobra.Command {
	const (
		longDesc  = "Serves the irrigation UI and API, records events and relays watering commands to the controller"
		shortDesc = "Starts the irrigate server"
	)
	cmd := command.New("serve", shortDesc, longDesc, runServe)

	flag.Add(cmd,
		flag.Config(),
		flag.Int{
			Name:        "port",
			Shorthand:   "p",
			Description: "Port to listen on (overrides PORT)",
		},
		flag.String{
			Name:        "device-url",
			Description: "Base URL or address of the irrigation controller (overrides ESP_IP)",
			Aliases:     []string{"esp-ip"},
		},
		flag.Duration{
			Name:        "device-timeout",
			Description: "Timeout for controller requests, 0 waits forever",
		},
		flag.EventLog(),
		flag.Backend(),
		flag.String{
			Name:         "stream-mode",
			Description:  "Event stream mode: poll sends the latest event every second, push sends every new event",
			CompletionFn: completeStreamMode,
		},
		flag.String{
			Name:        "log-format",
			Description: "Service log format: text or json",
		},
		flag.String{
			Name:        "log-path",
			Description: "Write the service log to this file, rotated",
		},
		flag.Bool{
			Name:        "debug",
			Description: "Enable debug logging",
		},
		flag.String{
			Name:        "env-file",
			Description: "Environment file loaded before reading the configuration",
			Default:     ".env",
		},
	)

	return cmd
}

func completeStreamMode(ctx context.Context, cmd *cobra.Command, args []string, partial string) ([]string, error) {
	return []string{string(stream.ModePoll), string(stream.ModePush)}, nil
}

func runServe(ctx context.Context) error {
	io := iostreams.FromContext(ctx)

	if err := loadEnvFile(ctx); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	closer, err := configureLogger(cfg, io.ErrOut)
	if err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	defer closer.Close()

	logger := slog.Default()

	journal, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}

	events := eventlog.New(journal, logger)
	defer events.Close()
	events.Load(ctx)

	dev, err := device.New(cfg.Device.URL,
		device.WithTimeout(cfg.Device.Timeout),
		device.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("invalid device address: %w", err)
	}
	if dev.BaseURL() == "" {
		logger.Warn("No controller address configured, set ESP_IP to enable device routes")
	}

	mode, err := stream.ParseMode(cfg.Stream.Mode)
	if err != nil {
		return err
	}

	m := metrics.New()
	pub := stream.NewPublisher(events,
		stream.WithMode(mode),
		stream.WithInterval(cfg.Stream.Interval),
		stream.WithLogger(logger),
		stream.WithObserver(m),
	)

	srv := server.New(events, dev,
		server.WithPublisher(pub),
		server.WithMetrics(m),
		server.WithLogger(logger),
	)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// streams are long lived, so no write timeout; they end when ctx does
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Irrigate server listening",
			"addr", listener.Addr().String(),
			"device", dev.BaseURL(),
			"backend", cfg.EventLog.Backend,
			"stream_mode", mode,
			"events", events.Len(),
		)
		errc <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}

	logger.Info("Irrigate server stopped")
	return nil
}

// loadEnvFile loads the --env-file into the environment without overriding
// variables already set. A missing default file is not an error.
func loadEnvFile(ctx context.Context) error {
	path := flag.GetString(ctx, "env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !flag.IsSet(ctx, "env-file") {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}
