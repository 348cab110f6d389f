package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rugwirobaker/irrigate/internal/command"
	"github.com/rugwirobaker/irrigate/internal/config"
	"github.com/rugwirobaker/irrigate/internal/flag"
	"github.com/rugwirobaker/irrigate/internal/iostreams"
	"github.com/rugwirobaker/irrigate/internal/render"
)

func NewInitCommand() *cobra.Command {
	const (
		long  = "Creates a default irrigate server configuration file at the specified path"
		short = "Creates configuration file"
	)

	cmd := command.New("init", short, long, runInit)

	flag.Add(cmd,
		flag.String{
			Name:        "path",
			Shorthand:   "p",
			Description: "The path to write the configuration file",
			Default:     "irrigate.yaml",
		},
		flag.Yes(),
	)
	return cmd
}

func runInit(ctx context.Context) error {
	var (
		io   = iostreams.FromContext(ctx)
		path = flag.GetString(ctx, "path")
	)

	if _, err := os.Stat(path); err == nil && !flag.GetBool(ctx, "yes") {
		overwrite, err := render.Confirmf(ctx, "%s already exists. Overwrite it?", path)
		switch {
		case errors.Is(err, render.ErrNonInteractive):
			return fmt.Errorf("%s already exists, pass --yes to overwrite it", path)
		case err != nil:
			return err
		case !overwrite:
			return nil
		}
	}

	cfg := config.Default()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("could not create configuration file: %w", err)
	}
	defer file.Close()

	if err := cfg.Write(file); err != nil {
		return fmt.Errorf("could not write configuration file: %w", err)
	}

	fmt.Fprintf(io.Out, "Wrote configuration to %s\n", path)
	return nil
}
