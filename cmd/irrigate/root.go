package main

import (
	"github.com/spf13/cobra"

	"github.com/rugwirobaker/irrigate/internal/command"
)

func NewRootCmd() *cobra.Command {
	const (
		long  = "Irrigate serves the garden UI, records watering events and relays commands to the ESP32 irrigation controller"
		short = "irrigate is a home irrigation server"
	)

	cmd := command.New("irrigate", short, long, nil)

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
	}

	cmd.AddCommand(
		NewServeCommand(),
		NewInitCommand(),
		NewEventsCommand(),
	)
	return cmd
}
