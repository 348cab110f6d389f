package command

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rugwirobaker/irrigate/internal/flag"
)

type Runner func(context.Context) error

func New(usage, short, long string, fn Runner) *cobra.Command {
	return &cobra.Command{
		Use:   usage,
		Short: short,
		Long:  long,
		RunE:  newRunE(fn),
	}
}

// newRunE hands fn a context carrying the command's parsed flags.
func newRunE(fn Runner) func(*cobra.Command, []string) error {
	if fn == nil {
		return nil
	}
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fn(flag.NewContext(ctx, cmd.Flags()))
	}
}
