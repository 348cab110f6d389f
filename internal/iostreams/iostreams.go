// forked from https://github.com/cli/cli/tree/trunk/pkg/iostreams

package iostreams

import (
	"context"
	"io"
	"os"
)

type IOStreams struct {
	In     io.ReadCloser
	Out    io.Writer
	ErrOut io.Writer
}

func NewStream(stdin io.ReadCloser, stdout, stderr io.Writer) *IOStreams {
	return &IOStreams{
		In:     stdin,
		Out:    stdout,
		ErrOut: stderr,
	}
}
func System() *IOStreams {
	return NewStream(os.Stdin, os.Stdout, os.Stderr)
}

type contextKey struct{}

// NewContext derives a context that carries io.
func NewContext(ctx context.Context, io *IOStreams) context.Context {
	return context.WithValue(ctx, contextKey{}, io)
}

// FromContext returns the IOStreams ctx carries, falling back to the
// process streams.
func FromContext(ctx context.Context) *IOStreams {
	if io, ok := ctx.Value(contextKey{}).(*IOStreams); ok {
		return io
	}
	return System()
}
