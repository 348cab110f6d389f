package flag

import (
	"context"
	"time"

	"github.com/spf13/pflag"
)

type contextKey struct{}

// NewContext derives a context carrying the parsed flag set of a command.
func NewContext(ctx context.Context, fs *pflag.FlagSet) context.Context {
	return context.WithValue(ctx, contextKey{}, fs)
}

// FromContext returns the flag set stored in ctx, or nil.
func FromContext(ctx context.Context) *pflag.FlagSet {
	fs, _ := ctx.Value(contextKey{}).(*pflag.FlagSet)
	return fs
}

// IsSet reports whether the named flag was given on the command line.
func IsSet(ctx context.Context, name string) bool {
	fs := FromContext(ctx)
	if fs == nil {
		return false
	}
	f := fs.Lookup(resolve(fs, name))
	return f != nil && f.Changed
}

// resolve returns name, or the name of one of its aliases when only the
// alias was given.
func resolve(fs *pflag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil || f.Changed {
		return name
	}
	for _, alias := range f.Annotations["alias"] {
		if a := fs.Lookup(alias); a != nil && a.Changed {
			return alias
		}
	}
	return name
}

// GetString returns the value of the named string flag, or "" when the flag
// does not exist.
func GetString(ctx context.Context, name string) string {
	fs := FromContext(ctx)
	if fs == nil {
		return ""
	}
	v, _ := fs.GetString(resolve(fs, name))
	return v
}

// GetBool returns the value of the named bool flag.
func GetBool(ctx context.Context, name string) bool {
	fs := FromContext(ctx)
	if fs == nil {
		return false
	}
	v, _ := fs.GetBool(resolve(fs, name))
	return v
}

// GetInt returns the value of the named int flag.
func GetInt(ctx context.Context, name string) int {
	fs := FromContext(ctx)
	if fs == nil {
		return 0
	}
	v, _ := fs.GetInt(resolve(fs, name))
	return v
}

// GetDuration returns the value of the named duration flag.
func GetDuration(ctx context.Context, name string) time.Duration {
	fs := FromContext(ctx)
	if fs == nil {
		return 0
	}
	v, _ := fs.GetDuration(resolve(fs, name))
	return v
}
