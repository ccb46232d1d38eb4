// Package groutine starts named goroutines. Names show up as pprof labels
// and can be read back from the context for logging.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go runs fn on a new goroutine labelled with name and returns a channel that
// is closed when fn returns. A nil parent means context.Background().
//
//	done := groutine.Go(ctx, "signals:/org/bluez/hci0/dev_AA", func(ctx context.Context) {
//	    // work
//	})
//	<-done
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}
	done := make(chan struct{})

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
	return done
}

// Name returns the goroutine name stored in ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}
