// Package eventx carries an optional lifecycle observer through context.
//
// Code that wants to report progress calls Emit; nothing happens unless the
// caller attached an Observer with WithObserver. Every event is also logged at
// debug level through the context logger.
package eventx

import (
	"context"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// Event is a single lifecycle notification.
type Event struct {
	Name  string
	Time  time.Time
	Attrs map[string]any
}

// Observer receives events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

type ctxKey struct{}

// WithObserver attaches o to ctx.
func WithObserver(ctx context.Context, o Observer) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// FromContext returns the attached observer or nil.
func FromContext(ctx context.Context) Observer {
	o, _ := ctx.Value(ctxKey{}).(Observer)
	return o
}

// Emit reports name with slog-style key/value attrs.
func Emit(ctx context.Context, name string, attrs ...any) {
	slogx.FromContext(ctx).DebugContext(ctx, name, attrs...)

	o := FromContext(ctx)
	if o == nil {
		return
	}

	e := Event{Name: name, Time: time.Now(), Attrs: make(map[string]any, len(attrs)/2)}
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); ok {
			e.Attrs[k] = attrs[i+1]
		}
	}
	o.Observe(ctx, e)
}
