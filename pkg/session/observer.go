package session

import (
	"context"

	"github.com/aussiebroadwan/stsession/pkg/eventx"
)

// Lifecycle events reported to the context observer. Key fetch events come
// from the keycache package.
const (
	EventSessionCreated      = "session_created"
	EventSessionVerified     = "session_verified"
	EventRefreshSucceeded    = "refresh_succeeded"
	EventRefreshUnauthorised = "refresh_unauthorised"
	EventTokenTheftDetected  = "token_theft_detected"
	EventSessionRevoked      = "session_revoked"
	EventClaimsRegenerated   = "claims_regenerated"
)

type (
	Observer     = eventx.Observer
	ObserverFunc = eventx.ObserverFunc
	Event        = eventx.Event

	// Recorder keeps every event in memory.
	Recorder = eventx.Recorder
)

// WithObserver attaches o to ctx; every operation run under ctx reports to it.
func WithObserver(ctx context.Context, o Observer) context.Context {
	return eventx.WithObserver(ctx, o)
}
