package httpx

import "context"

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

// WithUserID records the authenticated user for downstream handlers.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext returns the user set by WithUserID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID).(string)
	return v, ok && v != ""
}
