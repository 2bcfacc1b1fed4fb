package workflow

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
)

// MonitorContext identifies who a run belongs to for metrics and logs. It is
// not carried implicitly across goroutines: every node restores it from the
// Context into the ctx it hands to collaborators.
type MonitorContext struct {
	UserID int64 `json:"userId"`
	AppID  int64 `json:"appId"`
}

type monitorKey struct{}

// WithMonitor attaches m to ctx.
func WithMonitor(ctx context.Context, m MonitorContext) context.Context {
	return context.WithValue(ctx, monitorKey{}, m)
}

// MonitorFrom returns the monitor value attached to ctx.
func MonitorFrom(ctx context.Context) (MonitorContext, bool) {
	m, ok := ctx.Value(monitorKey{}).(MonitorContext)
	return m, ok
}

// WithoutMonitor returns ctx with the monitor value masked.
func WithoutMonitor(ctx context.Context) context.Context {
	return context.WithValue(ctx, monitorKey{}, nil)
}

// MarshalZerologObject lets a monitor value be logged with zerolog's Object.
func (m MonitorContext) MarshalZerologObject(e *zerolog.Event) {
	e.Str("user_id", strconv.FormatInt(m.UserID, 10)).
		Str("app_id", strconv.FormatInt(m.AppID, 10))
}
