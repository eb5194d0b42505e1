package types

import (
	"context"
	"log/slog"
	"time"
)

// Logger defines the structured logging interface used throughout the module.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// slogAdapter wraps *slog.Logger to satisfy Logger.
type slogAdapter struct {
	l *slog.Logger
}

// NewLogger adapts an *slog.Logger to the Logger interface.
func NewLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogAdapter{l: l}
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) Logger       { return &slogAdapter{l: a.l.With(args...)} }

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// SendFunc is an opaque channel sender. The actual transport integrations
// (SES, Twilio, FCM, in-app inbox) live outside the resilience core.
type SendFunc func(ctx context.Context, n *Notification) (*DeliveryResult, error)

// SenderRegistry resolves the sender for a channel.
type SenderRegistry interface {
	Sender(channel ChannelType) (SendFunc, bool)
}

// AlertSink is a fire-and-forget operator alert publisher. Implementations
// must never block the caller on delivery problems; failures are surfaced
// through metrics, not returned to the hot path.
type AlertSink interface {
	Raise(ctx context.Context, severity AlertSeverity, message string, metadata map[string]string)
}

// AuditAppender records append-only audit events. Writes are best-effort:
// callers log-and-continue on error and bump a failure counter.
type AuditAppender interface {
	AppendFallbackEvent(ctx context.Context, ev FallbackEvent) error
	AppendRecoveryEvent(ctx context.Context, ev RecoveryEvent) error
	AppendHealthAlert(ctx context.Context, alert HealthAlert) error
}
