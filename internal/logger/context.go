package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging fields that every log line
// emitted while handling one HTTP request should carry: its correlation
// ID, the resolved client fingerprint address, and the owner hash once
// it has been computed.
type LogContext struct {
	RequestID string    // chi's per-request correlation ID
	Route     string    // matched route pattern, e.g. "/f/{name}"
	ClientIP  string    // resolved client fingerprint source address
	OwnerHash string    // fingerprint hash, set once ownerHash() resolves it
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a request arriving from
// clientIP.
func NewLogContext(requestID, clientIP string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		RequestID: lc.RequestID,
		Route:     lc.Route,
		ClientIP:  lc.ClientIP,
		OwnerHash: lc.OwnerHash,
		StartTime: lc.StartTime,
	}
}

// WithRoute returns a copy with the matched route pattern set.
func (lc *LogContext) WithRoute(route string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Route = route
	}
	return clone
}

// WithOwnerHash returns a copy with the resolved owner hash set.
func (lc *LogContext) WithOwnerHash(hash string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.OwnerHash = hash
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
