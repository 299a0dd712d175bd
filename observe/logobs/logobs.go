// Package logobs reports scope lifecycle events as structured log records.
package logobs

import (
	"context"
	"log/slog"
	"time"
)

// Observer implements scope.Observer on a slog.Logger. Successful tasks are
// logged at Debug, failed ones at Warn and panics at Error.
type Observer struct {
	log *slog.Logger
}

// New returns an Observer writing to l, or to slog.Default when l is nil.
func New(l *slog.Logger) *Observer {
	if l == nil {
		l = slog.Default()
	}
	return &Observer{log: l.With(slog.String("component", "scope"))}
}

func (o *Observer) ScopeCreated() {
	o.log.Debug("scope created")
}

func (o *Observer) TaskSpawned() {
	o.log.Debug("task spawned")
}

func (o *Observer) TaskFinished(dur time.Duration, err error, panicked bool) {
	level := slog.LevelDebug
	switch {
	case panicked:
		level = slog.LevelError
	case err != nil:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{slog.Duration("duration", dur)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	if panicked {
		attrs = append(attrs, slog.Bool("panicked", true))
	}
	o.log.LogAttrs(context.Background(), level, "task finished", attrs...)
}

func (o *Observer) ScopeJoined(wait time.Duration) {
	o.log.Debug("scope joined", slog.Duration("wait", wait))
}
