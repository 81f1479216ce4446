package notify

import (
	"context"

	logx "trayrunner/pkg/logx"
)

// LogAdapter writes notifications to the structured log. It is the default
// sink for headless installs with no chat transport configured.
type LogAdapter struct {
	Log logx.Logger
}

func (a LogAdapter) Send(_ context.Context, title, message string) error {
	a.Log.Info("notification", logx.String("command", title), logx.String("message", message))
	return nil
}

// NopAdapter discards notifications.
type NopAdapter struct{}

func (NopAdapter) Send(context.Context, string, string) error { return nil }
