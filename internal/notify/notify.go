// Package notify carries user-visible notices (toasts in a GUI, coloured
// lines in the CLI, broadcasts on the dashboard) from the write path and the
// sync engine to whatever is presenting them.
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a short message intended for the user.
type Notice struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// String renders the notice on one line.
func (n Notice) String() string {
	if n.Message == "" {
		return n.Title
	}
	return fmt.Sprintf("%s: %s", n.Title, n.Message)
}

// Notifier presents notices. Implementations must not block for long; the
// sync engine calls Notify inline.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = NotifierFunc(func(Notice) {})

// Multi fans a notice out to several notifiers in order. Nil entries are
// skipped.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(n Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// LogNotifier writes notices to a logrus logger at a level matching the
// notice.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("notice", n.Title)

	switch n.Level {
	case LevelError:
		entry.Error(n.String())
	case LevelWarning:
		entry.Warn(n.String())
	default:
		entry.Info(n.String())
	}
}

// Helpers for the common levels.

func Info(title, msg string) Notice    { return Notice{Level: LevelInfo, Title: title, Message: msg} }
func Success(title, msg string) Notice { return Notice{Level: LevelSuccess, Title: title, Message: msg} }
func Warning(title, msg string) Notice { return Notice{Level: LevelWarning, Title: title, Message: msg} }
func Error(title, msg string) Notice   { return Notice{Level: LevelError, Title: title, Message: msg} }
