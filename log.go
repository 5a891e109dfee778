package cdpilot

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the package-wide logger. Callers may replace it wholesale; there
// is no per-Browser or per-Tab logger option.
var Logger = func() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetLevel(logrus.InfoLevel)
	return l
}()

// LogFunc is a printf-style logging func type, the same shape
// WithConnDebugf accepts.
type LogFunc func(string, ...interface{})

// logFields builds a logrus.Fields populated with whichever identifiers are
// non-zero, so log lines carry the triggering identifier per the error
// taxonomy without every call site repeating the same boilerplate.
func logFields(connID, targetID string, commandID int64, callbackID uint64) logrus.Fields {
	f := logrus.Fields{}
	if connID != "" {
		f["conn_id"] = connID
	}
	if targetID != "" {
		f["target_id"] = targetID
	}
	if commandID != 0 {
		f["command_id"] = commandID
	}
	if callbackID != 0 {
		f["callback_id"] = callbackID
	}
	return f
}
