package cdpilot

import "github.com/pkg/errors"

// Error is a sentinel cdpilot error. Wrap it with github.com/pkg/errors when
// an identifier (command ID, target ID, callback ID, ...) needs to travel
// with it; errors.Is still matches against the sentinel.
type Error string

// Error satisfies the error interface.
func (err Error) Error() string {
	return string(err)
}

// Configuration errors.
const (
	ErrInvalidPort          Error = "invalid connection port"
	ErrInvalidOptions       Error = "invalid browser options"
	ErrUnsupportedOS        Error = "unsupported operating system"
	ErrBinaryNotFound       Error = "browser binary not found"
	ErrInvalidWebsocketAddr Error = "malformed websocket address"
	ErrAmbiguousTab         Error = "tab identified by neither target id nor websocket address"
	ErrArgumentExists       Error = "argument already present in options"
)

// Lifecycle errors.
const (
	ErrBrowserStartFailed Error = "failed to start browser"
	ErrBrowserNotRunning  Error = "browser is not running"
	ErrNoValidTab         Error = "no valid tab found"
)

// Transport errors.
const (
	ErrConnectionFailed        Error = "failed to establish connection"
	ErrConnectionLost          Error = "unexpected disconnect during command execution"
	ErrConnectionClosed        Error = "connection is closed"
	ErrInvalidFrame            Error = "invalid json frame"
	ErrInvalidResponse         Error = "invalid response shape"
	ErrInvalidWebsocketMessage Error = "invalid websocket message"
)

// Command errors.
const (
	ErrCommandTimeout Error = "command timed out"
	ErrCommandFailed  Error = "command returned a protocol error"
)

// Interaction errors.
const (
	ErrElementNotFound     Error = "element not found"
	ErrNotVisible          Error = "element not visible"
	ErrVisible             Error = "element unexpectedly visible"
	ErrNotInteractable     Error = "element not interactable"
	ErrDisabled            Error = "element disabled"
	ErrNotSelected         Error = "element not selected"
	ErrClickIntercepted    Error = "click intercepted by another element"
	ErrInvalidIFrame       Error = "element is not a usable iframe"
	ErrWaitElementTimeout  Error = "timed out waiting for element"
	ErrInvalidDimensions   Error = "invalid dimensions"
	ErrInvalidBoxModel     Error = "invalid box model"
)

// User errors.
const (
	ErrInvalidCallback     Error = "callback is not callable"
	ErrInvalidFileExt      Error = "invalid file extension"
	ErrInvalidContext      Error = "invalid context"
)

// withID wraps err with github.com/pkg/errors, attaching a labeled
// identifier so the message satisfies the §7 "human-readable messages that
// include the triggering identifier" requirement, while errors.Is(result,
// err) keeps matching the sentinel.
func withID(err error, label string, id interface{}) error {
	return errors.Wrapf(err, "%s=%v", label, id)
}
