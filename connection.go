package cdpilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/google/uuid"
	"github.com/mailru/easyjson/jlexer"
)

// DefaultCommandTimeout bounds how long Execute waits for a response before
// failing with ErrCommandTimeout (spec §4.1 "Command execution").
var DefaultCommandTimeout = 10 * time.Second

// versionInfo is the subset of the /json/version response ConnectionHandler
// needs to resolve the browser-level websocket endpoint.
type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// resolveBrowserWebSocketURL asks the DevTools HTTP endpoint on port for the
// browser-wide websocket URL, per spec §4.1 step "resolve the endpoint".
func resolveBrowserWebSocketURL(ctx context.Context, port int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://localhost:%d/json/version", port), nil)
	if err != nil {
		return "", withID(ErrConnectionFailed, "port", port)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", withID(ErrConnectionFailed, "port", port)
	}
	defer resp.Body.Close()

	var v versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", withID(ErrConnectionFailed, "port", port)
	}
	if v.WebSocketDebuggerURL == "" {
		return "", withID(ErrInvalidWebsocketAddr, "port", port)
	}
	return v.WebSocketDebuggerURL, nil
}

// targetWebSocketURL builds the per-page endpoint CDP exposes for a given
// target ID, used when opening a new Tab rather than the browser connection.
func targetWebSocketURL(host string, port int, targetID string) string {
	return fmt.Sprintf("ws://%s:%d/devtools/page/%s", host, port, targetID)
}

// ConnectionHandler is C4: it owns one websocket Transport, multiplexes
// commands and events across it, and exposes Execute as the sole entry
// point for sending a CDP command and awaiting its response.
//
// Grounded on pydoll's ConnectionHandler (connection/connection_handler.py):
// lazy connect on first use, execute_command with a timeout, a background
// receive loop that discriminates responses from events solely via the
// presence of an "id" field, and _handle_connection_loss on any read
// failure. The transport and wire marshalling themselves are the teacher's
// conn.go (gorilla/websocket + easyjson-reused Conn).
type ConnectionHandler struct {
	id  string
	url string

	mu     sync.Mutex
	conn   Transport
	closed bool

	commands *commandRegistry
	events   *eventRegistry

	done chan struct{}
}

// NewConnectionHandler creates a handler for the given websocket URL. The
// connection itself is not established until the first Execute or
// ExecuteTimeout call (lazy connect, per §4.1).
func NewConnectionHandler(urlstr string) *ConnectionHandler {
	return &ConnectionHandler{
		id:       uuid.NewString(),
		url:      urlstr,
		commands: newCommandRegistry(),
		events:   newEventRegistry(),
	}
}

// ensureOpen dials the websocket if it isn't already connected, and starts
// the receive loop. Safe to call repeatedly; a second caller observes the
// first caller's connection.
func (h *ConnectionHandler) ensureOpen(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil && !h.closed {
		return nil
	}

	c, err := DialContext(ctx, ForceIP(h.url), WithConnID(h.id))
	if err != nil {
		return withID(ErrConnectionFailed, "url", h.url)
	}
	h.conn = c
	h.closed = false
	h.done = make(chan struct{})
	go h.receiveLoop(h.conn, h.done)
	return nil
}

// Execute implements the cdp.Executor interface expected by every generated
// cdproto command's .Do(ctx) method, so CDP domain packages (target, page,
// dom, runtime, network, ...) can be called directly against a
// ConnectionHandler via cdp.WithExecutor(ctx, handler).
func (h *ConnectionHandler) Execute(ctx context.Context, method string, params json.Marshaler, res json.Unmarshaler) error {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return err
		}
	}
	msg := &cdproto.Message{
		Method: cdproto.MethodType(method),
		Params: raw,
	}
	resp, err := h.executeRaw(ctx, msg, 0)
	if err != nil {
		return err
	}
	if res != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, res)
	}
	return nil
}

// ExecuteTimeout is like Execute but with an explicit command timeout,
// bypassing DefaultCommandTimeout; used where a caller needs a longer or
// shorter deadline than the package default.
func (h *ConnectionHandler) ExecuteTimeout(ctx context.Context, method string, params json.Marshaler, res json.Unmarshaler, timeout time.Duration) error {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return err
		}
	}
	msg := &cdproto.Message{
		Method: cdproto.MethodType(method),
		Params: raw,
	}
	resp, err := h.executeRaw(ctx, msg, timeout)
	if err != nil {
		return err
	}
	if res != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, res)
	}
	return nil
}

// executeRaw sends cmd, assigning it the next command ID, and blocks until
// its response arrives, the timeout elapses, or the connection is lost.
// Matches spec §4.1 "Command execution": on timeout the pending entry is
// cancelled so a late response is dropped; on disconnect every outstanding
// command fails with ErrConnectionLost.
func (h *ConnectionHandler) executeRaw(ctx context.Context, cmd *cdproto.Message, timeout time.Duration) (*cdproto.Message, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if err := h.ensureOpen(ctx); err != nil {
		return nil, err
	}

	id, waiter := h.commands.prepare(cmd)

	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		h.commands.cancel(id)
		return nil, ErrConnectionClosed
	}
	if err := conn.Write(cmd); err != nil {
		h.commands.cancel(id)
		return nil, withID(ErrConnectionLost, "command_id", id)
	}
	Logger.WithFields(logFields(h.id, "", id, 0)).Debugf("-> %s", cmd.Method)

	select {
	case resp := <-waiter:
		if resp == nil {
			return nil, withID(ErrConnectionLost, "command_id", id)
		}
		if resp.Error != nil {
			return resp, withID(ErrCommandFailed, "command_id", id)
		}
		return resp, nil
	case <-ctx.Done():
		h.commands.cancel(id)
		return nil, withID(ctx.Err(), "command_id", id)
	case <-time.After(timeout):
		h.commands.cancel(id)
		return nil, withID(ErrCommandTimeout, "command_id", id)
	}
}

// On registers a callback for event, returning a callback ID that Off can
// later remove. temporary callbacks are automatically dropped once fired.
func (h *ConnectionHandler) On(event string, cb EventCallback, temporary bool) (uint64, error) {
	return h.events.register(event, cb, temporary)
}

// Off removes a previously registered callback.
func (h *ConnectionHandler) Off(callbackID uint64) bool {
	return h.events.remove(callbackID)
}

// ClearCallbacks drops every registered event callback.
func (h *ConnectionHandler) ClearCallbacks() {
	h.events.clear()
}

// NetworkLogs returns a snapshot of the bounded Network.requestWillBeSent
// log (spec §3.1 NetworkLogEntry, capped at networkLogCap entries).
func (h *ConnectionHandler) NetworkLogs() []interface{} {
	return h.events.networkLogSnapshot()
}

// CurrentDialog returns the params of the currently open JavaScript dialog,
// or nil if none is open.
func (h *ConnectionHandler) CurrentDialog() interface{} {
	return h.events.dialogSnapshot()
}

// Ping returns ErrConnectionClosed once the handler has been closed or has
// lost its transport, and nil otherwise. It sends nothing over the wire and
// does not dial, so it does not detect a peer that has stopped answering.
// Used by the Browser facade's health checks.
func (h *ConnectionHandler) Ping(ctx context.Context) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	return nil
}

// Close shuts down the transport and fails every outstanding command.
func (h *ConnectionHandler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	h.commands.failAll()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// receiveLoop reads frames until the transport fails or Close is called. A
// malformed frame is logged and dropped rather than terminating the loop;
// an actual transport failure marks the connection closed and fails every
// outstanding command (§4.3 "Disconnect"). The loop itself never
// reconnects: the next Execute on the handler dials a fresh connection via
// ensureOpen.
func (h *ConnectionHandler) receiveLoop(conn Transport, done chan struct{}) {
	defer close(done)
	for {
		msg := new(cdproto.Message)
		if err := conn.Read(msg); err != nil {
			var lexErr *jlexer.LexerError
			if errors.As(err, &lexErr) {
				Logger.WithFields(logFields(h.id, "", 0, 0)).Warnf("dropping malformed frame: %v", err)
				continue
			}
			h.handleConnectionLoss(err)
			return
		}
		h.dispatch(msg)
	}
}

func (h *ConnectionHandler) dispatch(msg *cdproto.Message) {
	if isResponse(msg) {
		h.commands.resolve(msg.ID, msg)
		return
	}
	if msg.Method == "" {
		return
	}
	h.events.process(context.Background(), string(msg.Method), msg.Params)
}

func (h *ConnectionHandler) handleConnectionLoss(err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	Logger.WithFields(logFields(h.id, "", 0, 0)).Warnf("connection lost: %v", err)
	h.commands.failAll()
	if conn != nil {
		conn.Close()
	}
}
