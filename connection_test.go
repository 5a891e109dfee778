package cdpilot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-process Transport double: writes are observed via
// written, and reads are served from (or block on) reads until closed.
type fakeTransport struct {
	written chan *cdproto.Message
	reads   chan *cdproto.Message
	closed  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		written: make(chan *cdproto.Message, 8),
		reads:   make(chan *cdproto.Message, 8),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Read(msg *cdproto.Message) error {
	select {
	case m, ok := <-f.reads:
		if !ok {
			return assert.AnError
		}
		*msg = *m
		return nil
	case <-f.closed:
		return assert.AnError
	}
}

func (f *fakeTransport) Write(msg *cdproto.Message) error {
	select {
	case f.written <- msg:
		return nil
	default:
		return assert.AnError
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func newTestHandler(tr Transport) *ConnectionHandler {
	h := &ConnectionHandler{
		id:       "test",
		url:      "ws://test",
		commands: newCommandRegistry(),
		events:   newEventRegistry(),
		conn:     tr,
		done:     make(chan struct{}),
	}
	go h.receiveLoop(tr, h.done)
	return h
}

func TestConnectionHandlerExecuteRoundTrips(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	defer h.Close()

	go func() {
		sent := <-tr.written
		tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"ok":true}`)}
	}()

	var res struct {
		OK bool `json:"ok"`
	}
	err := h.Execute(context.Background(), "Some.method", nil, jsonUnmarshaler(&res))
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestConnectionHandlerExecuteProtocolError(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	defer h.Close()

	go func() {
		sent := <-tr.written
		tr.reads <- &cdproto.Message{ID: sent.ID, Error: &cdproto.Error{Code: -32000, Message: "boom"}}
	}()

	err := h.Execute(context.Background(), "Some.method", nil, nil)
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestConnectionHandlerExecuteTimeout(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	defer h.Close()

	err := h.ExecuteTimeout(context.Background(), "Some.method", nil, nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)
}

func TestConnectionHandlerDispatchRoutesEventsNotResponses(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	defer h.Close()

	fired := make(chan struct{}, 1)
	_, err := h.On("Custom.thing", EventCallback{Handler: func(context.Context, interface{}) {
		fired <- struct{}{}
	}}, false)
	require.NoError(t, err)

	tr.reads <- &cdproto.Message{Method: "Custom.thing", Params: []byte(`{}`)}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("event callback never fired")
	}
}

func TestConnectionHandlerTransportFailureFailsOutstandingCommands(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)

	errs := make(chan error, 1)
	go func() {
		errs <- h.Execute(context.Background(), "Some.method", nil, nil)
	}()

	// Give Execute time to register before the transport dies.
	<-tr.written
	tr.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("Execute never unblocked after transport loss")
	}
}

func TestConnectionHandlerCloseIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
	assert.Error(t, h.Ping(context.Background()))
}

// jsonUnmarshaler adapts a pointer into the json.Unmarshaler shape Execute
// expects, since plain structs don't implement UnmarshalJSON themselves.
type jsonUnmarshalerFunc struct {
	target interface{}
}

func (j jsonUnmarshalerFunc) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, j.target)
}

func jsonUnmarshaler(target interface{}) json.Unmarshaler {
	return &jsonUnmarshalerFunc{target: target}
}
