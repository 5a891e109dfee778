package cdpilot

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalArgEncodesValueAsJSON(t *testing.T) {
	arg := marshalArg("hello")
	assert.JSONEq(t, `"hello"`, string(arg.Value))

	arg = marshalArg(true)
	assert.JSONEq(t, `true`, string(arg.Value))
}

func TestJSLiteralEscapesString(t *testing.T) {
	assert.Equal(t, `"it's \"quoted\""`, jsLiteral(`it's "quoted"`))
}

func TestJSBool(t *testing.T) {
	assert.Equal(t, "true", jsBool(true))
	assert.Equal(t, "false", jsBool(false))
}

func TestParentFrameNilParentReturnsNil(t *testing.T) {
	assert.Nil(t, parentFrame(nil))
}

func TestParentFrameReturnsParentFrame(t *testing.T) {
	frame := &IFrameContext{frameID: "frame-1"}
	parent := &Element{frame: frame}
	assert.Same(t, frame, parentFrame(parent))
}

func TestElementClickDispatchesAndSucceeds(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "Runtime.callFunctionOn" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"result":{"type":"boolean","value":true}}`)}
		}
	})

	assert.NoError(t, el.Click(context.Background()))
}

func TestElementClickInterceptedWhenJSReturnsFalse(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "Runtime.callFunctionOn" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"result":{"type":"boolean","value":false}}`)}
		}
	})

	assert.ErrorIs(t, el.Click(context.Background()), ErrClickIntercepted)
}

func TestElementTypeSetsValueOnInputElement(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		switch sent.Method {
		case "DOM.describeNode":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"INPUT"}}`)}
		case "Runtime.callFunctionOn":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"result":{"type":"string","value":"hello"}}`)}
		}
	})

	assert.NoError(t, el.Type(context.Background(), "hello"))
}

func TestElementTypeRejectsNonFormElement(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "DOM.describeNode" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"DIV"}}`)}
		}
	})

	assert.ErrorIs(t, el.Type(context.Background(), "hello"), ErrNotInteractable)
}

func TestElementSelectSetsOptionValue(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "Runtime.callFunctionOn" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"result":{"type":"string","value":"opt2"}}`)}
		}
	})

	assert.NoError(t, el.Select(context.Background(), "opt2"))
}

func TestElementIsIframeTrueForIframeNode(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "DOM.describeNode" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"IFRAME"}}`)}
		}
	})

	ok, err := el.IsIframe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestElementIsIframeFalseForOtherNode(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "DOM.describeNode" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"DIV"}}`)}
		}
	})

	ok, err := el.IsIframe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestElementIFrameContextResolvesFrameAndIsolatedWorld(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		switch sent.Method {
		case "DOM.describeNode":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"IFRAME","frameId":"F1"}}`)}
		case "Page.createIsolatedWorld":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"executionContextId":7}`)}
		}
	})

	frame, err := el.IFrameContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cdp.FrameID("F1"), frame.frameID)
	assert.Equal(t, runtime.ExecutionContextID(7), frame.executionContextID)
	assert.Same(t, frame, el.frame)
}

func TestElementIFrameContextErrorsWithoutFrameID(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "DOM.describeNode" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"IFRAME"}}`)}
		}
	})

	_, err := el.IFrameContext(context.Background())
	assert.ErrorIs(t, err, ErrInvalidIFrame)
}

func TestSearchScopeReturnsSelfForNonIframe(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "DOM.describeNode" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"DIV"}}`)}
		}
	})

	scope, err := el.searchScope(context.Background())
	require.NoError(t, err)
	assert.Same(t, el, scope)
}

func TestSearchScopeReturnsContentDocumentForIframe(t *testing.T) {
	tr := newFakeTransport()
	tab := newTestTab(tr)
	defer tab.handler().Close()
	el := &Element{tab: tab, objectID: "obj-1"}

	serveCDP(tr, func(sent *cdproto.Message) {
		switch sent.Method {
		case "DOM.describeNode":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"node":{"nodeId":1,"nodeName":"IFRAME","frameId":"F1"}}`)}
		case "Page.createIsolatedWorld":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"executionContextId":7}`)}
		case "Runtime.evaluate":
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"result":{"type":"object","objectId":"doc-1"}}`)}
		}
	})

	scope, err := el.searchScope(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, el, scope)
	assert.Equal(t, runtime.RemoteObjectID("doc-1"), scope.objectID)
	require.NotNil(t, scope.frame)
	assert.Equal(t, cdp.FrameID("F1"), scope.frame.frameID)
}
