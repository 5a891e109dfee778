package cdpilot

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// findJS locates element(s) relative to `this` (the document when run via
// Runtime.Evaluate's implicit global `this`, or a parent element's remote
// object when run via Runtime.callFunctionOn). It unifies CSS and XPath
// search behind one entry point, since CDP itself has no native XPath
// query command.
const findJS = `function(sel, isXPath, all) {
	const root = (this && this.nodeType) ? this : document;
	if (isXPath) {
		const xp = document.evaluate(sel, root, null, 7 /* ORDERED_NODE_SNAPSHOT_TYPE */, null);
		const nodes = [];
		for (let i = 0; i < xp.snapshotLength; i++) nodes.push(xp.snapshotItem(i));
		return all ? nodes : (nodes[0] || null);
	}
	const nodes = Array.from(root.querySelectorAll(sel));
	return all ? nodes : (nodes[0] || null);
}`

// IFrameContext scopes every CDP call an Element inside an iframe makes, so
// Runtime.evaluate runs in the right execution context and DOM lookups stay
// inside the right frame (spec §4.8 "Resolve & scope").
type IFrameContext struct {
	frameID            cdp.FrameID
	executionContextID runtime.ExecutionContextID
}

// Element is C9: a RemoteObject handle plus, when applicable, the
// IFrameContext it was resolved through.
//
// Grounded on the teacher's query.go/sel.go (old API, since removed) for
// the overall "resolve then act via JS" shape, and on pydoll's WebElement
// (element/web_element.py) for the specific operation set: click/type via
// callFunctionOn, inner HTML/attributes/children via the DOM domain, text
// extraction via a dedicated HTML-stripping pass.
type Element struct {
	tab      *Tab
	objectID runtime.RemoteObjectID
	nodeID   cdp.NodeID
	frame    *IFrameContext
}

func (e *Element) evalCtx(ctx context.Context) context.Context {
	return e.tab.executor(ctx)
}

// FindElement resolves a single element under the document root.
func (t *Tab) FindElement(ctx context.Context, c Criteria) (*Element, error) {
	return t.findOne(ctx, nil, c)
}

// FindElements resolves every matching element under the document root.
func (t *Tab) FindElements(ctx context.Context, c Criteria) ([]*Element, error) {
	return t.findAll(ctx, nil, c)
}

// WaitElement polls every 500ms (spec §4.7 "Polling") until a matching
// element appears or timeout elapses. timeout == 0 means a single attempt.
func (t *Tab) WaitElement(ctx context.Context, c Criteria, timeout time.Duration, raiseOnMiss bool) (*Element, error) {
	const interval = 500 * time.Millisecond

	el, err := t.FindElement(ctx, c)
	if err == nil {
		return el, nil
	}
	if timeout <= 0 {
		if raiseOnMiss {
			return nil, ErrWaitElementTimeout
		}
		return nil, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			el, err := t.FindElement(ctx, c)
			if err == nil {
				return el, nil
			}
			if time.Now().After(deadline) {
				if raiseOnMiss {
					return nil, ErrWaitElementTimeout
				}
				return nil, nil
			}
		}
	}
}

func (t *Tab) findOne(ctx context.Context, parent *Element, c Criteria) (*Element, error) {
	xpath := buildXPath(c)
	if parent != nil {
		xpath = relativizeXPath(xpath)
	}
	objID, err := t.evaluateFind(ctx, parent, xpath, false)
	if err != nil {
		return nil, err
	}
	if objID == "" {
		return nil, ErrElementNotFound
	}
	return t.wrapRemoteObject(ctx, parent, objID)
}

func (t *Tab) findAll(ctx context.Context, parent *Element, c Criteria) ([]*Element, error) {
	xpath := buildXPath(c)
	if parent != nil {
		xpath = relativizeXPath(xpath)
	}
	objID, err := t.evaluateFind(ctx, parent, xpath, true)
	if err != nil {
		return nil, err
	}
	if objID == "" {
		return nil, nil
	}
	return t.expandArray(ctx, parent, objID)
}

// evaluateFind always searches via XPath (findOne and findAll build the
// XPath with buildXPath even for a single criterion, to keep a single code
// path for document-root and parent-scoped searches).
func (t *Tab) evaluateFind(ctx context.Context, parent *Element, xpath string, all bool) (runtime.RemoteObjectID, error) {
	args := []*runtime.CallArgument{
		marshalArg(xpath),
		marshalArg(true),
		marshalArg(all),
	}

	if parent != nil {
		v, exp, err := runtime.CallFunctionOn(findJS).
			WithObjectID(parent.objectID).
			WithArguments(args).
			Do(t.executor(ctx))
		if err != nil {
			return "", withID(ErrCommandFailed, "reason", err)
		}
		if exp != nil {
			return "", ErrNotInteractable
		}
		if v.ObjectID == "" {
			return "", nil
		}
		return v.ObjectID, nil
	}

	expr := "(" + findJS + ")(" + jsLiteral(xpath) + ", true, " + jsBool(all) + ")"
	v, exp, err := runtime.Evaluate(expr).Do(t.executor(ctx))
	if err != nil {
		return "", withID(ErrCommandFailed, "reason", err)
	}
	if exp != nil {
		return "", ErrNotInteractable
	}
	if v == nil || v.ObjectID == "" {
		return "", nil
	}
	return v.ObjectID, nil
}

func marshalArg(v interface{}) *runtime.CallArgument {
	raw, _ := json.Marshal(v)
	return &runtime.CallArgument{Value: raw}
}

func jsLiteral(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func jsBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (t *Tab) wrapRemoteObject(ctx context.Context, parent *Element, objID runtime.RemoteObjectID) (*Element, error) {
	el := &Element{tab: t, objectID: objID, frame: parentFrame(parent)}
	return el, nil
}

func parentFrame(parent *Element) *IFrameContext {
	if parent == nil {
		return nil
	}
	return parent.frame
}

// expandArray enumerates a JS array RemoteObject's elements into individual
// Elements via Runtime.getProperties.
func (t *Tab) expandArray(ctx context.Context, parent *Element, arrayObjID runtime.RemoteObjectID) ([]*Element, error) {
	props, _, _, _, err := runtime.GetProperties(arrayObjID).WithOwnProperties(true).Do(t.executor(ctx))
	if err != nil {
		return nil, withID(ErrCommandFailed, "reason", err)
	}
	var out []*Element
	for _, p := range props {
		if p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		if p.Name == "length" {
			continue
		}
		out = append(out, &Element{tab: t, objectID: p.Value.ObjectID, frame: parentFrame(parent)})
	}
	return out, nil
}

// FindElement resolves a descendant of e, scoping the XPath relative to e
// per spec §4.7 "Relative XPath normalization". If e is an iframe, the
// search is scoped to its content document instead (spec §4.8
// "Multiple-iframe isolation": searches must never leak across iframes).
func (e *Element) FindElement(ctx context.Context, c Criteria) (*Element, error) {
	scope, err := e.searchScope(ctx)
	if err != nil {
		return nil, err
	}
	return e.tab.findOne(ctx, scope, c)
}

// FindElements resolves every matching descendant of e.
func (e *Element) FindElements(ctx context.Context, c Criteria) ([]*Element, error) {
	scope, err := e.searchScope(ctx)
	if err != nil {
		return nil, err
	}
	return e.tab.findAll(ctx, scope, c)
}

// searchScope returns e itself, unless e is an iframe, in which case it
// returns an Element wrapping the iframe's content document so descendant
// searches run inside the right frame's execution context rather than
// against the <iframe> tag.
func (e *Element) searchScope(ctx context.Context) (*Element, error) {
	isFrame, err := e.IsIframe(ctx)
	if err != nil || !isFrame {
		return e, nil
	}
	frame, err := e.IFrameContext(ctx)
	if err != nil {
		return nil, err
	}
	v, exp, err := runtime.Evaluate("document").WithContextID(frame.executionContextID).Do(e.tab.executor(ctx))
	if err != nil || exp != nil {
		return nil, withID(ErrInvalidIFrame, "reason", err)
	}
	return &Element{tab: e.tab, objectID: v.ObjectID, frame: frame}, nil
}

// callBool runs fn (a JS function snippet) against e via callFunctionOn and
// decodes a boolean result.
func (e *Element) callBool(ctx context.Context, fn string, args ...*runtime.CallArgument) (bool, error) {
	v, exp, err := runtime.CallFunctionOn(fn).
		WithObjectID(e.objectID).
		WithArguments(args).
		WithReturnByValue(true).
		Do(e.evalCtx(ctx))
	if err != nil {
		return false, withID(ErrCommandFailed, "reason", err)
	}
	if exp != nil {
		return false, ErrNotInteractable
	}
	var b bool
	if len(v.Value) > 0 {
		json.Unmarshal(v.Value, &b)
	}
	return b, nil
}

// IsVisible reports whether e satisfies spec §4.8 "Visibility": computed
// display != none, visibility != hidden, and non-zero offset or client
// rects.
func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	return e.callBool(ctx, isVisibleJS)
}

// IsIframe reports whether e's nodeName is IFRAME (case-insensitive), per
// spec §4.8 "Is-iframe detection".
func (e *Element) IsIframe(ctx context.Context) (bool, error) {
	node, err := dom.DescribeNode().WithObjectID(e.objectID).Do(e.evalCtx(ctx))
	if err != nil {
		return false, withID(ErrCommandFailed, "reason", err)
	}
	return strings.EqualFold(node.NodeName, "iframe"), nil
}

// IFrameContext lazily resolves e's (frameId, executionContextId), asking
// CDP for the frame owner and the isolated world of its content document.
// Must only be called on an element for which IsIframe reports true.
func (e *Element) IFrameContext(ctx context.Context) (*IFrameContext, error) {
	if e.frame != nil {
		return e.frame, nil
	}
	node, err := dom.DescribeNode().WithObjectID(e.objectID).WithDepth(-1).Do(e.evalCtx(ctx))
	if err != nil {
		return nil, withID(ErrInvalidIFrame, "reason", err)
	}
	if node.FrameID == "" {
		return nil, ErrInvalidIFrame
	}

	execCtxID, err := page.CreateIsolatedWorld(node.FrameID).Do(e.evalCtx(ctx))
	if err != nil {
		return nil, withID(ErrInvalidIFrame, "reason", err)
	}

	e.frame = &IFrameContext{frameID: node.FrameID, executionContextID: execCtxID}
	return e.frame, nil
}

// Click dispatches a synthetic mouse click sequence against e (spec §4.8
// "Click, type, select").
func (e *Element) Click(ctx context.Context) error {
	ok, err := e.callBool(ctx, clickJS)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClickIntercepted
	}
	return nil
}

// Type sets the value property of an <input>/<textarea> element. Non-form
// elements are rejected, per spec §4.8: text insertion elsewhere needs a
// different path (Input.dispatchKeyEvent), out of scope for this method.
func (e *Element) Type(ctx context.Context, text string) error {
	node, err := dom.DescribeNode().WithObjectID(e.objectID).Do(e.evalCtx(ctx))
	if err != nil {
		return withID(ErrCommandFailed, "reason", err)
	}
	tag := strings.ToUpper(node.NodeName)
	if tag != "INPUT" && tag != "TEXTAREA" {
		return ErrNotInteractable
	}

	v, exp, err := runtime.CallFunctionOn(setAttributeJS).
		WithObjectID(e.objectID).
		WithArguments([]*runtime.CallArgument{marshalArg("value"), marshalArg(text)}).
		WithReturnByValue(true).
		Do(e.evalCtx(ctx))
	if err != nil {
		return withID(ErrCommandFailed, "reason", err)
	}
	if exp != nil {
		return ErrNotInteractable
	}
	_ = v
	return nil
}

// Select sets a <select> element's value to the given option value (spec
// §4.8: "Clicking a <select> option sets the parent's value accordingly").
func (e *Element) Select(ctx context.Context, value string) error {
	_, exp, err := runtime.CallFunctionOn(selectOptionJS).
		WithObjectID(e.objectID).
		WithArguments([]*runtime.CallArgument{marshalArg(value)}).
		WithReturnByValue(true).
		Do(e.evalCtx(ctx))
	if err != nil {
		return withID(ErrCommandFailed, "reason", err)
	}
	if exp != nil {
		return ErrNotInteractable
	}
	return nil
}

// InnerHTML returns e's outer HTML via DOM.getOuterHTML.
func (e *Element) InnerHTML(ctx context.Context) (string, error) {
	html, err := dom.GetOuterHTML().WithObjectID(e.objectID).Do(e.evalCtx(ctx))
	if err != nil {
		return "", withID(ErrCommandFailed, "reason", err)
	}
	return html, nil
}

// Attributes returns e's attribute map, read via DOM.getAttributes.
func (e *Element) Attributes(ctx context.Context) (map[string]string, error) {
	node, err := dom.DescribeNode().WithObjectID(e.objectID).Do(e.evalCtx(ctx))
	if err != nil {
		return nil, withID(ErrCommandFailed, "reason", err)
	}
	attrs, err := dom.GetAttributes(node.NodeID).Do(e.evalCtx(ctx))
	if err != nil {
		return nil, withID(ErrCommandFailed, "reason", err)
	}
	out := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		out[attrs[i]] = attrs[i+1]
	}
	return out, nil
}

// Children enumerates e's immediate children via DOM.describeNode with
// depth 1.
func (e *Element) Children(ctx context.Context) ([]*Element, error) {
	node, err := dom.DescribeNode().WithObjectID(e.objectID).WithDepth(1).Do(e.evalCtx(ctx))
	if err != nil {
		return nil, withID(ErrCommandFailed, "reason", err)
	}
	var out []*Element
	for _, c := range node.Children {
		ro, err := dom.ResolveNode().WithNodeID(c.NodeID).Do(e.evalCtx(ctx))
		if err != nil {
			continue
		}
		out = append(out, &Element{tab: e.tab, objectID: ro.ObjectID, nodeID: c.NodeID, frame: e.frame})
	}
	return out, nil
}

// BoundingBox returns e's content-box quad via DOM.getBoxModel, translating
// the "no box" protocol error Chromium returns for a detached or
// display:none node into ErrInvalidBoxModel instead of a raw protocol error.
func (e *Element) BoundingBox(ctx context.Context) (*dom.BoxModel, error) {
	model, err := dom.GetBoxModel().WithObjectID(e.objectID).Do(e.evalCtx(ctx))
	if err != nil {
		if isCouldNotComputeBoxModelError(err) {
			return nil, ErrInvalidBoxModel
		}
		return nil, withID(ErrCommandFailed, "reason", err)
	}
	return model, nil
}

// Text extracts visible text via the package's minimal HTML parser
// (textextract.go), ignoring script/style/template content.
func (e *Element) Text(ctx context.Context, trim bool, join string) (string, error) {
	html, err := e.InnerHTML(ctx)
	if err != nil {
		return "", err
	}
	return extractText(html, trim, join), nil
}
