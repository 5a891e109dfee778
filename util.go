package cdpilot

import (
	"github.com/chromedp/cdproto"
)

// isCouldNotComputeBoxModelError reports whether err is the CDP protocol
// error DOM.getBoxModel returns for a node with no box (display:none,
// detached, or not yet laid out) — used by Element.BoundingBox to report
// ErrInvalidBoxModel instead of a raw protocol failure.
func isCouldNotComputeBoxModelError(err error) bool {
	e, ok := err.(*cdproto.Error)
	return ok && e.Code == -32000 && e.Message == "Could not compute box model."
}
