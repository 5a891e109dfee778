package cdpilot

import "github.com/chromedp/cdproto"

// message is the wire envelope exchanged with a Chromium-class browser:
// either a ResponseEnvelope ({id, result|error}) or an EventEnvelope
// ({method, params}), per spec §3.1. We reuse cdproto.Message as the
// concrete type instead of re-declaring the shape ourselves — it already
// carries ID, Method, Params, Result, Error and SessionID, and every
// generated cdproto command already knows how to marshal/unmarshal into it.
type message = cdproto.Message

// isResponse is the single discriminator between a response and an event:
// the presence of an integer id field. No other field is consulted
// (Invariant 3, Testable Property 5). A message carrying an "id" nested
// inside its params (e.g. {method: "X", params: {id: 7}}) is still an event,
// because cdproto.Message.ID is only ever populated from the envelope's
// top-level "id" key.
func isResponse(msg *message) bool {
	return msg.ID != 0
}
