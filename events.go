package cdpilot

import (
	"context"
	"sync"
)

const (
	methodNetworkRequestWillBeSent = "Network.requestWillBeSent"
	methodDialogOpening            = "Page.javascriptDialogOpening"
	methodDialogClosed             = "Page.javascriptDialogClosed"
	networkLogCap                  = 10000
)

// EventCallback is a registered event handler. It may be synchronous (run
// inline, blocking the dispatcher until it returns) or asynchronous (spawned
// in its own goroutine so a slow or failing handler never blocks sibling
// callbacks); Async selects which.
type EventCallback struct {
	Handler func(context.Context, interface{})
	Async   bool
}

type callbackEntry struct {
	id        uint64
	event     string
	handler   func(context.Context, interface{})
	async     bool
	temporary bool
}

// eventRegistry is C3: it maps event names to ordered callback entries
// (persistent or one-shot), and maintains the bounded network-request log
// and current-dialog snapshot described in spec §4.2.
//
// Grounded on pydoll's EventsHandler (connection/managers.py): register
// returns an incrementing ID, process() special-cases the network-log and
// dialog events before dispatching to matching callbacks in insertion
// order, and temporary callbacks are dropped only after they fire.
type eventRegistry struct {
	mu          sync.Mutex
	nextID      uint64
	order       []uint64
	callbacks   map[uint64]*callbackEntry
	networkLogs []interface{}
	dialog      interface{}
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{
		callbacks: make(map[uint64]*callbackEntry),
	}
}

// register allocates a callback ID, inserts the entry in registration order,
// and returns the ID. Rejects a nil handler with ErrInvalidCallback.
func (e *eventRegistry) register(event string, cb EventCallback, temporary bool) (uint64, error) {
	if cb.Handler == nil {
		return 0, ErrInvalidCallback
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.callbacks[id] = &callbackEntry{
		id:        id,
		event:     event,
		handler:   cb.Handler,
		async:     cb.Async,
		temporary: temporary,
	}
	e.order = append(e.order, id)
	return id, nil
}

// remove deletes the callback with the given ID, reporting whether it
// existed.
func (e *eventRegistry) remove(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.callbacks[id]; !ok {
		return false
	}
	delete(e.callbacks, id)
	e.removeFromOrderLocked(id)
	return true
}

func (e *eventRegistry) removeFromOrderLocked(id uint64) {
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

// clear drops all callbacks.
func (e *eventRegistry) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = make(map[uint64]*callbackEntry)
	e.order = nil
}

// networkLogSnapshot returns a defensive copy of the current network log.
func (e *eventRegistry) networkLogSnapshot() []interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]interface{}, len(e.networkLogs))
	copy(out, e.networkLogs)
	return out
}

// dialogSnapshot returns the currently open dialog, or nil if none is open.
func (e *eventRegistry) dialogSnapshot() interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dialog
}

// process dispatches a single decoded event per spec §4.2: the network log
// and dialog snapshot are updated first, then every matching callback fires
// in registration order, then temporary callbacks that fired are dropped.
func (e *eventRegistry) process(ctx context.Context, method string, params interface{}) {
	e.mu.Lock()
	switch method {
	case methodNetworkRequestWillBeSent:
		e.networkLogs = append(e.networkLogs, params)
		if over := len(e.networkLogs) - networkLogCap; over > 0 {
			e.networkLogs = e.networkLogs[over:]
		}
	case methodDialogOpening:
		e.dialog = params
	case methodDialogClosed:
		e.dialog = nil
	}

	// Snapshot matching callbacks under the lock, then dispatch outside it —
	// a handler is free to register or remove callbacks of its own.
	var matched []*callbackEntry
	for _, id := range e.order {
		if cb := e.callbacks[id]; cb != nil && cb.event == method {
			matched = append(matched, cb)
		}
	}
	e.mu.Unlock()

	for _, cb := range matched {
		e.dispatch(ctx, cb, params)
	}

	if len(matched) == 0 {
		return
	}
	e.mu.Lock()
	for _, cb := range matched {
		if cb.temporary {
			delete(e.callbacks, cb.id)
			e.removeFromOrderLocked(cb.id)
		}
	}
	e.mu.Unlock()
}

// dispatch invokes a single callback, isolating async handlers in their own
// goroutine and recovering from panics so one failing callback never keeps
// the others from firing (§7: event-callback exceptions are logged and
// swallowed, never propagated to the receive loop).
func (e *eventRegistry) dispatch(ctx context.Context, cb *callbackEntry, params interface{}) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.WithFields(logFields("", "", 0, cb.id)).Errorf("event callback panicked: %v", r)
			}
		}()
		cb.handler(ctx, params)
	}
	if cb.async {
		go run()
		return
	}
	run()
}
