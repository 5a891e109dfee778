package cdpilot

import "sync"

// commandWaiter is the awaitable slot a PendingCommand resolves into.
// Buffered by one so resolve/cancel never blocks on a receiver that gave up.
type commandWaiter chan *message

// commandRegistry is C2: it tracks outstanding command IDs and their
// awaitables, and assigns monotonically increasing IDs starting at 1. Each
// ConnectionHandler owns exactly one, per Invariant 1 — there is no
// process-wide counter.
//
// Grounded on the teacher's atomic per-Browser/per-Target id counter
// (browser.go's atomic.AddInt64(&b.next, 1), target.go's equivalent) and on
// pydoll's CommandsManager (connection/managers/commands_manager.py), which
// this type matches field-for-field: next id, pending map, resolve,
// remove/cancel.
type commandRegistry struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]commandWaiter
}

func newCommandRegistry() *commandRegistry {
	return &commandRegistry{
		nextID:  1,
		pending: make(map[int64]commandWaiter),
	}
}

// prepare assigns the next command ID, inserts a fresh waiter, and returns
// both. Atomic with respect to concurrent submissions (Invariant 1).
func (c *commandRegistry) prepare(cmd *message) (int64, commandWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	cmd.ID = id
	w := make(commandWaiter, 1)
	c.pending[id] = w
	return id, w
}

// resolve completes the waiter for id with raw, if still pending, and
// removes the entry (Invariant 2). Unknown or already-resolved IDs are a
// silent no-op — late or aborted responses are simply dropped.
func (c *commandRegistry) resolve(id int64, raw *message) {
	c.mu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	w <- raw
}

// cancel removes the waiter for id without completing it, so that a later
// response for that ID is resolved against nothing and dropped. Used on
// timeout.
func (c *commandRegistry) cancel(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll resolves every pending waiter with a nil message, signalling
// transport loss to any in-flight Execute call (§4.3 "Disconnect").
func (c *commandRegistry) failAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]commandWaiter)
	c.mu.Unlock()
	for _, w := range pending {
		w <- nil
	}
}

// outstanding reports how many commands are currently awaiting a response;
// used only by tests to assert cleanup happened.
func (c *commandRegistry) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
