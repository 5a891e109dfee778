package cdpilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRegistryPrepareAssignsMonotonicIDs(t *testing.T) {
	r := newCommandRegistry()

	id1, w1 := r.prepare(&message{})
	id2, w2 := r.prepare(&message{})

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.Equal(t, 2, r.outstanding())
	assert.NotNil(t, w1)
	assert.NotNil(t, w2)
}

func TestCommandRegistryResolveDeliversAndRemoves(t *testing.T) {
	r := newCommandRegistry()
	id, w := r.prepare(&message{})

	resp := &message{ID: id}
	r.resolve(id, resp)

	got := <-w
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 0, r.outstanding())
}

func TestCommandRegistryResolveUnknownIDIsNoop(t *testing.T) {
	r := newCommandRegistry()
	r.resolve(999, &message{ID: 999})
	assert.Equal(t, 0, r.outstanding())
}

func TestCommandRegistryCancelDropsLateResponse(t *testing.T) {
	r := newCommandRegistry()
	id, _ := r.prepare(&message{})
	r.cancel(id)
	assert.Equal(t, 0, r.outstanding())

	// A response arriving after cancel must be a silent no-op, not a panic
	// or a send on a closed channel.
	r.resolve(id, &message{ID: id})
}

func TestCommandRegistryFailAllResolvesEveryWaiterWithNil(t *testing.T) {
	r := newCommandRegistry()
	_, w1 := r.prepare(&message{})
	_, w2 := r.prepare(&message{})

	r.failAll()

	assert.Nil(t, <-w1)
	assert.Nil(t, <-w2)
	assert.Equal(t, 0, r.outstanding())
}
