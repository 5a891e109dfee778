package cdpilot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessManagerStartPrependsDebuggingPortFlag(t *testing.T) {
	p := newProcessManager("sleep", []string{"5"}, nil)
	require.NoError(t, p.Start(context.Background(), 9999))
	defer p.Stop()

	assert.NotZero(t, p.Pid())
	assert.Equal(t, []string{"sleep", "--remote-debugging-port=9999", "5"}, p.cmd.Args)
}

func TestProcessManagerPidZeroBeforeStart(t *testing.T) {
	p := newProcessManager("sleep", []string{"5"}, nil)
	assert.Zero(t, p.Pid())
}

func TestProcessManagerStopIsIdempotent(t *testing.T) {
	p := newProcessManager("sleep", []string{"5"}, nil)
	require.NoError(t, p.Start(context.Background(), 9999))

	done := make(chan error, 2)
	go func() { done <- p.Stop() }()
	go func() { done <- p.Stop() }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return")
		}
	}
}

func TestProcessManagerStopWithoutStartIsNoop(t *testing.T) {
	p := newProcessManager("sleep", []string{"5"}, nil)
	assert.NoError(t, p.Stop())
}
