package ticks_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justanotherdot/biscuit-core/ticks"
)

func TestTickIsMonotonic(t *testing.T) {
	s := ticks.NewSource()
	require.Equal(t, uint64(0), s.Read())

	s.Tick()
	s.Tick()
	s.Tick()
	require.Equal(t, uint64(3), s.Read())
}

func TestWaitObservesNextTick(t *testing.T) {
	s := ticks.NewSource()
	done := make(chan uint64, 1)

	go func() {
		done <- s.Wait(0)
	}()

	time.Sleep(10 * time.Millisecond) // let the waiter block
	s.Tick()

	select {
	case got := <-done:
		require.Equal(t, uint64(1), got)
	case <-time.After(time.Second):
		t.Fatal("Wait never observed the tick")
	}
}
