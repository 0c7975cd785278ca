package shutdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownWaitsForEveryPermitToAck(t *testing.T) {
	gs := New()
	p1 := gs.AcquireStopPermit()
	p2 := gs.AcquireStopPermit()

	shutdownDone := make(chan struct{})
	go func() {
		gs.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before any permit acknowledged")
	case <-time.After(50 * time.Millisecond):
	}

	<-p1.Stop()
	p1.Done()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the second permit acknowledged")
	case <-time.After(50 * time.Millisecond):
	}

	<-p2.Stop()
	p2.Done()

	select {
	case <-shutdownDone:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after both permits acknowledged")
	}
}

func TestShutdownWithNoPermitsReturnsImmediately(t *testing.T) {
	gs := New()
	done := make(chan struct{})
	go func() {
		gs.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown with no outstanding permits did not return")
	}
}

func TestShutdownTimeoutReturnsFalseWhenHolderNeverAcks(t *testing.T) {
	gs := New()
	gs.AcquireStopPermit() // never acknowledged

	ok := gs.ShutdownTimeout(30 * time.Millisecond)
	assert.False(t, ok)
}

func TestShutdownTimeoutReturnsTrueWhenEveryoneAcks(t *testing.T) {
	gs := New()
	p := gs.AcquireStopPermit()
	go func() {
		<-p.Stop()
		p.Done()
	}()

	ok := gs.ShutdownTimeout(time.Second)
	require.True(t, ok)
}
