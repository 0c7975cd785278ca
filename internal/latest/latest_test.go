package latest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeSeesCurrentValueFirst(t *testing.T) {
	v := NewValue(false)
	v.Set(true)

	sub := v.Subscribe()
	got, ok := sub.Next(nil)
	require.True(t, ok)
	assert.Equal(t, true, got)
}

func TestCoalescesIntermediateValues(t *testing.T) {
	v := NewValue(0)
	sub := v.Subscribe()

	// Drain the seeded value first.
	got, ok := sub.Next(nil)
	require.True(t, ok)
	assert.Equal(t, 0, got)

	done := make(chan struct{})
	go func() {
		v.Set(1)
		v.Set(2)
		v.Set(3)
		close(done)
	}()
	<-done

	got, ok = sub.Next(nil)
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	v := NewValue("x")
	sub := v.Subscribe()
	_, _ = sub.Next(nil) // drain seed

	result := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(nil)
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	v.Close()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestStopChannelUnblocksNext(t *testing.T) {
	v := NewValue(1)
	sub := v.Subscribe()
	_, _ = sub.Next(nil)

	stop := make(chan struct{})
	result := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(stop)
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not respect stop channel")
	}
}

func TestSetAfterCloseIsNoop(t *testing.T) {
	v := NewValue(1)
	v.Close()
	v.Set(2)
	assert.Equal(t, 1, v.Get())
}
