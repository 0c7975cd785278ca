package video

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct {
	mu        sync.Mutex
	streaming bool
	onCount   int
	offCount  int
	frames    chan []byte
	dequeueErr error
	closed    bool
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan []byte, 16)}
}

func (f *fakeCapture) streamOn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = true
	f.onCount++
	return nil
}

func (f *fakeCapture) streamOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.offCount++
	return nil
}

func (f *fakeCapture) dequeue(stop <-chan struct{}) ([]byte, error) {
	f.mu.Lock()
	err := f.dequeueErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case frame, ok := <-f.frames:
		if !ok {
			return nil, errors.New("fake capture closed")
		}
		return frame, nil
	case <-stop:
		return nil, errors.New("stopped")
	case <-time.After(10 * time.Millisecond):
		// A live device keeps delivering buffers; an empty one stands in for
		// that here and is dropped by the minFrameBytes gate.
		return nil, nil
	}
}

func (f *fakeCapture) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeCapture) isStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStreamStaysOffWithOnlyOneSubscriber(t *testing.T) {
	dev := newFakeCapture()
	s := newWithCapture(dev)
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, dev.isStreaming())
}

func TestStreamStartsOnceSecondSubscriberAppears(t *testing.T) {
	dev := newFakeCapture()
	s := newWithCapture(dev)
	defer s.Close()

	sink := s.Frames()
	defer sink.Close()

	waitUntil(t, dev.isStreaming)
}

func TestStreamStopsWhenLastSubscriberReleases(t *testing.T) {
	dev := newFakeCapture()
	s := newWithCapture(dev)
	defer s.Close()

	sink := s.Frames()
	waitUntil(t, dev.isStreaming)

	sink.Close()
	waitUntil(t, func() bool { return !dev.isStreaming() })
}

func TestFramesAboveMinSizeArePublished(t *testing.T) {
	dev := newFakeCapture()
	s := newWithCapture(dev)
	defer s.Close()

	sink := s.Frames()
	defer sink.Close()
	waitUntil(t, dev.isStreaming)

	dev.frames <- []byte{1, 2, 3, 4, 5}

	frame, ok := sink.Next(nil)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, frame)
}

func TestTinySentinelFramesAreDropped(t *testing.T) {
	dev := newFakeCapture()
	s := newWithCapture(dev)
	defer s.Close()

	sink := s.Frames()
	defer sink.Close()
	waitUntil(t, dev.isStreaming)

	dev.frames <- []byte{0, 0} // <= minFrameBytes, must be dropped
	dev.frames <- []byte{9, 9, 9, 9, 9}

	frame, ok := sink.Next(nil)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 9, 9, 9, 9}, frame)
}

func TestDequeueErrorStopsStreamingWithoutKillingSource(t *testing.T) {
	dev := newFakeCapture()
	s := newWithCapture(dev)
	defer s.Close()

	sink := s.Frames()
	defer sink.Close()
	waitUntil(t, dev.isStreaming)

	dev.mu.Lock()
	dev.dequeueErr = errors.New("boom")
	dev.mu.Unlock()

	waitUntil(t, func() bool { return !dev.isStreaming() })
}
