package hid

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice stands in for a /dev/hidgN character device: writes are
// captured onto a channel for assertions, reads are fed from another, and
// closing it unblocks any pending Read the way closing a real fd does.
type fakeDevice struct {
	writes chan []byte
	reads  chan []byte
	closed chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		writes: make(chan []byte, 16),
		reads:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case f.writes <- cp:
	default:
	}
	return len(p), nil
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	select {
	case data := <-f.reads:
		return copy(p, data), nil
	case <-f.closed:
		return 0, errors.New("fake device closed")
	}
}

func (f *fakeDevice) Close() error {
	close(f.closed)
	return nil
}

func recvWrite(t *testing.T, f *fakeDevice) []byte {
	t.Helper()
	select {
	case w := <-f.writes:
		return w
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device write")
		return nil
	}
}

func TestKeyboardChangeKeyWritesEncodedReport(t *testing.T) {
	dev := newFakeDevice()
	kb := &Keyboard{ep: newEndpoint(dev, "test-keyboard", keyboardReportSize, true)}
	defer kb.Close()

	kb.ChangeKey(9, true)

	w := recvWrite(t, dev)
	r := decodeKeyboardReport(w)
	assert.True(t, r.pressed(9))
}

func TestKeyboardWatchLedsEmitsOnOutputChange(t *testing.T) {
	dev := newFakeDevice()
	kb := &Keyboard{ep: newEndpoint(dev, "test-keyboard", keyboardReportSize, true)}
	defer kb.Close()

	leds := kb.WatchLeds()

	dev.reads <- []byte{byte(1 << uint(LedCapsLock))}

	select {
	case change := <-leds:
		assert.Equal(t, LedCapsLock, change.Led)
		assert.True(t, change.On)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for led change")
	}
}

func TestKeyboardChangeKeyAfterDeviceCloseDoesNotBlock(t *testing.T) {
	dev := newFakeDevice()
	kb := &Keyboard{ep: newEndpoint(dev, "test-keyboard", keyboardReportSize, true)}

	require.NoError(t, dev.Close()) // simulate the device vanishing

	done := make(chan struct{})
	go func() {
		kb.ChangeKey(1, true) // must not panic or block forever
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ChangeKey did not return after device closed")
	}
}

func TestMouseMovePointerWritesEncodedReport(t *testing.T) {
	dev := newFakeDevice()
	m := &Mouse{ep: newEndpoint(dev, "test-mouse", mouseReportSize, false)}
	defer m.Close()

	m.MovePointer(12, -7)

	w := recvWrite(t, dev)
	r := decodeMouseReport(w)
	assert.EqualValues(t, 12, r.X)
	assert.EqualValues(t, -7, r.Y)
}

func TestMouseWatchStateEmitsButtonPointerAndWheelChanges(t *testing.T) {
	dev := newFakeDevice()
	m := &Mouse{ep: newEndpoint(dev, "test-mouse", mouseReportSize, false)}
	defer m.Close()

	states := m.WatchState()

	m.ChangeButton(MouseLeft, true)
	m.MovePointer(3, 4)
	m.SetWheel(2)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case c := <-states:
			switch {
			case c.Button != nil:
				seen["button"] = true
			case c.Pointer != nil:
				seen["pointer"] = true
			case c.Wheel != nil:
				seen["wheel"] = true
			}
		case <-deadline:
			t.Fatalf("timed out, saw only %v", seen)
		}
	}
}

func TestMouseEncodeDecodeRoundTrip(t *testing.T) {
	r := MouseReport{Buttons: 1<<uint(MouseLeft) | 1<<uint(MouseMiddle), X: -100, Y: 200, Wheel: -3}
	assert.Equal(t, r, decodeMouseReport(encodeMouseReport(r)))
}
