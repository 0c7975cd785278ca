package hid

import "github.com/katyo/ukvm/internal/latest"

// keyboardReportSize is the wire size of a KeyboardReport: 32 bytes cover
// all 256 USB HID usage codes as an N-key-rollover bitmap.
const keyboardReportSize = 32

// Keyboard is the HID gadget keyboard endpoint: an input image of pressed
// keys sent to the host, and an output image of lit indicators received
// from it.
type Keyboard struct {
	ep *endpoint
}

func newKeyboard(path, product string) (*Keyboard, error) {
	ep, err := openEndpoint(path, product+"-keyboard", keyboardReportSize, true)
	if err != nil {
		return nil, err
	}
	return &Keyboard{ep: ep}, nil
}

// ChangeKey marks a key pressed or released and asynchronously pushes the
// updated report to the device. Fire-and-forget: becomes a no-op once the
// endpoint has terminated on a device error.
func (k *Keyboard) ChangeKey(key Key, pressed bool) {
	current := decodeKeyboardReport(k.ep.input.Get())
	current.setPressed(key, pressed)
	k.ep.setInput(encodeKeyboardReport(current))
}

// WatchKeys subscribes to the input image and emits one KeyStateChange per
// bit flip between successive reports, onto a bounded channel of capacity
// 10, until the endpoint closes.
func (k *Keyboard) WatchKeys() <-chan KeyStateChange {
	out := make(chan KeyStateChange, 10)
	go diffLoop(k.ep.watchInput(), decodeKeyboardReport, diffKeys, out)
	return out
}

// WatchLeds subscribes to the output image and emits one LedStateChange per
// indicator flip between successive reports.
func (k *Keyboard) WatchLeds() <-chan LedStateChange {
	out := make(chan LedStateChange, 10)
	sub := k.ep.watchOutput()
	if sub == nil {
		close(out)
		return out
	}
	go diffLoop(sub, decodeKeyboardLeds, diffLeds, out)
	return out
}

// PressedKeys returns every key currently marked down in the input image,
// for building a one-time state snapshot without waiting on a watch stream.
func (k *Keyboard) PressedKeys() []Key {
	return decodeKeyboardReport(k.ep.input.Get()).PressedKeys()
}

// LitLeds returns every indicator currently lit in the output image.
func (k *Keyboard) LitLeds() []Led {
	return decodeKeyboardLeds(k.ep.output.Get()).LitLeds()
}

// Close releases the underlying device file.
func (k *Keyboard) Close() error { return k.ep.close() }

func decodeKeyboardReport(raw []byte) KeyboardReport {
	var r KeyboardReport
	copy(r[:], raw)
	return r
}

func encodeKeyboardReport(r KeyboardReport) []byte {
	out := make([]byte, keyboardReportSize)
	copy(out, r[:])
	return out
}

// decodeKeyboardLeds reads the single LED byte a real boot-protocol keyboard
// output report carries; the remaining bytes of the image are unused here.
func decodeKeyboardLeds(raw []byte) KeyboardLeds {
	if len(raw) == 0 {
		return 0
	}
	return KeyboardLeds(raw[0])
}

// diffLoop is the common shape of WatchKeys/WatchLeds/WatchState: decode
// each successive image and diff it against the previous one, forwarding
// emitted changes onto out until the subscription closes or out backs up
// and the consumer is no longer draining it (in which case the loop simply
// blocks, preserving per-report ordering so no intermediate press/release
// is ever skipped).
func diffLoop[R any, C any](sub *latest.Subscription[[]byte], decode func([]byte) R, diff func(old, next R) []C, out chan<- C) {
	defer close(out)

	raw, ok := sub.Next(nil)
	if !ok {
		return
	}
	prev := decode(raw)

	for {
		raw, ok := sub.Next(nil)
		if !ok {
			return
		}
		next := decode(raw)
		for _, c := range diff(prev, next) {
			out <- c
		}
		prev = next
	}
}
