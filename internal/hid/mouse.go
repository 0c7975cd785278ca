package hid

import "encoding/binary"

// mouseReportSize is the wire size of a MouseReport: buttons (1) + X (2) +
// Y (2) + wheel (1).
const mouseReportSize = 6

// Mouse is the HID gadget mouse endpoint. It has no output image: the host
// never reports state back to an emulated mouse.
type Mouse struct {
	ep *endpoint
}

func newMouse(path, product string) (*Mouse, error) {
	ep, err := openEndpoint(path, product+"-mouse", mouseReportSize, false)
	if err != nil {
		return nil, err
	}
	return &Mouse{ep: ep}, nil
}

// ChangeButton marks a mouse button pressed or released.
func (m *Mouse) ChangeButton(button MouseButton, pressed bool) {
	r := decodeMouseReport(m.ep.input.Get())
	if pressed {
		r.Buttons |= 1 << uint(button)
	} else {
		r.Buttons &^= 1 << uint(button)
	}
	m.ep.setInput(encodeMouseReport(r))
}

// MovePointer sets the relative pointer displacement carried on the next
// report.
func (m *Mouse) MovePointer(x, y int16) {
	r := decodeMouseReport(m.ep.input.Get())
	r.X, r.Y = x, y
	m.ep.setInput(encodeMouseReport(r))
}

// SetWheel sets the wheel delta carried on the next report.
func (m *Mouse) SetWheel(wheel int8) {
	r := decodeMouseReport(m.ep.input.Get())
	r.Wheel = wheel
	m.ep.setInput(encodeMouseReport(r))
}

// WatchState subscribes to the input image and emits one MouseStateChange
// per button/pointer/wheel change between successive reports.
func (m *Mouse) WatchState() <-chan MouseStateChange {
	out := make(chan MouseStateChange, 10)
	go diffLoop(m.ep.watchInput(), decodeMouseReport, diffMouse, out)
	return out
}

// PressedButtons returns every mouse button currently marked down in the
// input image, for building a one-time state snapshot.
func (m *Mouse) PressedButtons() []MouseButton {
	return decodeMouseReport(m.ep.input.Get()).PressedButtons()
}

// Close releases the underlying device file.
func (m *Mouse) Close() error { return m.ep.close() }

func decodeMouseReport(raw []byte) MouseReport {
	if len(raw) < mouseReportSize {
		return MouseReport{}
	}
	return MouseReport{
		Buttons: raw[0],
		X:       int16(binary.LittleEndian.Uint16(raw[1:3])),
		Y:       int16(binary.LittleEndian.Uint16(raw[3:5])),
		Wheel:   int8(raw[5]),
	}
}

func encodeMouseReport(r MouseReport) []byte {
	out := make([]byte, mouseReportSize)
	out[0] = r.Buttons
	binary.LittleEndian.PutUint16(out[1:3], uint16(r.X))
	binary.LittleEndian.PutUint16(out[3:5], uint16(r.Y))
	out[5] = byte(r.Wheel)
	return out
}
