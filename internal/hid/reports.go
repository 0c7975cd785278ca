// Package hid implements HID gadget keyboard/mouse endpoints as "latest
// input/output report image + notify" cells, with pure, hardware-free
// diffing of successive report images into typed change events.
package hid

import "fmt"

// Key is a USB HID keyboard usage code.
type Key byte

// Led is a keyboard indicator.
type Led byte

const (
	LedNumLock Led = iota
	LedCapsLock
	LedScrollLock
	LedCompose
	LedKana
)

// MouseButton is a mouse button index.
type MouseButton byte

const (
	MouseLeft MouseButton = iota
	MouseRight
	MouseMiddle
	MouseButton4
	MouseButton5
)

// KeyboardReport is an N-key-rollover bitmap over all 256 usage codes: bit n
// of byte n/8 is set while key n is held. This is simpler than the 6-key
// boot-protocol report and is a legitimate, real HID gadget report shape;
// exact report-descriptor fidelity beyond press/release/move/wheel is out
// of scope here.
type KeyboardReport [32]byte

func (r KeyboardReport) pressed(k Key) bool {
	return r[k/8]&(1<<(k%8)) != 0
}

func (r *KeyboardReport) setPressed(k Key, pressed bool) {
	if pressed {
		r[k/8] |= 1 << (k % 8)
	} else {
		r[k/8] &^= 1 << (k % 8)
	}
}

// PressedKeys returns every key currently marked down in the report.
func (r KeyboardReport) PressedKeys() []Key {
	var out []Key
	for i := 0; i < 256; i++ {
		if r.pressed(Key(i)) {
			out = append(out, Key(i))
		}
	}
	return out
}

// KeyStateChange is one key's press/release transition between two reports.
type KeyStateChange struct {
	Key     Key
	Pressed bool
}

// diffKeys returns one KeyStateChange per bit that flipped between old and
// next: the result is exactly the symmetric difference of the two reports'
// pressed sets, so no transition is ever missed or duplicated.
func diffKeys(old, next KeyboardReport) []KeyStateChange {
	var out []KeyStateChange
	for i := 0; i < 256; i++ {
		k := Key(i)
		was, now := old.pressed(k), next.pressed(k)
		if was != now {
			out = append(out, KeyStateChange{Key: k, Pressed: now})
		}
	}
	return out
}

// KeyboardLeds is a bitmap of keyboard indicators, reported device→host.
type KeyboardLeds byte

func (l KeyboardLeds) lit(led Led) bool { return l&(1<<uint(led)) != 0 }

// LitLeds returns every indicator currently lit.
func (l KeyboardLeds) LitLeds() []Led {
	var out []Led
	for i := Led(0); i <= LedKana; i++ {
		if l.lit(i) {
			out = append(out, i)
		}
	}
	return out
}

// LedStateChange is one keyboard indicator's on/off transition.
type LedStateChange struct {
	Led Led
	On  bool
}

func diffLeds(old, next KeyboardLeds) []LedStateChange {
	var out []LedStateChange
	for i := Led(0); i <= LedKana; i++ {
		was, now := old.lit(i), next.lit(i)
		if was != now {
			out = append(out, LedStateChange{Led: i, On: now})
		}
	}
	return out
}

// MouseReport is the full mouse input image: held buttons plus the most
// recently requested relative pointer displacement and wheel delta.
type MouseReport struct {
	Buttons byte
	X, Y    int16
	Wheel   int8
}

func (r MouseReport) pressed(b MouseButton) bool { return r.Buttons&(1<<uint(b)) != 0 }

// PressedButtons returns every mouse button currently held.
func (r MouseReport) PressedButtons() []MouseButton {
	var out []MouseButton
	for i := MouseButton(0); i <= MouseButton5; i++ {
		if r.pressed(i) {
			out = append(out, i)
		}
	}
	return out
}

// ButtonStateChange is one mouse button's press/release transition.
type ButtonStateChange struct {
	Button  MouseButton
	Pressed bool
}

// PointerValueChange carries the new relative pointer displacement.
type PointerValueChange struct {
	X, Y int16
}

// WheelValueChange carries the new wheel delta.
type WheelValueChange struct {
	Wheel int8
}

// MouseStateChange is the demultiplexed union of the three kinds of mouse
// change event, mirroring the three mouse SocketOutput variants the
// WebSocket transport emits.
type MouseStateChange struct {
	Button  *ButtonStateChange
	Pointer *PointerValueChange
	Wheel   *WheelValueChange
}

func diffMouse(old, next MouseReport) []MouseStateChange {
	var out []MouseStateChange
	for i := MouseButton(0); i <= MouseButton5; i++ {
		was, now := old.pressed(i), next.pressed(i)
		if was != now {
			out = append(out, MouseStateChange{Button: &ButtonStateChange{Button: i, Pressed: now}})
		}
	}
	if old.X != next.X || old.Y != next.Y {
		out = append(out, MouseStateChange{Pointer: &PointerValueChange{X: next.X, Y: next.Y}})
	}
	if old.Wheel != next.Wheel {
		out = append(out, MouseStateChange{Wheel: &WheelValueChange{Wheel: next.Wheel}})
	}
	return out
}

func (k Key) String() string         { return fmt.Sprintf("key(%d)", byte(k)) }
func (b MouseButton) String() string { return fmt.Sprintf("mouse-button(%d)", byte(b)) }
