package wstransport

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/katyo/ukvm/internal/hid"
	"github.com/katyo/ukvm/internal/ids"
)

// ButtonInput requests a new button state, routed through the same
// set_state path the D-Bus transport uses.
type ButtonInput struct {
	Button ids.ButtonId `json:"b"`
	State  bool         `json:"s"`
}

// KeyInput requests a keyboard key press or release.
type KeyInput struct {
	Key   hid.Key `json:"k"`
	State bool    `json:"s"`
}

// MouseButtonInput requests a mouse button press or release.
type MouseButtonInput struct {
	Button hid.MouseButton `json:"b"`
	State  bool            `json:"s"`
}

// MousePointerInput requests a relative pointer displacement on the next
// mouse report.
type MousePointerInput struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
}

// MouseWheelInput requests a wheel delta on the next mouse report.
//
// The original protocol overloads tag "p" for both pointer and wheel
// input; here the wheel gets its own tag ("w") instead, so a reader never
// has to guess which variant a "p" message meant.
type MouseWheelInput struct {
	Wheel int8 `json:"w"`
}

// SocketInput is the tagged union of every message a client may send on
// `/socket`. Exactly one field is non-nil after a successful decode.
type SocketInput struct {
	Button       *ButtonInput
	Key          *KeyInput
	MouseButton  *MouseButtonInput
	MousePointer *MousePointerInput
	MouseWheel   *MouseWheelInput
}

// UnmarshalJSON dispatches on the "$" tag field to the matching variant.
func (in *SocketInput) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Tag string `json:"$"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("wstransport: decode socket input tag: %w", err)
	}

	switch tagged.Tag {
	case "b":
		in.Button = &ButtonInput{}
		return json.Unmarshal(data, in.Button)
	case "k":
		in.Key = &KeyInput{}
		return json.Unmarshal(data, in.Key)
	case "m":
		in.MouseButton = &MouseButtonInput{}
		return json.Unmarshal(data, in.MouseButton)
	case "p":
		in.MousePointer = &MousePointerInput{}
		return json.Unmarshal(data, in.MousePointer)
	case "w":
		in.MouseWheel = &MouseWheelInput{}
		return json.Unmarshal(data, in.MouseWheel)
	default:
		return fmt.Errorf("wstransport: unknown socket input tag %q", tagged.Tag)
	}
}

// ButtonOutput is a button state transition.
type ButtonOutput struct {
	Button ids.ButtonId `json:"b"`
	State  bool         `json:"s"`
}

// LedOutput is a chassis LED state transition.
type LedOutput struct {
	Led   ids.LedId `json:"l"`
	State bool      `json:"s"`
}

// KeyboardKeyOutput is a keyboard key press/release transition.
type KeyboardKeyOutput struct {
	Key   hid.Key `json:"k"`
	State bool    `json:"s"`
}

// KeyboardLedOutput is a keyboard indicator (num lock, caps lock, ...)
// transition reported by the host.
type KeyboardLedOutput struct {
	Led hid.Led `json:"i"`
	On  bool    `json:"s"`
}

// MouseButtonOutput is a mouse button press/release transition.
type MouseButtonOutput struct {
	Button hid.MouseButton `json:"b"`
	State  bool            `json:"s"`
}

// MousePointerOutput echoes the last pointer displacement accepted onto the
// mouse report.
type MousePointerOutput struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
}

// MouseWheelOutput echoes the last wheel delta accepted onto the mouse
// report.
type MouseWheelOutput struct {
	Wheel int8 `json:"w"`
}

// VideoFrameOutput carries one complete MJPEG frame.
type VideoFrameOutput struct {
	Frame []byte `json:"f"`
}

// KeyboardState is the keyboard's contribution to a State snapshot: every
// key currently held and every indicator currently lit.
type KeyboardState struct {
	Keys []hid.Key `json:"keys"`
	Leds []hid.Led `json:"leds"`
}

// MouseState is the mouse's contribution to a State snapshot. Pointer and
// wheel carry no meaningful "current value" — they're relative deltas — so
// only held buttons are snapshotted.
type MouseState struct {
	Buttons []hid.MouseButton `json:"buttons"`
}

// StateSnapshot is the one message guaranteed to arrive first on every new
// connection, ahead of any delta.
type StateSnapshot struct {
	Leds     map[ids.LedId]bool    `json:"l"`
	Buttons  map[ids.ButtonId]bool `json:"b"`
	Keyboard *KeyboardState        `json:"k,omitempty"`
	Mouse    *MouseState           `json:"m,omitempty"`
}

// SocketOutput is the tagged union of every message the server sends on
// `/socket`. Exactly one field is non-nil when constructed.
type SocketOutput struct {
	State        *StateSnapshot
	Button       *ButtonOutput
	Led          *LedOutput
	Key          *KeyboardKeyOutput
	Indicator    *KeyboardLedOutput
	MouseButton  *MouseButtonOutput
	MousePointer *MousePointerOutput
	MouseWheel   *MouseWheelOutput
	Video        *VideoFrameOutput
}

// MarshalJSON encodes whichever variant is set, tagged with "$".
func (out SocketOutput) MarshalJSON() ([]byte, error) {
	switch {
	case out.State != nil:
		return marshalTagged("s", out.State)
	case out.Button != nil:
		return marshalTagged("b", out.Button)
	case out.Led != nil:
		return marshalTagged("l", out.Led)
	case out.Key != nil:
		return marshalTagged("k", out.Key)
	case out.Indicator != nil:
		return marshalTagged("i", out.Indicator)
	case out.MouseButton != nil:
		return marshalTagged("m", out.MouseButton)
	case out.MousePointer != nil:
		return marshalTagged("p", out.MousePointer)
	case out.MouseWheel != nil:
		return marshalTagged("w", out.MouseWheel)
	case out.Video != nil:
		return marshalTagged("v", out.Video)
	default:
		return nil, fmt.Errorf("wstransport: empty SocketOutput")
	}
}

// marshalTagged marshals payload, then splices a "$": tag field into the
// resulting object — avoiding a hand-duplicated field list per variant.
func marshalTagged(tag string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["$"] = json.RawMessage(strconv.Quote(tag))

	return json.Marshal(fields)
}
