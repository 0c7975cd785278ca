package wstransport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katyo/ukvm/internal/hid"
	"github.com/katyo/ukvm/internal/ids"
)

func TestSocketInputDecodesButton(t *testing.T) {
	raw := []byte(`{"$":"b","b":"power","s":true}`)

	var in SocketInput
	require.NoError(t, json.Unmarshal(raw, &in))

	require.NotNil(t, in.Button)
	assert.Equal(t, ids.ButtonPower, in.Button.Button)
	assert.True(t, in.Button.State)
}

func TestSocketInputDistinguishesPointerFromWheel(t *testing.T) {
	var pointer SocketInput
	require.NoError(t, json.Unmarshal([]byte(`{"$":"p","x":4,"y":-2}`), &pointer))
	require.NotNil(t, pointer.MousePointer)
	assert.Nil(t, pointer.MouseWheel)
	assert.Equal(t, int16(4), pointer.MousePointer.X)
	assert.Equal(t, int16(-2), pointer.MousePointer.Y)

	var wheel SocketInput
	require.NoError(t, json.Unmarshal([]byte(`{"$":"w","w":-1}`), &wheel))
	require.NotNil(t, wheel.MouseWheel)
	assert.Nil(t, wheel.MousePointer)
	assert.Equal(t, int8(-1), wheel.MouseWheel.Wheel)
}

func TestSocketInputUnknownTagIsError(t *testing.T) {
	var in SocketInput
	err := json.Unmarshal([]byte(`{"$":"z"}`), &in)
	assert.Error(t, err)
}

func TestSocketOutputButtonMarshalsWithTag(t *testing.T) {
	out := SocketOutput{Button: &ButtonOutput{Button: ids.ButtonReset, State: true}}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "b", fields["$"])
	assert.Equal(t, "reset", fields["b"])
	assert.Equal(t, true, fields["s"])
}

func TestSocketOutputStateSnapshotCarriesOptionalKeyboardAndMouse(t *testing.T) {
	out := SocketOutput{
		State: &StateSnapshot{
			Leds:    map[ids.LedId]bool{ids.LedPower: true},
			Buttons: map[ids.ButtonId]bool{ids.ButtonPower: false},
			Keyboard: &KeyboardState{
				Keys: []hid.Key{4},
				Leds: []hid.Led{hid.LedCapsLock},
			},
		},
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	require.Contains(t, fields, "$")
	require.Contains(t, fields, "l")

	var tag string
	require.NoError(t, json.Unmarshal(fields["$"], &tag))
	assert.Equal(t, "s", tag)

	// The snapshot's fields sit beside the "$" tag, not nested under a key.
	var snapshot StateSnapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.True(t, snapshot.Leds[ids.LedPower])
	assert.False(t, snapshot.Buttons[ids.ButtonPower])
	require.NotNil(t, snapshot.Keyboard)
	assert.Nil(t, snapshot.Mouse)
}

func TestSocketOutputEmptyUnionErrors(t *testing.T) {
	_, err := json.Marshal(SocketOutput{})
	assert.Error(t, err)
}

func TestSocketOutputVideoFrameCarriesRawBytes(t *testing.T) {
	out := SocketOutput{Video: &VideoFrameOutput{Frame: []byte{0xff, 0xd8, 0xff}}}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var frame VideoFrameOutput
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, frame.Frame)
}
