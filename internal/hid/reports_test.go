package hid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffKeysIsSymmetricDifference(t *testing.T) {
	var old, next KeyboardReport
	old.setPressed(4, true)  // 'a' held in old only
	old.setPressed(5, true)  // 'b' held in both
	next.setPressed(5, true)
	next.setPressed(6, true) // 'c' held in next only

	changes := diffKeys(old, next)

	byKey := map[Key]bool{}
	for _, c := range changes {
		byKey[c.Key] = c.Pressed
	}
	assert.Len(t, changes, 2)
	assert.Equal(t, false, byKey[4])
	assert.Equal(t, true, byKey[6])
	_, stillThere := byKey[5]
	assert.False(t, stillThere, "unchanged key must not appear in the diff")
}

func TestDiffKeysEmptyWhenReportsIdentical(t *testing.T) {
	var old, next KeyboardReport
	old.setPressed(10, true)
	next.setPressed(10, true)
	assert.Empty(t, diffKeys(old, next))
}

func TestDiffLedsDetectsFlips(t *testing.T) {
	old := KeyboardLeds(0)
	next := KeyboardLeds(1 << uint(LedCapsLock))

	changes := diffLeds(old, next)
	assert.Equal(t, []LedStateChange{{Led: LedCapsLock, On: true}}, changes)
}

func TestDiffMouseButtonsPointerAndWheelAreIndependent(t *testing.T) {
	old := MouseReport{Buttons: 0, X: 0, Y: 0, Wheel: 0}
	next := MouseReport{Buttons: 1 << uint(MouseLeft), X: 3, Y: -2, Wheel: 1}

	changes := diffMouse(old, next)
	require := assert.New(t)
	require.Len(changes, 3)

	var sawButton, sawPointer, sawWheel bool
	for _, c := range changes {
		switch {
		case c.Button != nil:
			sawButton = true
			require.Equal(MouseLeft, c.Button.Button)
			require.True(c.Button.Pressed)
		case c.Pointer != nil:
			sawPointer = true
			require.EqualValues(3, c.Pointer.X)
			require.EqualValues(-2, c.Pointer.Y)
		case c.Wheel != nil:
			sawWheel = true
			require.EqualValues(1, c.Wheel.Wheel)
		}
	}
	require.True(sawButton)
	require.True(sawPointer)
	require.True(sawWheel)
}

func TestDiffMouseNoChangeProducesNoEvents(t *testing.T) {
	r := MouseReport{Buttons: 1, X: 5, Y: 5, Wheel: 2}
	assert.Empty(t, diffMouse(r, r))
}

func TestPressedKeysAndButtonsReflectBitmap(t *testing.T) {
	var r KeyboardReport
	r.setPressed(1, true)
	r.setPressed(200, true)
	assert.ElementsMatch(t, []Key{1, 200}, r.PressedKeys())

	m := MouseReport{Buttons: 1<<uint(MouseLeft) | 1<<uint(MouseRight)}
	assert.ElementsMatch(t, []MouseButton{MouseLeft, MouseRight}, m.PressedButtons())
}
