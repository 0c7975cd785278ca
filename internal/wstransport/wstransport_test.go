package wstransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katyo/ukvm/internal/bindaddr"
	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/hub"
	"github.com/katyo/ukvm/internal/shutdown"
)

func newTestTransport(t *testing.T) (*Transport, *hub.Hub, *shutdown.GracefulShutdown) {
	t.Helper()

	h, err := hub.New(&config.ServerConfig{}, "test-chassis")
	require.NoError(t, err)

	gs := shutdown.New()
	permit := gs.AcquireStopPermit()

	tr, err := New(bindaddr.HTTPAddr{Addr: "127.0.0.1:0"}, h.Downgrade(), permit)
	require.NoError(t, err)

	go tr.Run()
	t.Cleanup(func() {
		gs.Shutdown()
		h.Close()
	})

	return tr, h, gs
}

func dialSocket(t *testing.T, tr *Transport) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/socket", tr.Addr().String())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readOutput(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	return fields
}

func TestFirstMessageIsStateSnapshot(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	conn := dialSocket(t, tr)

	fields := readOutput(t, conn)

	var tag string
	require.NoError(t, json.Unmarshal(fields["$"], &tag))
	assert.Equal(t, "s", tag)

	// The snapshot's fields sit beside the "$" tag, not nested under a key.
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	var snapshot StateSnapshot
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	assert.Empty(t, snapshot.Leds)
	assert.Empty(t, snapshot.Buttons)
	assert.Nil(t, snapshot.Keyboard)
	assert.Nil(t, snapshot.Mouse)
}

func TestUnknownAssetReturns404(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/nope.bin", tr.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestIndexIsServedAtRoot(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/", tr.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
