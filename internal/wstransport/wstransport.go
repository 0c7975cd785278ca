// Package wstransport implements a WebSocket control endpoint fronted by a
// small embedded single-page UI, mirroring the upgrade/write-pump/read-pump
// shape in server/handlers.go.
package wstransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/bindaddr"
	"github.com/katyo/ukvm/internal/hub"
	"github.com/katyo/ukvm/internal/ids"
	"github.com/katyo/ukvm/internal/shutdown"
	"github.com/katyo/ukvm/web"
)

const outputQueueDepth = 16

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Transport serves the embedded UI and the `/socket` control endpoint on
// one HTTP(S)/Unix listener.
type Transport struct {
	addr   bindaddr.HTTPAddr
	weak   hub.Weak
	permit shutdown.Permit
	srv    *http.Server
	ln     net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New builds a Transport bound to addr. The listener is opened here so
// bind failures surface before Run is called; Run performs the actual
// serving and blocks until the permit signals shutdown.
func New(addr bindaddr.HTTPAddr, weak hub.Weak, permit shutdown.Permit) (*Transport, error) {
	t := &Transport{
		addr:   addr,
		weak:   weak,
		permit: permit,
		conns:  make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.serveAsset)
	mux.HandleFunc("/socket", t.serveSocket)
	t.srv = &http.Server{Handler: mux}

	ln, err := t.listen()
	if err != nil {
		return nil, err
	}
	t.ln = ln

	return t, nil
}

func (t *Transport) listen() (net.Listener, error) {
	if t.addr.Path != "" {
		if fi, err := os.Stat(t.addr.Path); err == nil && fi.Mode()&os.ModeSocket != 0 {
			_ = os.Remove(t.addr.Path)
		}
		ln, err := net.Listen("unix", t.addr.Path)
		if err != nil {
			return nil, fmt.Errorf("wstransport: listen %s: %w", t.addr, err)
		}
		return ln, nil
	}

	ln, err := net.Listen("tcp", t.addr.Addr)
	if err != nil {
		return nil, fmt.Errorf("wstransport: listen %s: %w", t.addr, err)
	}

	if t.addr.TLS == nil {
		return ln, nil
	}

	cert, err := tls.LoadX509KeyPair(t.addr.TLS.Cert, t.addr.TLS.Key)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("wstransport: load tls keypair: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if t.addr.TLS.ClientAuth != "" {
		pem, err := os.ReadFile(t.addr.TLS.ClientAuth)
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("wstransport: read client ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			_ = ln.Close()
			return nil, fmt.Errorf("wstransport: no certificates found in %s", t.addr.TLS.ClientAuth)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tls.NewListener(ln, cfg), nil
}

// Addr returns the listener's bound address, useful for logging and for
// tests that bind to port 0.
func (t *Transport) Addr() net.Addr { return t.ln.Addr() }

// Run serves connections until the permit is signaled, then tears down the
// listener, closes every live socket, and acknowledges the permit.
func (t *Transport) Run() {
	served := make(chan error, 1)
	go func() { served <- t.srv.Serve(t.ln) }()

	select {
	case err := <-served:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Stringer("bind", t.addr).Msg("wstransport: listener failed")
		}
	case <-t.permit.Stop():
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = t.srv.Shutdown(ctx)
		cancel()
		t.closeAllConns()
		<-served
	}

	if t.addr.Path != "" {
		_ = os.Remove(t.addr.Path)
	}
	t.permit.Done()
}

func (t *Transport) trackConn(c *websocket.Conn) {
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) untrackConn(c *websocket.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *Transport) closeAllConns() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.conns {
		_ = c.Close()
	}
}

func (t *Transport) serveAsset(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		name = "index.html"
	}

	data, err := web.Assets.ReadFile(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	_, _ = w.Write(data)
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json", ".map":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (t *Transport) serveSocket(w http.ResponseWriter, r *http.Request) {
	h, ok := t.weak.Upgrade()
	if !ok {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wstransport: upgrade failed")
		return
	}
	t.trackConn(conn)

	stop := make(chan struct{})
	var closeOnce sync.Once
	closeStop := func() { closeOnce.Do(func() { close(stop) }) }

	out := make(chan SocketOutput, outputQueueDepth)
	go feedOutputs(h, out, stop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range out {
			data, err := json.Marshal(msg)
			if err != nil {
				log.Warn().Err(err).Msg("wstransport: encode output failed")
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				closeStop()
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var in SocketInput
		if err := json.Unmarshal(data, &in); err != nil {
			log.Warn().Err(err).Msg("wstransport: decode input failed")
			continue
		}
		t.dispatch(in)
	}

	closeStop()
	<-done
	t.untrackConn(conn)
	_ = conn.Close()
}

func (t *Transport) dispatch(in SocketInput) {
	h, ok := t.weak.Upgrade()
	if !ok {
		return
	}

	switch {
	case in.Button != nil:
		if b := h.Button(in.Button.Button); b != nil {
			b.SetState(in.Button.State)
		}
	case in.Key != nil:
		if hidDev := h.Hid(); hidDev != nil {
			if kb := hidDev.Keyboard(); kb != nil {
				kb.ChangeKey(in.Key.Key, in.Key.State)
			}
		}
	case in.MouseButton != nil:
		if hidDev := h.Hid(); hidDev != nil {
			if m := hidDev.Mouse(); m != nil {
				m.ChangeButton(in.MouseButton.Button, in.MouseButton.State)
			}
		}
	case in.MousePointer != nil:
		if hidDev := h.Hid(); hidDev != nil {
			if m := hidDev.Mouse(); m != nil {
				m.MovePointer(in.MousePointer.X, in.MousePointer.Y)
			}
		}
	case in.MouseWheel != nil:
		if hidDev := h.Hid(); hidDev != nil {
			if m := hidDev.Mouse(); m != nil {
				m.SetWheel(in.MouseWheel.Wheel)
			}
		}
	}
}

// feedOutputs builds the composite output stream for one connection: a
// single State snapshot followed by a select-merge of every per-peripheral
// watch stream, until stop closes or the Hub's own peripherals close out
// from under it.
func feedOutputs(h *hub.Hub, out chan<- SocketOutput, stop <-chan struct{}) {
	defer close(out)

	send := func(o SocketOutput) bool {
		select {
		case out <- o:
			return true
		case <-stop:
			return false
		}
	}

	if !send(SocketOutput{State: buildSnapshot(h)}) {
		return
	}

	var wg sync.WaitGroup

	for id, b := range h.Buttons() {
		id, b := id, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Watch()
			for {
				state, ok := sub.Next(stop)
				if !ok {
					return
				}
				if !send(SocketOutput{Button: &ButtonOutput{Button: id, State: state}}) {
					return
				}
			}
		}()
	}

	for id, l := range h.Leds() {
		id, l := id, l
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := l.Watch()
			for {
				state, ok := sub.Next(stop)
				if !ok {
					return
				}
				if !send(SocketOutput{Led: &LedOutput{Led: id, State: state}}) {
					return
				}
			}
		}()
	}

	if hidDev := h.Hid(); hidDev != nil {
		if kb := hidDev.Keyboard(); kb != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				keys := kb.WatchKeys()
				leds := kb.WatchLeds()
				for keys != nil || leds != nil {
					select {
					case c, ok := <-keys:
						if !ok {
							keys = nil
							continue
						}
						if !send(SocketOutput{Key: &KeyboardKeyOutput{Key: c.Key, State: c.Pressed}}) {
							return
						}
					case c, ok := <-leds:
						if !ok {
							leds = nil
							continue
						}
						if !send(SocketOutput{Indicator: &KeyboardLedOutput{Led: c.Led, On: c.On}}) {
							return
						}
					case <-stop:
						return
					}
				}
			}()
		}

		if m := hidDev.Mouse(); m != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				state := m.WatchState()
				for {
					select {
					case c, ok := <-state:
						if !ok {
							return
						}
						switch {
						case c.Button != nil:
							if !send(SocketOutput{MouseButton: &MouseButtonOutput{Button: c.Button.Button, State: c.Button.Pressed}}) {
								return
							}
						case c.Pointer != nil:
							if !send(SocketOutput{MousePointer: &MousePointerOutput{X: c.Pointer.X, Y: c.Pointer.Y}}) {
								return
							}
						case c.Wheel != nil:
							if !send(SocketOutput{MouseWheel: &MouseWheelOutput{Wheel: c.Wheel.Wheel}}) {
								return
							}
						}
					case <-stop:
						return
					}
				}
			}()
		}
	}

	if src := h.Video(); src != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink := src.Frames()
			defer sink.Close()
			for {
				frame, ok := sink.Next(stop)
				if !ok {
					return
				}
				if !send(SocketOutput{Video: &VideoFrameOutput{Frame: frame}}) {
					return
				}
			}
		}()
	}

	wg.Wait()
}

func buildSnapshot(h *hub.Hub) *StateSnapshot {
	snap := &StateSnapshot{
		Leds:    make(map[ids.LedId]bool, len(h.Leds())),
		Buttons: make(map[ids.ButtonId]bool, len(h.Buttons())),
	}
	for id, l := range h.Leds() {
		snap.Leds[id] = l.State()
	}
	for id, b := range h.Buttons() {
		snap.Buttons[id] = b.State()
	}

	if hidDev := h.Hid(); hidDev != nil {
		if kb := hidDev.Keyboard(); kb != nil {
			snap.Keyboard = &KeyboardState{Keys: kb.PressedKeys(), Leds: kb.LitLeds()}
		}
		if m := hidDev.Mouse(); m != nil {
			snap.Mouse = &MouseState{Buttons: m.PressedButtons()}
		}
	}

	return snap
}
