// Package hub implements the single immutable aggregate of every
// peripheral, shared between the Supervisor and every transport.
//
// Rust's Arc<Hub>/Weak<Hub> distinguishes strong holders (who keep the
// peripherals alive) from weak holders (transports, who must never be the
// reason the Hub outlives a shutdown request). Go's garbage collector
// already keeps the *Hub value alive as long as anything points to it, so
// the memory-safety half of that pattern has no Go equivalent to write.
// What does need expressing is the liveness half: once the Supervisor
// closes the Hub, every transport's per-connection task must notice on its
// next access rather than keep driving now-closed hardware. Weak models
// exactly that: Upgrade succeeds only while the Hub is still open.
package hub

import (
	"fmt"

	"github.com/katyo/ukvm/internal/button"
	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/hid"
	"github.com/katyo/ukvm/internal/ids"
	"github.com/katyo/ukvm/internal/led"
	"github.com/katyo/ukvm/internal/video"
)

// closedFlag is shared between a Hub and every Weak handle downgraded from
// it, so Upgrade can observe closure without holding a strong reference to
// the Hub itself.
type closedFlag struct {
	ch chan struct{}
}

func newClosedFlag() *closedFlag { return &closedFlag{ch: make(chan struct{})} }
func (c *closedFlag) trip()      { close(c.ch) }
func (c *closedFlag) tripped() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Hub is the immutable aggregate of every peripheral the running
// configuration names. It is built once at startup and torn down once at
// shutdown; nothing about its peripheral set changes in between.
type Hub struct {
	buttons map[ids.ButtonId]*button.Button
	leds    map[ids.LedId]*led.Led
	hid     *hid.Hid
	video   *video.Source

	closed *closedFlag
}

// New opens every peripheral named in cfg and assembles the Hub. On any
// failure, peripherals already opened are closed before returning the
// error, so a failed construction never leaks hardware handles.
func New(cfg *config.ServerConfig, product string) (*Hub, error) {
	h := &Hub{
		buttons: make(map[ids.ButtonId]*button.Button, len(cfg.Buttons)),
		leds:    make(map[ids.LedId]*led.Led, len(cfg.Leds)),
		closed:  newClosedFlag(),
	}

	for id, bcfg := range cfg.Buttons {
		b, err := button.New(id, bcfg, product)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("hub: open button %s: %w", id, err)
		}
		h.buttons[id] = b
	}

	for id, lcfg := range cfg.Leds {
		l, err := led.New(id, lcfg, product)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("hub: open led %s: %w", id, err)
		}
		h.leds[id] = l
	}

	if cfg.Hid != nil {
		hidDev, err := hid.New(cfg.Hid, product)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("hub: open hid: %w", err)
		}
		h.hid = hidDev
	}

	if cfg.Video != nil {
		src, err := video.New(cfg.Video)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("hub: open video: %w", err)
		}
		h.video = src
	}

	return h, nil
}

// Buttons returns every configured button, keyed by id.
func (h *Hub) Buttons() map[ids.ButtonId]*button.Button { return h.buttons }

// Button returns one configured button, or nil if id isn't configured.
func (h *Hub) Button(id ids.ButtonId) *button.Button { return h.buttons[id] }

// Leds returns every configured LED, keyed by id.
func (h *Hub) Leds() map[ids.LedId]*led.Led { return h.leds }

// Led returns one configured LED, or nil if id isn't configured.
func (h *Hub) Led(id ids.LedId) *led.Led { return h.leds[id] }

// Hid returns the HID endpoints, or nil if none were configured.
func (h *Hub) Hid() *hid.Hid { return h.hid }

// Video returns the video capture source, or nil if none was configured.
func (h *Hub) Video() *video.Source { return h.video }

// Downgrade returns a non-owning handle that transports hold across
// requests: Upgrade fails from the moment Close runs, so a transport never
// keeps driving hardware the Supervisor has already released.
func (h *Hub) Downgrade() Weak { return Weak{hub: h} }

// Close releases every peripheral and trips the closed flag observed by
// every outstanding Weak handle. Safe to call once; idempotent beyond that
// only in the sense that it won't panic, not that it re-closes anything.
func (h *Hub) Close() {
	if h.closed.tripped() {
		return
	}
	h.closed.trip()
	for _, b := range h.buttons {
		_ = b.Close()
	}
	for _, l := range h.leds {
		_ = l.Close()
	}
	if h.hid != nil {
		_ = h.hid.Close()
	}
	if h.video != nil {
		_ = h.video.Close()
	}
}

// Weak is the handle a transport holds between requests. It never keeps
// the Hub's peripherals alive on its own.
type Weak struct {
	hub *Hub
}

// Upgrade returns the Hub if it is still open, or (nil, false) once Close
// has run. Transports call this once per request rather than caching the
// result, so a shutdown mid-connection is observed on the very next
// operation instead of being missed.
func (w Weak) Upgrade() (*Hub, bool) {
	if w.hub == nil || w.hub.closed.tripped() {
		return nil, false
	}
	return w.hub, true
}
