package hid

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/latest"
)

// device is the subset of *os.File an endpoint depends on, so tests can
// substitute an in-memory fake instead of a real /dev/hidgN node.
type device interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// endpoint owns one HID gadget device file. It holds a "latest input image"
// cell (written here, read by the device) and, when hasOutput is true, a
// "latest output image" cell (read here, written by the device). A single
// background goroutine is the device file's sole reader and writer.
type endpoint struct {
	name       string
	dev        device
	reportSize int
	hasOutput  bool

	input  *latest.Value[[]byte]
	output *latest.Value[[]byte]
	stop   chan struct{}
}

func openEndpoint(path, name string, reportSize int, hasOutput bool) (*endpoint, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("hid: open %s: %w", path, err)
	}
	return newEndpoint(f, name, reportSize, hasOutput), nil
}

func newEndpoint(dev device, name string, reportSize int, hasOutput bool) *endpoint {
	e := &endpoint{
		name:       name,
		dev:        dev,
		reportSize: reportSize,
		hasOutput:  hasOutput,
		input:      latest.NewValue(make([]byte, reportSize)),
		stop:       make(chan struct{}),
	}
	if hasOutput {
		e.output = latest.NewValue(make([]byte, reportSize))
	}
	writes := e.input.Subscribe()
	go e.run(writes)
	return e
}

// run is the single writer/reader of the device file: it alternates between
// "input image changed, write it out" and "device produced an output
// report, publish it" until either the device errors or the endpoint is
// closed, mirroring HidIo's select! loop in the original implementation.
func (e *endpoint) run(writes *latest.Subscription[[]byte]) {
	log.Debug().Str("hid", e.name).Msg("initialize endpoint")

	writeDone := make(chan struct{})
	writeErr := make(chan error, 1)

	go func() {
		defer close(writeDone)
		if _, ok := writes.Next(e.stop); !ok { // drain the seeded image, nothing to write yet
			return
		}
		for {
			report, ok := writes.Next(e.stop)
			if !ok {
				return
			}
			if _, err := e.dev.Write(report); err != nil {
				select {
				case writeErr <- err:
				default:
				}
				return
			}
		}
	}()

	if e.hasOutput {
		buf := make([]byte, e.reportSize)
		for {
			select {
			case err := <-writeErr:
				log.Warn().Str("hid", e.name).Err(err).Msg("device write failed, terminating endpoint")
				e.shutdown()
				<-writeDone
				return
			case <-e.stop:
				e.shutdown()
				<-writeDone
				return
			default:
			}

			n, err := e.dev.Read(buf)
			if err != nil {
				log.Warn().Str("hid", e.name).Err(err).Msg("device read failed, terminating endpoint")
				e.shutdown()
				<-writeDone
				return
			}
			if n > 0 {
				report := make([]byte, e.reportSize)
				copy(report, buf[:n])
				e.output.Set(report)
			}
		}
	} else {
		select {
		case err := <-writeErr:
			log.Warn().Str("hid", e.name).Err(err).Msg("device write failed, terminating endpoint")
		case <-e.stop:
		}
		<-writeDone
		e.shutdown()
	}

	log.Debug().Str("hid", e.name).Msg("finalize endpoint")
}

func (e *endpoint) shutdown() {
	e.input.Close()
	if e.output != nil {
		e.output.Close()
	}
}

// setInput publishes a new input image. Fire-and-forget: if the background
// goroutine has already terminated (device error), this is a silent no-op.
func (e *endpoint) setInput(report []byte) {
	e.input.Set(report)
}

func (e *endpoint) watchOutput() *latest.Subscription[[]byte] {
	if e.output == nil {
		return nil
	}
	return e.output.Subscribe()
}

func (e *endpoint) watchInput() *latest.Subscription[[]byte] {
	return e.input.Subscribe()
}

func (e *endpoint) close() error {
	close(e.stop)
	return e.dev.Close()
}

// Hid aggregates the keyboard and mouse HID gadget endpoints configured for
// this chassis.
type Hid struct {
	keyboard *Keyboard
	mouse    *Mouse
}

// New opens the configured gadget device files and starts their background
// endpoints.
func New(cfg *config.HidConfig, product string) (*Hid, error) {
	h := &Hid{}

	if cfg.Keyboard != "" {
		kb, err := newKeyboard(cfg.Keyboard, product)
		if err != nil {
			return nil, err
		}
		h.keyboard = kb
	}

	if cfg.Mouse != "" {
		m, err := newMouse(cfg.Mouse, product)
		if err != nil {
			if h.keyboard != nil {
				_ = h.keyboard.Close()
			}
			return nil, err
		}
		h.mouse = m
	}

	return h, nil
}

// Keyboard returns the keyboard endpoint, or nil if none was configured.
func (h *Hid) Keyboard() *Keyboard { return h.keyboard }

// Mouse returns the mouse endpoint, or nil if none was configured.
func (h *Hid) Mouse() *Mouse { return h.mouse }

// Close releases both endpoints.
func (h *Hid) Close() error {
	var err error
	if h.keyboard != nil {
		if e := h.keyboard.Close(); e != nil {
			err = e
		}
	}
	if h.mouse != nil {
		if e := h.mouse.Close(); e != nil {
			err = e
		}
	}
	return err
}
