// Package gpioline wraps github.com/warthog618/go-gpiocdev into two thin,
// async-friendly shapes: an output line with set-state, and an input line
// with level-read plus an edge-event stream.
package gpioline

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/katyo/ukvm/internal/config"
)

func biasOption(bias config.Bias) gpiocdev.LineReqOption {
	switch bias {
	case config.BiasPullUp:
		return gpiocdev.WithPullUp
	case config.BiasPullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasAsIs
	}
}

func driveOption(drive config.Drive) gpiocdev.LineReqOption {
	switch drive {
	case config.DriveOpenDrain:
		return gpiocdev.AsOpenDrain
	case config.DriveOpenSource:
		return gpiocdev.AsOpenSource
	default:
		return gpiocdev.AsPushPull
	}
}

// OutputLine is a single GPIO line opened for output.
type OutputLine struct {
	line *gpiocdev.Line
}

// OpenOutput requests cfg.Line on cfg.Chip as an output, using consumer as
// the GPIO consumer label.
func OpenOutput(cfg config.ButtonConfig, consumer string) (*OutputLine, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsOutput(0),
		driveOption(cfg.Drive),
		biasOption(cfg.Bias),
		gpiocdev.WithConsumer(consumer),
	}
	if cfg.Active == config.ActiveInverted {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, int(cfg.Line), opts...)
	if err != nil {
		return nil, fmt.Errorf("gpioline: request output %s:%d: %w", cfg.Chip, cfg.Line, err)
	}
	return &OutputLine{line: line}, nil
}

// Set drives the line high (true) or low (false).
func (o *OutputLine) Set(state bool) error {
	v := 0
	if state {
		v = 1
	}
	return o.line.SetValue(v)
}

// Close releases the underlying line request.
func (o *OutputLine) Close() error { return o.line.Close() }

// Edge identifies a GPIO edge transition.
type Edge int

const (
	EdgeFalling Edge = iota
	EdgeRising
)

// InputLine is a single GPIO line opened for input with both-edge detection.
type InputLine struct {
	line   *gpiocdev.Line
	events chan Edge
}

// OpenInput requests cfg.Line on cfg.Chip as an edge-watched input.
func OpenInput(cfg config.LineConfig, consumer string) (*InputLine, error) {
	events := make(chan Edge)

	handler := func(evt gpiocdev.LineEvent) {
		edge := EdgeFalling
		if evt.Type == gpiocdev.LineEventRisingEdge {
			edge = EdgeRising
		}
		events <- edge
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		biasOption(cfg.Bias),
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(handler),
	}
	if cfg.Active == config.ActiveInverted {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, int(cfg.Line), opts...)
	if err != nil {
		return nil, fmt.Errorf("gpioline: request input %s:%d: %w", cfg.Chip, cfg.Line, err)
	}
	return &InputLine{line: line, events: events}, nil
}

// ReadLevel returns the line's current level.
func (i *InputLine) ReadLevel() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// NextEvent blocks until an edge event is observed or stop is closed, in
// which case it returns (0, false).
func (i *InputLine) NextEvent(stop <-chan struct{}) (Edge, bool) {
	select {
	case e := <-i.events:
		return e, true
	case <-stop:
		return 0, false
	}
}

// Close releases the underlying line request.
func (i *InputLine) Close() error { return i.line.Close() }
