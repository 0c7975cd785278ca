// Package button models a chassis push-button as an output GPIO line
// fronted by a "latest state + notify" channel, so callers never block on
// GPIO I/O and every write to the line is serialized through one
// background goroutine.
package button

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/gpioline"
	"github.com/katyo/ukvm/internal/ids"
	"github.com/katyo/ukvm/internal/latest"
)

// outputLine is the subset of gpioline.OutputLine a Button depends on; it
// exists so tests can substitute a fake line without a real GPIO chip.
type outputLine interface {
	Set(state bool) error
	Close() error
}

// Button owns one output GPIO line. set_state requests are routed through a
// channel so the line write happens on a single dedicated goroutine.
type Button struct {
	id    ids.ButtonId
	state *latest.Value[bool]
	line  outputLine
}

// New opens the configured line and starts the button's write-serializing
// goroutine. Construction fails if the GPIO line cannot be requested, so a
// misconfigured or missing line always surfaces at startup rather than on
// first use.
func New(id ids.ButtonId, cfg config.ButtonConfig, product string) (*Button, error) {
	line, err := gpioline.OpenOutput(cfg, fmt.Sprintf("%s-%s-button", product, id))
	if err != nil {
		return nil, err
	}
	return newWithLine(id, line), nil
}

func newWithLine(id ids.ButtonId, line outputLine) *Button {
	b := &Button{
		id:    id,
		state: latest.NewValue(false),
		line:  line,
	}

	sub := b.state.Subscribe()
	go b.run(sub)

	return b
}

func (b *Button) run(sub *latest.Subscription[bool]) {
	log.Debug().Stringer("button", b.id).Msg("initialize receiving events")

	// Drain the seeded value — reflects the state at construction, not a
	// real request, so there's nothing to write yet.
	if _, ok := sub.Next(nil); !ok {
		return
	}

	for {
		state, ok := sub.Next(nil)
		if !ok {
			break
		}
		if err := b.line.Set(state); err != nil {
			log.Error().Err(err).Stringer("button", b.id).Msg("error writing gpio line")
			break
		}
	}

	log.Debug().Stringer("button", b.id).Msg("finalize receiving events")
}

// State returns the latest observed button state.
func (b *Button) State() bool { return b.state.Get() }

// SetState requests a new button state. The write to hardware happens
// asynchronously on the button's background goroutine.
func (b *Button) SetState(state bool) {
	b.state.Set(state)
}

// Watch returns an independent subscription seeded with the current state.
func (b *Button) Watch() *latest.Subscription[bool] { return b.state.Subscribe() }

// Close stops the background goroutine and releases the GPIO line.
func (b *Button) Close() error {
	b.state.Close()
	return b.line.Close()
}
