// Package led models a status indicator as an input GPIO line watched for
// rising/falling edges, fanned out through a "latest state + notify" cell
// seeded with the level read at construction.
package led

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/gpioline"
	"github.com/katyo/ukvm/internal/ids"
	"github.com/katyo/ukvm/internal/latest"
)

// inputLine is the subset of gpioline.InputLine a Led depends on.
type inputLine interface {
	ReadLevel() (bool, error)
	NextEvent(stop <-chan struct{}) (gpioline.Edge, bool)
	Close() error
}

// Led owns one input GPIO line.
type Led struct {
	id    ids.LedId
	state *latest.Value[bool]
	line  inputLine
	stop  chan struct{}
}

// New opens the configured line, reads its initial level, and starts the
// edge-watching goroutine.
func New(id ids.LedId, cfg config.LineConfig, product string) (*Led, error) {
	line, err := gpioline.OpenInput(cfg, fmt.Sprintf("%s-%s-led", product, id))
	if err != nil {
		return nil, err
	}

	level, err := line.ReadLevel()
	if err != nil {
		_ = line.Close()
		return nil, fmt.Errorf("led: initial read of %s: %w", id, err)
	}

	return newWithLine(id, line, level), nil
}

func newWithLine(id ids.LedId, line inputLine, initial bool) *Led {
	l := &Led{
		id:    id,
		state: latest.NewValue(initial),
		line:  line,
		stop:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Led) run() {
	log.Debug().Stringer("led", l.id).Msg("initialize receiving events")

	for {
		edge, ok := l.line.NextEvent(l.stop)
		if !ok {
			break
		}
		l.state.Set(edge == gpioline.EdgeRising)
	}

	log.Debug().Stringer("led", l.id).Msg("finalize receiving events")
}

// State returns the latest observed LED level.
func (l *Led) State() bool { return l.state.Get() }

// Watch returns an independent subscription seeded with the current state.
func (l *Led) Watch() *latest.Subscription[bool] { return l.state.Subscribe() }

// Close stops the edge-watching goroutine and releases the GPIO line.
func (l *Led) Close() error {
	close(l.stop)
	l.state.Close()
	return l.line.Close()
}
