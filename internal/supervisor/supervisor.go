// Package supervisor runs the outer load/serve/reload loop shared by every
// run of the daemon, mirroring the signal.NotifyContext-driven shutdown in
// server/main.go but extended here to distinguish a reload signal from a
// stop signal.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/bindaddr"
	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/dbustransport"
	"github.com/katyo/ukvm/internal/hub"
	"github.com/katyo/ukvm/internal/shutdown"
	"github.com/katyo/ukvm/internal/wstransport"
)

const product = "ukvm"

// Options carries the daemon's command-line inputs, fixed across reload
// cycles (the config file itself is re-read from disk on every cycle).
type Options struct {
	ConfigPath string
	ExtraBinds []bindaddr.Bind
	Run        bool // false: validate config and exit, matching -r/--run
}

type runner interface {
	Run()
}

// Run loads configuration, brings up a Hub and its transports, and blocks
// until a stop or reload signal arrives. SIGINT/SIGTERM return after
// tearing down; SIGUSR1 tears down and loops back to re-read the config
// file from disk.
func Run(opts Options) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		cfg, err := config.FromFile(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}

		if !opts.Run {
			log.Info().Str("config", opts.ConfigPath).Msg("supervisor: config valid, not starting (pass --run to serve)")
			return nil
		}

		h, err := hub.New(cfg, product)
		if err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}

		gs := shutdown.New()
		binds := append(append([]bindaddr.Bind{}, cfg.Binds...), opts.ExtraBinds...)
		started := 0
		for _, b := range binds {
			if err := spawn(b, h, gs); err != nil {
				log.Error().Err(err).Stringer("bind", b).Msg("supervisor: transport failed to start")
				continue
			}
			started++
			log.Info().Stringer("bind", b).Msg("supervisor: transport listening")
		}
		if started == 0 && len(binds) > 0 {
			log.Warn().Msg("supervisor: every configured transport failed to start")
		}

		sig := <-sigs
		log.Info().Stringer("signal", sig).Msg("supervisor: received signal")

		gs.Shutdown()
		h.Close()

		if sig == syscall.SIGUSR1 {
			log.Info().Msg("supervisor: reloading configuration")
			continue
		}

		return nil
	}
}

func spawn(b bindaddr.Bind, h *hub.Hub, gs *shutdown.GracefulShutdown) error {
	permit := gs.AcquireStopPermit()

	var r runner
	var err error

	switch b.Kind {
	case bindaddr.KindHTTP:
		r, err = wstransport.New(b.HTTP, h.Downgrade(), permit)
	case bindaddr.KindDBus:
		r, err = dbustransport.New(b.DBus, h.Downgrade(), permit)
	default:
		err = fmt.Errorf("unknown bind kind")
	}

	if err != nil {
		permit.Done()
		return err
	}

	go r.Run()
	return nil
}
