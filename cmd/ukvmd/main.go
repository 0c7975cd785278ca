// Command ukvmd is the micro-KVM chassis control daemon: it loads a TOML
// configuration, opens the configured GPIO/HID/video peripherals, and serves
// them over the configured WebSocket and D-Bus binds until signalled to stop
// or reload.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/katyo/ukvm/internal/bindaddr"
	"github.com/katyo/ukvm/internal/supervisor"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

type journalWriter struct{}

func (journalWriter) Write(p []byte) (int, error) {
	if err := journal.Send(string(p), journal.PriInfo, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

func main() {
	var (
		run        bool
		binds      []string
		configPath string
		logFilter  string
		useJournal bool
		showVer    bool
	)

	cmd := &cobra.Command{
		Use:           "ukvmd",
		Short:         "micro-KVM chassis control daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVer {
				fmt.Printf("ukvmd %s\n", version)
				return nil
			}

			setupLogging(logFilter, useJournal)

			parsed := make([]bindaddr.Bind, 0, len(binds))
			for _, uri := range binds {
				b, err := bindaddr.Parse(uri)
				if err != nil {
					return fmt.Errorf("ukvmd: %w", err)
				}
				parsed = append(parsed, b)
			}

			return supervisor.Run(supervisor.Options{
				ConfigPath: configPath,
				ExtraBinds: parsed,
				Run:        run,
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&run, "run", "r", false, "actually run after loading config; if absent, validate config and exit")
	flags.StringArrayVar(&binds, "bind", nil, "additional transport binding (merged with config file's list)")
	flags.StringVarP(&configPath, "config", "c", "/etc/ukvm.toml", "TOML config path")
	flags.StringVarP(&logFilter, "log", "l", "", "log filter expression")
	flags.BoolVarP(&useJournal, "journal", "j", false, "route logs to journald instead of stderr")
	flags.BoolVarP(&showVer, "version", "V", false, "print version and exit")

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("ukvmd: fatal")
		os.Exit(1)
	}
}

// setupLogging wires zerolog to either a console writer or journald, and
// applies filter as the global minimum level. filter is a bare level name
// ("debug", "warn", ...); an unrecognized or empty filter leaves the default
// info level in place.
func setupLogging(filter string, useJournal bool) {
	if useJournal {
		log.Logger = zerolog.New(journalWriter{}).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(filter); err == nil && filter != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}
