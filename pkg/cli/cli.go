package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Slach/calendar-sync/pkg/logging"
	"github.com/Slach/calendar-sync/pkg/pprof"
	"github.com/Slach/calendar-sync/pkg/types"
)

// app holds what the persistent hooks set up for one invocation.
type app struct {
	cli       *types.CLI
	version   string
	logCloser io.Closer
	profiler  *pprof.Profiler
}

// NewRootCommand builds the command tree. The returned func stops profiling
// and closes the log file and must run after Execute.
func NewRootCommand(cli *types.CLI, version string) (*cobra.Command, func()) {
	a := &app{cli: cli, version: version}
	rootCmd := &cobra.Command{
		Use:           "calendar-sync",
		Short:         "Calendar view sync - loads and keeps day buckets of a calendar view in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.start()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cli.ConfigPath, "config", "", "Path to config file (default: ~/.config/calendar-sync/calendar-sync.yaml)")
	rootCmd.PersistentFlags().StringVar(&cli.LogPath, "log", "", "Path to log file, logs go to stderr when empty")
	rootCmd.PersistentFlags().StringVar(&cli.LogLevel, "log-level", "", "Log level (debug, info, warn, error), overrides logging.level")
	rootCmd.PersistentFlags().StringVar(&cli.TimeZone, "timezone", "", "Viewer timezone, overrides calendar.timezone")
	rootCmd.PersistentFlags().BoolVar(&cli.Pprof, "pprof", false, "Write CPU and memory profiles")
	rootCmd.PersistentFlags().StringVar(&cli.PprofPath, "pprof-path", "", "Directory for profiles (default: ~/.calendar-sync)")

	rootCmd.AddCommand(
		newMonthCommand(a),
		newMoreCommand(a),
		newSetCommand(a),
		newFieldOptionsCommand(a),
		newReplayCommand(a),
		newConfigCommand(a),
	)
	return rootCmd, a.stop
}

func (a *app) start() error {
	level := a.cli.LogLevel
	if level == "" {
		level = "info"
	}
	if err := a.initLog(a.cli.LogPath, level); err != nil {
		return err
	}
	if a.cli.Pprof || a.cli.PprofPath != "" {
		p, err := pprof.Start(a.cli.PprofPath)
		if err != nil {
			return errors.Wrap(err, "failed to setup profiling")
		}
		a.profiler = p
	}
	return nil
}

func (a *app) initLog(path, level string) error {
	if path == "" {
		logging.InitConsole(level)
		return nil
	}
	closer, err := logging.InitLogFile(path, level, a.version)
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	a.closeLog()
	a.logCloser = closer
	return nil
}

func (a *app) closeLog() {
	if a.logCloser == nil {
		return
	}
	if err := a.logCloser.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close log file")
	}
	a.logCloser = nil
}

func (a *app) stop() {
	a.profiler.Stop()
	a.profiler = nil
	a.closeLog()
}

// defaultConfigPath is where `config init` writes when --config is not set.
func defaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "calendar-sync", "calendar-sync.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, ".config", "calendar-sync", "calendar-sync.yaml"), nil
}
