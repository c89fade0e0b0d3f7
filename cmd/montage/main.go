package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/montagekit/montage/cmd/montage/commands"
	"github.com/montagekit/montage/internal/log"
	loglogrus "github.com/montagekit/montage/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("montage", "Transactional timeline editing engine.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	demoCmd := commands.NewDemoCommand(rootCmd, app)
	benchCmd := commands.NewBenchCommand(rootCmd, app)

	// Media subcommands share a parent command.
	mediaCmd := commands.NewMediaCommand(app)
	mediaAddCmd := commands.NewMediaAddCommand(rootCmd, mediaCmd)
	mediaListCmd := commands.NewMediaListCommand(rootCmd, mediaCmd)
	mediaRmCmd := commands.NewMediaRmCommand(rootCmd, mediaCmd)

	cmds := map[string]commands.Command{
		demoCmd.Name():      demoCmd,
		benchCmd.Name():     benchCmd,
		mediaAddCmd.Name():  mediaAddCmd,
		mediaListCmd.Name(): mediaListCmd,
		mediaRmCmd.Name():   mediaRmCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard output/error.
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Auto-suppress logging for commands that produce structured output (table)
	// to prevent log noise from mixing with printer output in the terminal.
	// Users can still enable logging with --debug.
	printerCommands := map[string]bool{
		"media list": true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(ctx, *rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(ctx context.Context, config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	// If logger not disabled use logrus logger.
	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // By default logger goes to stderr (so it can split stdout prints).
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	// Log format.
	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled") // Will log only when debug enabled.

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
