// Command registryd runs the location registry (C3): the single
// logically-owning process that tracks which location processes are
// live and answers CONNECT/GET_LOCATIONS for front-ends and location
// gateways.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshline/fabric/config"
	"github.com/meshline/fabric/locregistry"
)

type flags struct {
	configPath string
	debug      bool
	logFile    string
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	f := &flags{}
	root := &cobra.Command{
		Use:           "registryd",
		Short:         "Run the fabric's location registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	root.Flags().StringVar(&f.configPath, "config", "", "path to the YAML config file (required)")
	root.Flags().BoolVar(&f.debug, "debug", false, "accepted for a uniform CLI; has no effect in this command")
	root.Flags().StringVar(&f.logFile, "log-file", "", "write logs to this file instead of stderr")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func run(ctx context.Context, f *flags) error {
	if err := applyLogFile(f.logFile); err != nil {
		return &configError{err}
	}
	if f.configPath == "" {
		return &configError{fmt.Errorf("--config is required")}
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return &configError{err}
	}

	checkerPeriod, err := time.ParseDuration(cfg.LocationManager.HeartbeatsCheckerPeriod)
	if err != nil {
		return &configError{fmt.Errorf("location_manager.heartbeats_checker_period: %w", err)}
	}
	maxSilence, err := time.ParseDuration(cfg.LocationManager.MaxHeartbeatSilence)
	if err != nil {
		return &configError{fmt.Errorf("location_manager.max_heartbeat_silence: %w", err)}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := locregistry.NewServer(ctx, locregistry.Config{
		RepAddr:                 cfg.LocationManager.RepAddress,
		PullAddr:                cfg.LocationManager.PullAddress,
		PubAddr:                 cfg.LocationManager.PubAddress,
		MaxHeartbeatSilence:     maxSilence,
		HeartbeatsCheckerPeriod: checkerPeriod,
	})
	if err != nil {
		return &startupError{fmt.Errorf("bind registry sockets: %w", err)}
	}
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return &startupError{err}
		}
		return nil
	}
}

func applyLogFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return nil
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }

type startupError struct{ err error }

func (e *startupError) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	switch err.(type) {
	case *configError:
		return 1
	case *startupError:
		return 2
	default:
		return 1
	}
}
