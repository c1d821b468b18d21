// Command broker runs the cluster's default message broker backend: a
// bare NATS core server reference is not embedded here (NATS ships its
// own nats-server binary for that); this command instead verifies
// connectivity to an already-running NATS deployment and holds the
// process open, standing in for the original's ZeroMQ zmq.FORWARDER
// device — unneeded here because NATS core itself is the fan-out
// broker rather than a forwarding proxy sitting in front of one
// (SPEC_FULL.md §6).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meshline/fabric/broker"
	_ "github.com/meshline/fabric/broker/plugins/natsbroker"
	"github.com/meshline/fabric/config"
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
		Use:           "broker",
		Short:         "Verify and hold a connection to the fabric's message broker backend",
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

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := broker.Create(cfg.MessageBroker.Backend, broker.Config{
		Brokers: cfg.MessageBroker.Brokers,
		Group:   cfg.MessageBroker.Group,
	})
	if err != nil {
		return &startupError{fmt.Errorf("connect to %s broker: %w", cfg.MessageBroker.Backend, err)}
	}
	defer b.Close()

	log.Printf("[broker] connected to %s backend, holding open", cfg.MessageBroker.Backend)
	<-ctx.Done()
	log.Println("[broker] shutting down")
	return nil
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
