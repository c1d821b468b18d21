// Command frontend runs one outer (client-facing) server process: it
// accepts client TCP connections, bridges them to the connection
// registry, and joins the cluster's message stream via messagemanager.
// Flags and exit codes match spec.md §6, grounded on the CLI shape of
// arkeep-io-arkeep's cobra-based server command.
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
	_ "github.com/meshline/fabric/broker/plugins/kafkabroker"
	_ "github.com/meshline/fabric/broker/plugins/natsbroker"
	_ "github.com/meshline/fabric/broker/plugins/rabbitbroker"
	"github.com/meshline/fabric/config"
	"github.com/meshline/fabric/connregistry"
	"github.com/meshline/fabric/frontend"
	"github.com/meshline/fabric/messagemanager"
)

type flags struct {
	configPath string
	port       int
	maxConn    int
	debug      bool
	logFile    string
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	f := &flags{}
	root := &cobra.Command{
		Use:           "frontend",
		Short:         "Run the fabric's client-facing front-end server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	root.Flags().StringVar(&f.configPath, "config", "", "path to the YAML config file (required)")
	root.Flags().IntVar(&f.port, "port", 0, "TCP port to listen on (required)")
	root.Flags().IntVar(&f.maxConn, "max-conn", 0, "maximum concurrent client connections (0 = unlimited)")
	root.Flags().BoolVar(&f.debug, "debug", false, "enable verbose logging")
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

	addr := fmt.Sprintf(":%d", f.port)
	if f.port == 0 {
		return &configError{fmt.Errorf("--port is required")}
	}

	b, err := broker.Create(cfg.MessageBroker.Backend, broker.Config{
		Brokers: cfg.MessageBroker.Brokers,
		Group:   cfg.MessageBroker.Group,
	})
	if err != nil {
		return &startupError{err}
	}
	defer b.Close()

	registry := connregistry.New(b)
	srv := frontend.NewServer(frontend.Config{
		Addr:           addr,
		MaxConn:        f.maxConn,
		StartLocations: cfg.User.StartLocations,
	}, registry)
	if f.debug {
		srv.SetMetrics(frontend.LogCollector{})
	}

	mgr, err := messagemanager.New(ctx, messagemanager.Config{
		RegistryRepAddr:           cfg.LocationManager.RepAddress,
		RegistryPubAddr:           cfg.LocationManager.PubAddress,
		ClientLocationHandlerPath: cfg.OuterServer.ClientLocationHandlerPath,
		LocationHandlerPath:       cfg.OuterServer.LocationHandlerPath,
	}, registry, srv.Root(), srv)
	if err != nil {
		return &startupError{fmt.Errorf("connect to location registry: %w", err)}
	}
	defer mgr.Close()
	srv.SetForwarder(mgr)

	errCh := make(chan error, 2)
	go func() { errCh <- mgr.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Println("[frontend] shutting down")
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

// configError/startupError distinguish exit code 1 (configuration
// error) from exit code 2 (startup failure: port in use, registry
// unreachable), per spec.md §6.
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
