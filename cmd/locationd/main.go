// Command locationd runs one location process: it joins the cluster
// via locgateway's CONNECT/heartbeat/DISCONNECT lifecycle and serves
// inbound dispatch against a small demo root, standing in for the
// application-specific "world" handlers a real location process would
// register (spec.md §1 calls those out as example test code, not part
// of the fabric itself).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshline/fabric/config"
	"github.com/meshline/fabric/dispatch"
	"github.com/meshline/fabric/locgateway"
)

type flags struct {
	configPath string
	pubAddr    string
	pullAddr   string
	ident      string
	debug      bool
	logFile    string
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	f := &flags{}
	root := &cobra.Command{
		Use:           "locationd",
		Short:         "Run one fabric location process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	root.Flags().StringVar(&f.configPath, "config", "", "path to the YAML config file (required)")
	root.Flags().StringVar(&f.pubAddr, "pub-address", "", "this location's own PUB bind address (required)")
	root.Flags().StringVar(&f.pullAddr, "pull-address", "", "this location's own PULL bind address (required)")
	root.Flags().StringVar(&f.ident, "ident", "", "this location's identifier (required)")
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
	if f.pubAddr == "" || f.pullAddr == "" || f.ident == "" {
		return &configError{fmt.Errorf("--pub-address, --pull-address and --ident are all required")}
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return &configError{err}
	}

	heartbeatPeriod, err := time.ParseDuration(cfg.Location.HeartbeatPeriod)
	if err != nil {
		return &configError{fmt.Errorf("location.heartbeat_period: %w", err)}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := locgateway.Connect(ctx, locgateway.Config{
		Ident:            f.ident,
		PubAddr:          f.pubAddr,
		PullAddr:         f.pullAddr,
		RegistryRepAddr:  cfg.LocationManager.RepAddress,
		RegistryPullAddr: cfg.LocationManager.PullAddress,
		HeartbeatPeriod:  heartbeatPeriod,
		DisconnectLinger: 2 * time.Second,
	}, newDemoRoot(f.ident))
	if err != nil {
		if errors.Is(err, locgateway.ErrIdentTaken) {
			return &configError{fmt.Errorf("ident %q already registered: %w", f.ident, err)}
		}
		return &startupError{err}
	}
	defer gw.Close()

	log.Printf("[locationd] %q connected, serving", f.ident)
	if err := gw.Run(ctx); err != nil {
		return &startupError{err}
	}
	return nil
}

// demoRoot is a minimal location root: it acknowledges "ping" and
// proxies anything else to a log line, giving locgateway something
// concrete to dispatch onto without pulling in any domain logic.
type demoRoot struct {
	ident string
	node  *dispatch.Node
}

func newDemoRoot(ident string) *demoRoot {
	r := &demoRoot{ident: ident, node: dispatch.NewNode()}
	r.node.Receive("ping", dispatch.AuthorityInternal, r.ping)
	r.node.WithProxy(r)
	return r
}

func (r *demoRoot) Node() *dispatch.Node { return r.node }

func (r *demoRoot) ping(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
	log.Printf("[locationd] %s: ping from uid=%v", r.ident, kwargs["uid"])
	return nil
}

func (r *demoRoot) ProxyMethod(ctx context.Context, rest []string, sign dispatch.Authority, kwargs map[string]any) error {
	log.Printf("[locationd] %s: unhandled verb %v kwargs=%v", r.ident, rest, kwargs)
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
