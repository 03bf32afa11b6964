// Command orchestratord runs the WebSocket protocol v2 orchestrator
// daemon: connection router, rpc method catalog, and health monitor
// wired together behind a single listener. Cross-node federation
// (internal/federation) is a separate collaborator a cluster-aware
// build wires into the router; this single-node entrypoint runs
// without it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relayhub/orchestratord/internal/auth"
	"github.com/relayhub/orchestratord/internal/codec"
	"github.com/relayhub/orchestratord/internal/config"
	"github.com/relayhub/orchestratord/internal/domain"
	"github.com/relayhub/orchestratord/internal/health"
	"github.com/relayhub/orchestratord/internal/ratelimit"
	"github.com/relayhub/orchestratord/internal/registry"
	"github.com/relayhub/orchestratord/internal/router"
	"github.com/relayhub/orchestratord/internal/rpc"
	"github.com/relayhub/orchestratord/internal/subscription"
	"github.com/relayhub/orchestratord/internal/trace"
	"github.com/relayhub/orchestratord/internal/transport"
)

// version is stamped at build time via -ldflags; left as a plain
// default here since this module carries no release tooling.
var version = "dev"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "WebSocket protocol v2 orchestrator daemon",
	}
	root.AddCommand(newServeCmd(log), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestratord version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newServeCmd(log zerolog.Logger) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "address to listen on")
	return cmd
}

func serve(ctx context.Context, addr string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(config.Default())
	cfg := watcher.Current()

	store := domain.NewStore()
	c := codec.New(cfg.Codec)
	authn := auth.New(cfg.Auth)
	limiter := ratelimit.New(cfg.RateLimit)
	traceCfg := trace.DefaultConfig()
	traceCfg.SpanTTL = cfg.TraceSpanTTL
	tracer := trace.New(traceCfg)
	hub := router.NewHub(c)
	subs := subscription.New(hub)

	monitor := health.NewMonitor(cfg.Health, &noopProber{}, log.With().Str("component", "health").Logger())
	monitor.SetSessionSource(&sessionSource{store: store})

	reg := registry.New()
	catalog := &rpc.Catalog{
		Store:        store,
		Authn:        authn,
		Subscription: subs,
		Registry:     reg,
		Health:       &healthSource{monitor: monitor},
	}
	if err := catalog.RegisterAll(reg); err != nil {
		return err
	}
	handler := rpc.New(reg)

	rtr := router.New(c, authn, limiter, handler, subs, tracer, hub, log.With().Str("component", "router").Logger())
	wsServer := transport.NewServer(rtr, log.With().Str("component", "transport").Logger())

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("orchestratord: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	go func() {
		if err := monitor.Run(monitorCtx); err != nil && err != context.Canceled {
			log.Warn().Err(err).Msg("orchestratord: health monitor stopped")
		}
	}()

	// Whatever watches the config source outside the core calls
	// watcher.Set; this loop is the one standing subscriber that logs
	// each reload until a real component (limiter, authn) grows a
	// reconfigure hook.
	reloadCh := make(chan config.Config, 1)
	watcher.Subscribe(reloadCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloadCh:
				log.Info().Float64("rateLimitMaxTokens", next.RateLimit.MaxTokens).Msg("orchestratord: configuration reloaded")
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("orchestratord: shutting down")
	case err := <-errCh:
		cancelMonitor()
		return err
	}

	cancelMonitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthSource adapts *health.Monitor to rpc.HealthSource.
type healthSource struct {
	monitor *health.Monitor
}

func (h *healthSource) Ping() string { return "pong" }

func (h *healthSource) Status() any {
	return map[string]any{"uptime": time.Since(startedAt).String()}
}

var startedAt = time.Now()

// sessionSource adapts *domain.Store into health.SessionSource. The
// single-node entrypoint has no peer registry to pick a real migration
// target from, so a dead node's sessions are orphaned (NodeID cleared)
// rather than left pointing at a node the health monitor just declared
// dead; a cluster-aware build supplies a sessionSource with a real
// PickTarget.
type sessionSource struct {
	store *domain.Store
}

func (s *sessionSource) SessionsOnNode(nodeID string) []string {
	sessions := s.store.SessionsOnNode(nodeID)
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	return ids
}

func (s *sessionSource) PickTarget(nodeID, sessionID string) string {
	s.store.MigrateSession(sessionID, "")
	return ""
}

// noopProber is the default Prober until a real peer-transport prober is
// wired in; every probe reports success so a freshly started daemon
// with no configured peers never spuriously opens a failover plan.
type noopProber struct{}

func (noopProber) Probe(ctx context.Context, nodeID string, kind health.ProbeKind) error {
	return nil
}
