// Command relaycored is the embedder binary: it owns process bootstrap,
// the TCP listener, configuration, and logging, and wires them to the
// relay package's protocol core. None of this is part of the core
// itself — see internal/relay for that.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/relaydaemon/relaycore/internal/config"
	"github.com/relaydaemon/relaycore/internal/relay"
	"github.com/relaydaemon/relaycore/internal/relaylog"
	"github.com/relaydaemon/relaycore/internal/transport"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "relaycored",
		Short: "relaycored runs an in-memory relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	logger := relaylog.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.ListenAddr)
	}

	srv := relay.NewServer(cfg.ServerName, logger)
	srv.SetSendLusers(cfg.SendLusers)

	go srv.AcceptLoop(transport.NewTCPListener(ln, cfg.IOWait))

	if cfg.IdleCheckInterval > 0 {
		go runIdleTicker(ctx, srv, cfg.IdleCheckInterval, cfg.IdleDeadAfter)
	}

	logger.Info().Str("addr", cfg.ListenAddr).Str("server_name", cfg.ServerName).Msg("relaycored listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		srv.Shutdown("received shutdown signal")
	}()

	srv.Run()

	logger.Info().Msg("relaycored stopped cleanly")
	return nil
}

// runIdleTicker calls Server.CheckIdle periodically. It is entirely the
// embedder's responsibility: the core engine imposes no timeouts.
//
// TODO: track real per-connection last-activity timestamps once the
// transport package exposes them; this currently only demonstrates the
// wiring and never disconnects anyone.
func runIdleTicker(ctx context.Context, srv *relay.Server, interval, deadAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	activity := make(map[relay.ConnID]time.Time)

	for {
		select {
		case <-ticker.C:
			srv.CheckIdle(deadAfter, activity)
		case <-ctx.Done():
			return
		}
	}
}
