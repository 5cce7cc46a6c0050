// Command meshd runs a standalone meshnet server.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/config"
	"github.com/luciancaetano/meshnet/internal/logger"
	"github.com/luciancaetano/meshnet/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile string
	addr       string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "Real-time messaging server over WebSocket",
	Long: `meshd accepts WebSocket clients, authenticates them with JWT auth tokens
and relays channel publications between them.

Settings are read from the JSON file given by --config. Flags override the file.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON)")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "Listen address, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

func run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = addr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	l := logger.New(os.Stderr, level)

	serverCfg, err := cfg.ServerConfig(l)
	if err != nil {
		return err
	}
	srv, err := websocket.New(serverCfg)
	if err != nil {
		return err
	}

	if level <= slog.LevelDebug {
		srv.OnAny(func(ev meshnet.Event) {
			attrs := []any{"kind", ev.Kind.String()}
			if ev.Socket != nil {
				attrs = append(attrs, "socket_id", ev.Socket.ID())
			}
			if ev.Err != nil {
				attrs = append(attrs, "error", ev.Err)
			}
			l.Debug("server event", attrs...)
		})
	}
	srv.On(meshnet.EventWarning, func(ev meshnet.Event) {
		l.Warn("server warning", "error", ev.Err)
	})
	srv.On(meshnet.EventConnection, func(ev meshnet.Event) {
		l.Info("socket connected", "socket_id", ev.Socket.ID(), "remote_addr", ev.Socket.RemoteAddr())
	})
	srv.On(meshnet.EventSocketDisconnect, func(ev meshnet.Event) {
		l.Info("socket disconnected", "socket_id", ev.Socket.ID())
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}
	l.Info("meshd listening", "addr", srv.Addr().String(), "path", serverCfg.Path)

	<-ctx.Done()
	l.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(stopCtx)
}
