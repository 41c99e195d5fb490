// Command chatsrv runs the chat server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zereker/chat"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatsrv",
		Short:         "chatsrv: a chat server over a private binary wire protocol",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cfg := viper.New()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept client connections and deliver queued messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	flags := serveCmd.Flags()
	flags.String("listen", "127.0.0.1:6000", "address to listen on")
	flags.Duration("delivery-interval", 50*time.Millisecond, "pause between delivery-loop passes")
	flags.Duration("write-timeout", 30*time.Second, "per-write socket deadline")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	cfg.SetEnvPrefix("CHATSRV")
	cfg.AutomaticEnv()
	_ = cfg.BindPFlags(flags)

	return serveCmd
}

func serve(ctx context.Context, cfg *viper.Viper) error {
	logger := newLogger(cfg.GetString("log-level"))

	addr, err := net.ResolveTCPAddr("tcp", cfg.GetString("listen"))
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	server, err := chat.New(addr,
		chat.LoggerOption(logger),
		chat.DeliveryIntervalOption(cfg.GetDuration("delivery-interval")),
		chat.WriteTimeoutOption(cfg.GetDuration("write-timeout")),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
