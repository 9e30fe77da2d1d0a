// File: cmd/wsechod/main.go
// Command wsechod runs the WebSocket echo server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/momentics/epoll-ws/server"
)

var (
	flagOpsAddr    string
	flagBufferSize int
	flagMaxMessage int
	flagLogLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "wsechod",
		Short:         "Single-threaded epoll WebSocket echo server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve [port]",
		Short: "Listen for WebSocket clients and echo their messages",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagOpsAddr, "ops-addr", "",
		"address for /metrics and /healthz (empty disables)")
	serveCmd.Flags().IntVar(&flagBufferSize, "buffer-size", 0,
		"per-connection receive buffer in bytes (0 uses the default)")
	serveCmd.Flags().IntVar(&flagMaxMessage, "max-message-size", 0,
		"largest assembled message in bytes (0 uses the default)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "info",
		"one of debug, info, warn, error")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wsechod:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger(flagLogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	cfg := server.DefaultConfig()
	if len(args) == 1 {
		cfg.ListenAddr = ":" + args[0]
	}
	cfg.OpsAddr = flagOpsAddr
	if flagBufferSize > 0 {
		cfg.BufferSize = flagBufferSize
	}
	if flagMaxMessage > 0 {
		cfg.MaxMessageSize = flagMaxMessage
	}

	srv, err := server.New(cfg, server.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received")
		srv.Shutdown()
	}()

	return srv.Serve(ctx)
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), nil
}
