package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embedded-tasks/echoserver"
)

func main() {
	server := echoserver.New("127.0.0.1:12345",
		echoserver.PoolSizeOption(16),
		echoserver.IOTimeoutOption(30*time.Second),
	)

	handle, err := server.Start()
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down server...")
	handle.Stop()
	if err := handle.Wait(); err != nil {
		slog.Error("server error", "error", err)
	}
}
