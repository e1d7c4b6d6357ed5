package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML configuration file")
		console    = flag.Bool("console", true, "shut down when a line is entered on stdin")
	)
	flag.Parse()

	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := server.NewLogger(cfg.LogLevel, cfg.LogFormat)

	fmt.Println("Starting room relay...")
	if *console {
		fmt.Println("Press enter to stop the server.")
	}

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start relay", "err", err)
		os.Exit(1)
	}
	logger.Info("relay started", "addr", srv.Addr(), "http_addr", srv.HTTPAddr(), "rooms", cfg.RoomCount)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *console {
		go waitForConsole(logger, stop)
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-srv.Errors():
		logger.Error("relay failed", "err", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		exitCode = 1
	}

	fmt.Println("Good-bye!")
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}

// waitForConsole calls stop when a line is read from stdin. A closed stdin,
// as under a service manager, is ignored.
func waitForConsole(logger *slog.Logger, stop context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		logger.Info("console shutdown requested")
		stop()
	}
}
