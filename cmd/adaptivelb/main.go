// Command adaptivelb runs the reverse proxy and load balancer as a
// standalone process: load the YAML config, bind the listener, and serve
// until SIGINT/SIGTERM.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	adaptivelb "github.com/nullstream/adaptivelb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := adaptivelb.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.String("path", *configPath), zap.Error(err))
		os.Exit(1)
	}

	srv, err := adaptivelb.NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("adaptivelb listening",
		zap.Stringer("addr", srv.Addr()),
		zap.Int("max_threads", cfg.Server.MaxThreads),
		zap.Int("nodes", len(cfg.Nodes)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
		if err := srv.Close(); err != nil {
			logger.Warn("error during shutdown", zap.Error(err))
		}
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", zap.Error(err))
			os.Exit(1)
		}
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
