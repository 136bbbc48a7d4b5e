// Command echo-server serves an "echo" method over MessagePack-RPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"msgpack-rpc/config"
	"msgpack-rpc/logging"
	"msgpack-rpc/middleware"
	"msgpack-rpc/server"
	"msgpack-rpc/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		host       = flag.String("host", "", "override transport.host")
		port       = flag.Int("port", -1, "override transport.port")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *host != "" {
		cfg.Transport.Host = *host
	}
	if *port >= 0 {
		cfg.Transport.Port = *port
	}
	if *verbose {
		cfg.Logging.Level = logging.LevelTrace
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv := server.NewServer(
		server.WithLogger(logger),
		server.WithWorkerCount(cfg.Server.NumThreads),
		server.WithTransportOptions(
			transport.WithHeartbeat(cfg.Transport.HeartbeatInterval()),
			transport.WithMaxFrameBytes(cfg.Transport.MaxFrameBytes),
			transport.WithLogger(logger),
		),
	)
	if err := useMiddlewares(srv, cfg.Server, logger); err != nil {
		return err
	}
	if err := srv.Registry().RegisterTyped("echo", func(s string) string { return s }); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(cfg.Transport.Address()) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := srv.Shutdown(5 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return <-served
}

func useMiddlewares(srv *server.Server, cfg config.ServerConfig, logger *zap.Logger) error {
	srv.Use(middleware.Tracing(otel.GetTracerProvider()))
	metrics, err := middleware.Metrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	srv.Use(metrics)
	srv.Use(middleware.Logging(logger))
	if cfg.RateLimit.Rate > 0 {
		srv.Use(middleware.RateLimit(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}
	if d := cfg.HandlerTimeout(); d > 0 {
		srv.Use(middleware.Timeout(d))
	}
	return nil
}
