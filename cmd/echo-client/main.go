// Command echo-client calls "echo" on an echo-server and logs the reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"msgpack-rpc/client"
	"msgpack-rpc/config"
	"msgpack-rpc/logging"
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
		data       = flag.String("d", "abc", "data to send")
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

	ctx := context.Background()
	c, err := client.Dial(ctx, cfg.Transport.Address(),
		client.WithLogger(logger),
		client.WithSyncRequestTimeout(cfg.Client.SyncRequestTimeout()),
		client.WithTransportOptions(
			transport.WithHeartbeat(cfg.Transport.HeartbeatInterval()),
			transport.WithMaxFrameBytes(cfg.Transport.MaxFrameBytes),
			transport.WithLogger(logger),
		),
	)
	if err != nil {
		return err
	}
	defer c.Stop()

	echo := client.NewMethodClient[string](c, "echo")
	logger.Info("send", zap.String("data", *data))
	reply, err := echo.Request(ctx, *data)
	if err != nil {
		return err
	}
	logger.Info("received", zap.String("data", reply))
	return nil
}
