package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/config"
	"github.com/srex-dev/EVY-sub000/pkg/node"
	"github.com/srex-dev/EVY-sub000/pkg/observability"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("evycomm-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	n, err := node.New(cfg)
	if err != nil {
		zap.L().Error("failed to build node", zap.Error(err))
		return 1
	}
	n.OnInbound(func(in node.Inbound) {
		zap.L().Info("inbound payload",
			zap.Stringer("layer", in.Layer),
			zap.String("kind", in.Kind),
			zap.String("source", in.Source),
			zap.Int("bytes", len(in.Payload)))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.Start(ctx)
	zap.L().Info("node is running; press Ctrl+C to exit",
		zap.Stringer("node_id", n.ID()))
	<-ctx.Done()
	n.Close()
	return 0
}
