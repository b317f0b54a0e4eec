package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Kay-cwc/dex-market-data-stream/internal/api"
	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
)

// runAll runs the producer and consumer sides in one process. Both share one
// schema registry, which may be in-process.
func runAll(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	streamCfg, err := config.LoadStream(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := streamCfg.Validate(); err != nil {
		return err
	}
	serveCfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := serveCfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(streamCfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	schemas, err := newSchemaRegistry(streamCfg.SchemaRegistry, true, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("")
	producer, err := newStreamPipeline(ctx, streamCfg, schemas, logger, metrics)
	if err != nil {
		return err
	}
	defer producer.Close()

	consumer, err := newServePipeline(ctx, serveCfg, schemas, logger, metrics)
	if err != nil {
		return err
	}
	defer consumer.Close()

	server := api.NewServer(serveCfg.Listen, consumer.Router(metrics, producer.Health))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return producer.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return listen(gctx, server, serveCfg.ShutdownTimeout, logger)
	})
	return g.Wait()
}
