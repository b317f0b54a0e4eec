package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kay-cwc/dex-market-data-stream/internal/api"
	"github.com/Kay-cwc/dex-market-data-stream/internal/bus"
	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/feedstore"
	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
	"github.com/Kay-cwc/dex-market-data-stream/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	schemas, err := newSchemaRegistry(cfg.SchemaRegistry, false, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("")
	pipeline, err := newServePipeline(ctx, cfg, schemas, logger, metrics)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	server := api.NewServer(cfg.Listen, pipeline.Router(metrics, nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		return listen(gctx, server, cfg.ShutdownTimeout, logger)
	})
	return g.Wait()
}

// servePipeline wires bus consumer -> feed store (+ optional postgres mirror).
type servePipeline struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	dex      config.Dex
	topic    string
	store    *feedstore.Store
	consumer *bus.Consumer
	pg       *postgres.Store
}

func newServePipeline(ctx context.Context, cfg config.ServeConfig, schemas bus.SchemaRegistry, logger *zap.Logger, metrics *observability.Metrics) (_ *servePipeline, err error) {
	p := &servePipeline{
		logger:  logger,
		metrics: metrics,
		dex:     cfg.Dex,
		topic:   bus.TopicName(cfg.Chain, cfg.Dex),
		store:   feedstore.New(),
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	if cfg.PGDSN != "" {
		p.pg, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := p.pg.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	codec, err := bus.NewFeedCodec(schemas)
	if err != nil {
		return nil, err
	}
	reader := bus.NewKafkaReader(cfg.KafkaBrokers, p.topic, cfg.GroupID, logger)
	p.consumer, err = bus.NewConsumer(reader, codec, logger, metrics)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	logger.Info("serve start",
		zap.String("topic", p.topic),
		zap.String("group_id", cfg.GroupID),
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("listen", cfg.Listen),
		zap.Bool("pg", p.pg != nil),
	)
	return p, nil
}

// Run consumes until ctx is done or the reader fails.
func (p *servePipeline) Run(ctx context.Context) error {
	return p.consumer.Run(ctx, p.handle)
}

func (p *servePipeline) handle(ctx context.Context, topic string, feed model.Feed) error {
	p.store.Put(feed)
	p.metrics.RecordConsumed(topic, p.store.Len())
	if p.pg != nil {
		if err := p.pg.UpsertFeed(ctx, topic, feed); err != nil {
			return err
		}
	}
	return nil
}

// Router exposes the store under the pipeline's dex.
func (p *servePipeline) Router(metrics *observability.Metrics, health func() error) http.Handler {
	return api.NewRouter(api.Options{
		Feeds:   map[config.Dex]api.Snapshotter{p.dex: p.store},
		Metrics: metrics.Handler(),
		Health:  health,
		Logger:  p.logger,
	})
}

func (p *servePipeline) Close() {
	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			p.logger.Warn("close consumer", zap.Error(err))
		}
	}
	if p.pg != nil {
		p.pg.Close()
	}
}

// listen serves until ctx is done, then shuts the server down within timeout.
func listen(ctx context.Context, server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := closeWithTimeout(timeout, server.Shutdown); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
