package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kay-cwc/dex-market-data-stream/internal/api"
	"github.com/Kay-cwc/dex-market-data-stream/internal/bus"
	"github.com/Kay-cwc/dex-market-data-stream/internal/chain"
	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/dex"
	"github.com/Kay-cwc/dex-market-data-stream/internal/dispatch"
	"github.com/Kay-cwc/dex-market-data-stream/internal/multicall"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
	"github.com/Kay-cwc/dex-market-data-stream/internal/storage/postgres"
	"github.com/Kay-cwc/dex-market-data-stream/internal/subscriber"
)

const metricsShutdownTimeout = 5 * time.Second

func runStream(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStream(cfgFile, cmd.Flags())
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
	pipeline, err := newStreamPipeline(ctx, cfg, schemas, logger, metrics)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	if cfg.MetricsListen != "" {
		router := api.NewRouter(api.Options{
			Metrics: metrics.Handler(),
			Health:  pipeline.Health,
			Logger:  logger,
		})
		server := api.NewServer(cfg.MetricsListen, router)
		g.Go(func() error {
			return listen(gctx, server, metricsShutdownTimeout, logger)
		})
	}

	return g.Wait()
}

// streamPipeline wires chain -> subscriber -> dispatch -> reserve stream -> bus.
type streamPipeline struct {
	logger   *zap.Logger
	client   *chain.Client
	producer *bus.Producer
	stream   *dex.ReserveStream
	sub      *subscriber.Subscriber
	registry *dispatch.Registry
	store    *postgres.Store
}

func newStreamPipeline(ctx context.Context, cfg config.StreamConfig, schemas bus.SchemaRegistry, logger *zap.Logger, metrics *observability.Metrics) (_ *streamPipeline, err error) {
	p := &streamPipeline{logger: logger}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	pairConfigs, err := config.LoadPairConfigs(cfg.PairConfigDir)
	if err != nil {
		return nil, err
	}
	pairs, err := pairConfigs.Pairs(cfg.Chain, cfg.Dex)
	if err != nil {
		return nil, err
	}

	p.client, err = chain.NewClient(ctx, cfg.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	if err := p.client.RequireCode(ctx, multicall.Multicall3Address); err != nil {
		return nil, fmt.Errorf("multicall: %w", err)
	}
	executor, err := multicall.NewExecutor(p.client)
	if err != nil {
		return nil, err
	}
	metas, err := dex.ResolvePairs(ctx, executor, cfg.Dex, pairs)
	if err != nil {
		return nil, fmt.Errorf("resolve pairs: %w", err)
	}
	logger.Info("pairs resolved", zap.String("chain", string(cfg.Chain)), zap.String("dex", string(cfg.Dex)), zap.Int("pairs", len(metas)))

	if cfg.PGDSN != "" {
		p.store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := p.store.Migrate(ctx); err != nil {
			return nil, err
		}
		if err := p.store.UpsertPairs(ctx, cfg.Chain, cfg.Dex, metas); err != nil {
			return nil, err
		}
	}

	codec, err := bus.NewFeedCodec(schemas)
	if err != nil {
		return nil, err
	}
	p.producer, err = bus.NewProducer(bus.NewKafkaWriter(cfg.KafkaBrokers, logger), codec, logger)
	if err != nil {
		return nil, err
	}
	p.stream, err = dex.NewReserveStream(cfg.Chain, cfg.Dex, metas, p.producer, logger, metrics)
	if err != nil {
		return nil, err
	}
	if err := p.producer.Prepare(ctx, p.stream.Topic()); err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}

	p.sub, err = subscriber.New(subscriber.Config{
		URL:                  cfg.RPCWS,
		ConnectTimeout:       cfg.ConnectTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		PingInterval:         cfg.PingInterval,
	}, logger, metrics)
	if err != nil {
		return nil, err
	}
	p.registry, err = dispatch.NewRegistry(p.sub, logger, metrics)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := p.sub.Connect(connectCtx); err != nil {
		return nil, err
	}
	addresses, topics := p.stream.Filter()
	if err := p.registry.Register(connectCtx, addresses, topics, p.stream.Handle); err != nil {
		return nil, err
	}

	logger.Info("stream start",
		zap.String("topic", p.stream.Topic()),
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.Int("addresses", len(addresses)),
		zap.Int("topics", len(topics)),
	)
	return p, nil
}

// Run pumps the subscription until ctx is done or reconnects run out.
func (p *streamPipeline) Run(ctx context.Context) error {
	err := p.sub.Run(ctx)
	if errors.Is(err, subscriber.ErrReconnectExhausted) {
		p.logger.Error("stream stopped", zap.Error(err))
	}
	return err
}

// Health reports an error while the websocket is not connected.
func (p *streamPipeline) Health() error {
	if p.sub == nil {
		return subscriber.ErrNotConnected
	}
	if state := p.sub.State(); state != subscriber.StateConnected {
		return fmt.Errorf("websocket %s", state)
	}
	return nil
}

func (p *streamPipeline) Close() {
	if p.sub != nil {
		if err := p.sub.Close(); err != nil {
			p.logger.Warn("close subscriber", zap.Error(err))
		}
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Warn("close producer", zap.Error(err))
		}
	}
	if p.store != nil {
		p.store.Close()
	}
	if p.client != nil {
		p.client.Close()
	}
}
