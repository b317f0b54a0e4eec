package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kay-cwc/dex-market-data-stream/internal/bus"
)

func main() {
	root := &cobra.Command{
		Use:          "marketdata",
		Short:        "DEX pool reserve stream over Kafka",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Subscribe to pool reserve events and publish feeds",
		RunE:  runStream,
	}
	addCommonFlags(streamCmd.Flags())
	addStreamFlags(streamCmd.Flags())
	streamCmd.Flags().String("metrics-listen", "", "address for /metrics and /healthz, empty disables")
	root.AddCommand(streamCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume feeds and serve the latest snapshot",
		RunE:  runServe,
	}
	addCommonFlags(serveCmd.Flags())
	addServeFlags(serveCmd.Flags())
	root.AddCommand(serveCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run stream and serve in one process",
		RunE:  runAll,
	}
	addCommonFlags(runCmd.Flags())
	addStreamFlags(runCmd.Flags())
	addServeFlags(runCmd.Flags())
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("chain", "mainnet", "chain name")
	flags.String("dex", "uniswap-v2", "dex name")
	flags.StringSlice("kafka-brokers", []string{"localhost:9092"}, "kafka brokers (comma-separated)")
	flags.String("schema-registry", "", "schema registry URL")
	flags.String("pg-dsn", "", "optional Postgres DSN")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addStreamFlags(flags *pflag.FlagSet) {
	flags.String("rpc-ws", "", "Ethereum websocket RPC URL")
	flags.String("rpc-http", "", "Ethereum HTTP RPC URL")
	flags.String("pair-config-dir", "./config/pairs", "directory of pair_config_<chain>.json files")
	flags.Duration("connect-timeout", 15*time.Second, "websocket connect and subscribe timeout")
	flags.Duration("reconnect-delay", time.Second, "initial reconnect backoff")
	flags.Duration("max-reconnect-delay", 30*time.Second, "maximum reconnect backoff")
	flags.Int("max-reconnect-attempts", 10, "reconnect attempts before giving up")
	flags.Duration("ping-interval", 30*time.Second, "websocket ping interval, 0 disables")
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.String("group-id", "dex-data-consumer", "kafka consumer group")
	flags.String("listen", ":8080", "HTTP listen address")
	flags.Duration("shutdown-timeout", 10*time.Second, "HTTP graceful shutdown timeout")
}

// newSchemaRegistry returns the Confluent client for url. An empty url falls
// back to an in-process registry when allowMemory is set.
func newSchemaRegistry(url string, allowMemory bool, logger *zap.Logger) (bus.SchemaRegistry, error) {
	if url != "" {
		return bus.NewConfluentRegistry(url)
	}
	if !allowMemory {
		return nil, fmt.Errorf("schema-registry is required")
	}
	logger.Warn("no schema registry configured, using in-process registry")
	return bus.NewMemoryRegistry(), nil
}

func closeWithTimeout(timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
