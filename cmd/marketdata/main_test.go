package main

import (
	"testing"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/bus"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	logger, err := newLogger("debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("debug level not enabled")
	}
}

func TestNewSchemaRegistry(t *testing.T) {
	if _, err := newSchemaRegistry("", false, zap.NewNop()); err == nil {
		t.Fatalf("expected error without url")
	}
	reg, err := newSchemaRegistry("", true, zap.NewNop())
	if err != nil {
		t.Fatalf("memory registry: %v", err)
	}
	if _, ok := reg.(*bus.MemoryRegistry); !ok {
		t.Fatalf("expected memory registry, got %T", reg)
	}
	reg, err = newSchemaRegistry("http://localhost:8081", false, zap.NewNop())
	if err != nil {
		t.Fatalf("confluent registry: %v", err)
	}
	if _, ok := reg.(*bus.ConfluentRegistry); !ok {
		t.Fatalf("expected confluent registry, got %T", reg)
	}
}

func TestRunFlagsDoNotCollide(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addCommonFlags(flags)
	addStreamFlags(flags)
	addServeFlags(flags)
	for _, name := range []string{"rpc-ws", "group-id", "listen", "kafka-brokers", "pg-dsn"} {
		if flags.Lookup(name) == nil {
			t.Fatalf("missing flag %s", name)
		}
	}
}
