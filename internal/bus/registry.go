package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/registry"
)

// SchemaRegistry registers writer schemas and resolves them by id.
type SchemaRegistry interface {
	Register(ctx context.Context, subject string, schema avro.Schema) (int, error)
	Schema(ctx context.Context, id int) (avro.Schema, error)
}

// ConfluentRegistry talks to a Confluent-compatible schema registry.
type ConfluentRegistry struct {
	client *registry.Client
}

// NewConfluentRegistry builds a registry client for baseURL.
func NewConfluentRegistry(baseURL string) (*ConfluentRegistry, error) {
	client, err := registry.NewClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("schema registry client: %w", err)
	}
	return &ConfluentRegistry{client: client}, nil
}

// Register creates or looks up schema under subject.
func (r *ConfluentRegistry) Register(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	id, _, err := r.client.CreateSchema(ctx, subject, schema.String())
	if err != nil {
		return 0, fmt.Errorf("register schema %s: %w", subject, err)
	}
	return id, nil
}

// Schema fetches the schema with the given id.
func (r *ConfluentRegistry) Schema(ctx context.Context, id int) (avro.Schema, error) {
	schema, err := r.client.GetSchema(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schema %d: %w", id, err)
	}
	return schema, nil
}

// MemoryRegistry is an in-process registry for tests and single-process runs.
// Registering an identical schema under a subject returns the existing id.
type MemoryRegistry struct {
	mu       sync.RWMutex
	nextID   int
	schemas  map[int]avro.Schema
	subjects map[string]map[[32]byte]int
}

// NewMemoryRegistry returns an empty registry whose ids start at 1.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		nextID:   1,
		schemas:  make(map[int]avro.Schema),
		subjects: make(map[string]map[[32]byte]int),
	}
}

// Register stores schema under subject.
func (r *MemoryRegistry) Register(_ context.Context, subject string, schema avro.Schema) (int, error) {
	fingerprint := schema.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.subjects[subject]
	if !ok {
		versions = make(map[[32]byte]int)
		r.subjects[subject] = versions
	}
	if id, ok := versions[fingerprint]; ok {
		return id, nil
	}
	id := r.nextID
	r.nextID++
	versions[fingerprint] = id
	r.schemas[id] = schema
	return id, nil
}

// Schema returns the schema with the given id.
func (r *MemoryRegistry) Schema(_ context.Context, id int) (avro.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("schema %d not found", id)
	}
	return schema, nil
}
