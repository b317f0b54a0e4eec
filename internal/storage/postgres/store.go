package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

//go:embed sql/schema.sql
var schemaSQL string

// Store mirrors resolved pairs and the latest consumed feeds into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertPairs inserts or updates pair metadata for one chain and dex.
func (s *Store) UpsertPairs(ctx context.Context, chain config.Chain, dex config.Dex, pairs []model.PairMetadata) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pairs {
		batch.Queue(`
			INSERT INTO pairs (
				chain, dex, pair_address, symbol, token0, token0_decimals, token1, token1_decimals, topics, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (chain, dex, pair_address)
			DO UPDATE SET
				symbol = EXCLUDED.symbol,
				token0 = EXCLUDED.token0,
				token0_decimals = EXCLUDED.token0_decimals,
				token1 = EXCLUDED.token1,
				token1_decimals = EXCLUDED.token1_decimals,
				topics = EXCLUDED.topics,
				updated_at = now()
		`,
			string(chain),
			string(dex),
			p.Address,
			p.Symbol,
			p.Token0.Address,
			p.Token0.Decimals,
			p.Token1.Address,
			p.Token1.Decimals,
			nonNil(p.Topics),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pairs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert pair: %w", err)
		}
	}
	return nil
}

// UpsertFeed replaces the stored feed for (topic, symbol).
func (s *Store) UpsertFeed(ctx context.Context, topic string, feed model.Feed) error {
	if topic == "" {
		return fmt.Errorf("topic required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO latest_feeds (
			topic, symbol, pair_address, token0, token0_decimals, token1, token1_decimals, topics, r0, r1, base_price, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (topic, symbol) DO UPDATE SET
			pair_address = EXCLUDED.pair_address,
			token0 = EXCLUDED.token0,
			token0_decimals = EXCLUDED.token0_decimals,
			token1 = EXCLUDED.token1,
			token1_decimals = EXCLUDED.token1_decimals,
			topics = EXCLUDED.topics,
			r0 = EXCLUDED.r0,
			r1 = EXCLUDED.r1,
			base_price = EXCLUDED.base_price,
			updated_at = now()
	`,
		topic,
		feed.Symbol,
		feed.Address,
		feed.Token0.Address,
		feed.Token0.Decimals,
		feed.Token1.Address,
		feed.Token1.Decimals,
		nonNil(feed.Topics),
		feed.R0,
		feed.R1,
		feed.BasePrice,
	)
	if err != nil {
		return fmt.Errorf("upsert feed %s: %w", feed.Symbol, err)
	}
	return nil
}

// LoadFeeds returns the stored feeds of a topic keyed by symbol.
func (s *Store) LoadFeeds(ctx context.Context, topic string) (map[string]model.Feed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, pair_address, token0, token0_decimals, token1, token1_decimals, topics, r0, r1, base_price
		FROM latest_feeds WHERE topic = $1
	`, topic)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Feed)
	for rows.Next() {
		var (
			f      model.Feed
			d0, d1 int16
		)
		if err := rows.Scan(&f.Symbol, &f.Address, &f.Token0.Address, &d0, &f.Token1.Address, &d1, &f.Topics, &f.R0, &f.R1, &f.BasePrice); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		f.Token0.Decimals = int(d0)
		f.Token1.Decimals = int(d1)
		out[f.Symbol] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return out, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
