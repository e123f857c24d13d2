// Package store persists position snapshots to Postgres. The table is
// append-only: one row per evaluation cycle, never updated or deleted.
package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eodbot/internal/broker"
	"eodbot/internal/retry"
)

// PersistenceError wraps a failed snapshot write. Recoverable: the trading
// decision already made stands, the caller only logs it.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist snapshot: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Snapshot is one immutable positions row.
type Snapshot struct {
	Account       string
	ConID         int64
	Symbol        string
	Instrument    string
	SecType       string
	Expiry        string
	Strike        decimal.Decimal
	Multiplier    string
	Currency      string
	Exchange      string
	Size          decimal.Decimal
	AvgCost       decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	RecordedAt    time.Time
}

// FromPosition captures a broker position as a snapshot recorded at t.
func FromPosition(p broker.Position, t time.Time) Snapshot {
	return Snapshot{
		Account:       p.Account,
		ConID:         p.ConID,
		Symbol:        p.Symbol,
		Instrument:    p.Instrument,
		SecType:       p.SecType,
		Expiry:        p.Expiry,
		Strike:        p.Strike,
		Multiplier:    p.Multiplier,
		Currency:      p.Currency,
		Exchange:      p.Exchange,
		Size:          p.Size,
		AvgCost:       p.AvgCost,
		MarketPrice:   p.MarketPrice,
		MarketValue:   p.MarketValue,
		UnrealizedPnL: p.UnrealizedPnL,
		RealizedPnL:   p.RealizedPnL,
		RecordedAt:    t,
	}
}

type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	MinConns int32
	MaxConns int32
}

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open builds the connection pool, retrying with backoff until the database
// answers a ping or ctx is cancelled. The process can therefore shut down
// cleanly before ever getting a database.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.MinConns <= 0 {
		cfg.MinConns = 1
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 5
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Name)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns

	var pool *pgxpool.Pool
	err = retry.Do(ctx, logger, "db_connect", func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("database pool ready",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
		zap.Int32("max_conns", cfg.MaxConns),
	)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const insertSnapshotSQL = `
INSERT INTO positions (
	account, con_id, symbol, instrument, sec_type,
	expiry, strike, multiplier, currency, exchange,
	size, avg_cost, market_price, market_value,
	unrealized_pnl, realized_pnl, recorded_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
	$11, $12, $13, $14, $15, $16, $17
)`

// InsertSnapshot writes exactly one row. The connection is acquired with a
// bounded wait and released on every path.
func (s *Store) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = time.Now().UTC()
	}

	acquireCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("acquire connection: %w", err)}
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, insertSnapshotSQL,
		snap.Account, snap.ConID, snap.Symbol, snap.Instrument, snap.SecType,
		snap.Expiry, snap.Strike.String(), snap.Multiplier, snap.Currency, snap.Exchange,
		snap.Size.String(), snap.AvgCost.String(), snap.MarketPrice.String(), snap.MarketValue.String(),
		snap.UnrealizedPnL.String(), snap.RealizedPnL.String(), snap.RecordedAt,
	)
	if err != nil {
		return &PersistenceError{Err: err}
	}

	s.logger.Debug("snapshot inserted",
		zap.String("symbol", snap.Symbol),
		zap.String("size", snap.Size.String()),
		zap.Time("recorded_at", snap.RecordedAt),
	)
	return nil
}
