package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"orderflow/internal/domain/model"
)

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type PostgresAdapter struct {
	db *sql.DB
}

func NewPostgresAdapter(connStr string, opts PoolOptions) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresAdapter{db: db}, nil
}

func (a *PostgresAdapter) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS footprint_candles (
		symbol      VARCHAR(20) NOT NULL,
		start_time  TIMESTAMPTZ NOT NULL,
		period_ms   BIGINT NOT NULL,
		price_scale DOUBLE PRECISION NOT NULL,
		open        DOUBLE PRECISION NOT NULL,
		high        DOUBLE PRECISION NOT NULL,
		low         DOUBLE PRECISION NOT NULL,
		close       DOUBLE PRECISION NOT NULL,
		volume      DOUBLE PRECISION NOT NULL,
		buy_volume  DOUBLE PRECISION NOT NULL,
		sell_volume DOUBLE PRECISION NOT NULL,
		trade_count BIGINT NOT NULL,
		cvd_open    DOUBLE PRECISION NOT NULL,
		cvd_close   DOUBLE PRECISION NOT NULL,
		cells       JSONB NOT NULL,
		created_at  TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (symbol, period_ms, start_time)
	);
	CREATE TABLE IF NOT EXISTS large_order_alerts (
		id            UUID PRIMARY KEY,
		symbol        VARCHAR(20) NOT NULL,
		time          TIMESTAMPTZ NOT NULL,
		trade_id      BIGINT NOT NULL,
		side          VARCHAR(4) NOT NULL,
		price         DOUBLE PRECISION NOT NULL,
		quantity      DOUBLE PRECISION NOT NULL,
		notional      DOUBLE PRECISION NOT NULL,
		pct_of_daily  DOUBLE PRECISION NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_symbol_time ON large_order_alerts(symbol, time);
	CREATE TABLE IF NOT EXISTS liquidations (
		id        UUID PRIMARY KEY,
		symbol    VARCHAR(20) NOT NULL,
		time      TIMESTAMPTZ NOT NULL,
		side      VARCHAR(4) NOT NULL,
		price     DOUBLE PRECISION NOT NULL,
		quantity  DOUBLE PRECISION NOT NULL,
		notional  DOUBLE PRECISION NOT NULL,
		forced    BOOLEAN NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_liquidations_symbol_time ON liquidations(symbol, time);
	`
	_, err := a.db.ExecContext(ctx, query)
	return err
}

var candleColumns = []string{
	"symbol", "start_time", "period_ms", "price_scale", "open", "high", "low", "close",
	"volume", "buy_volume", "sell_volume", "trade_count", "cvd_open", "cvd_close", "cells",
}

// SaveCandles stores sealed candles. The batch is COPYed into a staging table
// and upserted, so a retried batch does not duplicate rows.
func (a *PostgresAdapter) SaveCandles(ctx context.Context, candles []model.FootprintCandle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE candles_stage (LIKE footprint_candles INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("candles_stage", candleColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, c := range candles {
		cells, err := EncodeCells(c.Cells)
		if err != nil {
			stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			c.Symbol, c.Start.UTC(), c.Period.Milliseconds(), c.PriceScale,
			c.Open, c.High, c.Low, c.Close,
			c.Volume, c.BuyVolume, c.SellVolume, c.TradeCount,
			c.CVDOpen, c.CVDClose, string(cells),
		); err != nil {
			stmt.Close()
			return fmt.Errorf("copy candle %s %s: %w", c.Symbol, c.Start.Format(time.RFC3339), err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	// в одном батче свеча может встретиться дважды, берём последнюю
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO footprint_candles
		SELECT DISTINCT ON (symbol, period_ms, start_time) * FROM candles_stage
		ORDER BY symbol, period_ms, start_time, trade_count DESC
		ON CONFLICT (symbol, period_ms, start_time) DO UPDATE SET
			price_scale = EXCLUDED.price_scale,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			buy_volume = EXCLUDED.buy_volume,
			sell_volume = EXCLUDED.sell_volume,
			trade_count = EXCLUDED.trade_count,
			cvd_open = EXCLUDED.cvd_open,
			cvd_close = EXCLUDED.cvd_close,
			cells = EXCLUDED.cells`); err != nil {
		return fmt.Errorf("upsert candles: %w", err)
	}

	return tx.Commit()
}

func (a *PostgresAdapter) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return a.inTx(ctx, `
		INSERT INTO large_order_alerts (id, symbol, time, trade_id, side, price, quantity, notional, pct_of_daily)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		func(ctx context.Context, stmt *sql.Stmt) error {
			for _, al := range alerts {
				if _, err := stmt.ExecContext(ctx, al.ID, al.Symbol, al.Time.UTC(), al.TradeID, al.Side.String(),
					al.Price, al.Quantity, al.Notional, al.PercentageOfDaily); err != nil {
					return fmt.Errorf("insert alert %s: %w", al.ID, err)
				}
			}
			return nil
		})
}

func (a *PostgresAdapter) SaveLiquidations(ctx context.Context, events []model.LiquidationEvent) error {
	if len(events) == 0 {
		return nil
	}
	return a.inTx(ctx, `
		INSERT INTO liquidations (id, symbol, time, side, price, quantity, notional, forced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		func(ctx context.Context, stmt *sql.Stmt) error {
			for _, ev := range events {
				if _, err := stmt.ExecContext(ctx, ev.ID, ev.Symbol, ev.Time.UTC(), ev.Side.String(),
					ev.Price, ev.Quantity, ev.Notional, ev.Forced); err != nil {
					return fmt.Errorf("insert liquidation %s: %w", ev.ID, err)
				}
			}
			return nil
		})
}

// LoadCandles returns the stored candles of symbol starting at or after since,
// oldest first.
func (a *PostgresAdapter) LoadCandles(ctx context.Context, symbol string, since time.Time) ([]model.FootprintCandle, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT symbol, start_time, period_ms, price_scale, open, high, low, close,
		       volume, buy_volume, sell_volume, trade_count, cvd_open, cvd_close, cells
		FROM footprint_candles
		WHERE symbol = $1 AND start_time >= $2
		ORDER BY start_time`, symbol, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.FootprintCandle
	for rows.Next() {
		var (
			c        model.FootprintCandle
			periodMs int64
			cells    []byte
		)
		if err := rows.Scan(&c.Symbol, &c.Start, &periodMs, &c.PriceScale, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.BuyVolume, &c.SellVolume, &c.TradeCount, &c.CVDOpen, &c.CVDClose, &cells); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Start = c.Start.UTC()
		c.Period = time.Duration(periodMs) * time.Millisecond
		if c.Cells, err = DecodeCells(cells); err != nil {
			return nil, err
		}
		c.Sealed = true
		out = append(out, c)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}

func (a *PostgresAdapter) inTx(ctx context.Context, query string, fn func(ctx context.Context, stmt *sql.Stmt) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	if err := fn(ctx, stmt); err != nil {
		return err
	}
	return tx.Commit()
}

// EncodeCells serializes footprint cells keyed by bucket index.
func EncodeCells(cells map[int64]model.PriceLevelVolume) ([]byte, error) {
	if cells == nil {
		cells = map[int64]model.PriceLevelVolume{}
	}
	b, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("encode cells: %w", err)
	}
	return b, nil
}

func DecodeCells(b []byte) (map[int64]model.PriceLevelVolume, error) {
	cells := make(map[int64]model.PriceLevelVolume)
	if len(b) == 0 {
		return cells, nil
	}
	if err := json.Unmarshal(b, &cells); err != nil {
		return nil, fmt.Errorf("decode cells: %w", err)
	}
	return cells, nil
}
