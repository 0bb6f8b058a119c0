package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

// Schema is the DDL applied by Migrate. Candles are keyed on
// (token, timeframe, timestamp) so re-ingesting a backfill upserts.
const Schema = `
CREATE TABLE IF NOT EXISTS candles (
	token     BIGINT           NOT NULL,
	timeframe TEXT             NOT NULL,
	timestamp TIMESTAMPTZ      NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (token, timeframe, timestamp)
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id    TEXT             PRIMARY KEY,
	trade_date  DATE             NOT NULL,
	side        TEXT             NOT NULL,
	symbol      TEXT             NOT NULL,
	entry_time  TIMESTAMPTZ      NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_time   TIMESTAMPTZ      NOT NULL,
	exit_price  DOUBLE PRECISION NOT NULL,
	exit_reason TEXT             NOT NULL,
	quantity    INTEGER          NOT NULL,
	pnl         DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          BIGSERIAL   PRIMARY KEY,
	time        TIMESTAMPTZ NOT NULL,
	type        TEXT        NOT NULL,
	description TEXT        NOT NULL,
	data        JSONB
);

CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (type, time);
`

// PostgresStore persists session data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection with the given DSN and verifies it.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the schema.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// withTransaction runs fn inside a transaction, rolling back on error.
func (p *PostgresStore) withTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

func (p *PostgresStore) SaveCandle(ctx context.Context, c candle.Candle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid candle for token %d %s at %s: %w", c.Token, c.Timeframe, c.Timestamp, err)
	}
	return p.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO candles (token, timeframe, timestamp, open, high, low, close)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (token, timeframe, timestamp) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low, close=EXCLUDED.close`,
			c.Token, c.Timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close)
		if err != nil {
			return fmt.Errorf("failed to save candle for token %d %s at %s: %w", c.Token, c.Timeframe, c.Timestamp, err)
		}
		return nil
	})
}

func (p *PostgresStore) SaveCandles(ctx context.Context, cs []candle.Candle) error {
	if len(cs) == 0 {
		return nil
	}
	for i, c := range cs {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d (token %d %s at %s): %w", i, c.Token, c.Timeframe, c.Timestamp, err)
		}
	}
	return p.withTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (token, timeframe, timestamp, open, high, low, close)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (token, timeframe, timestamp) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low, close=EXCLUDED.close`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range cs {
			if _, err := stmt.ExecContext(ctx, c.Token, c.Timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close); err != nil {
				return fmt.Errorf("failed to save candle at index %d (token %d %s at %s): %w", i, c.Token, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (p *PostgresStore) SaveTrade(ctx context.Context, tr strategy.TradeRecord) error {
	return p.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (trade_id, trade_date, side, symbol, entry_time, entry_price,
				exit_time, exit_price, exit_reason, quantity, pnl)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (trade_id) DO NOTHING`,
			tr.ID, tr.Date, tr.Side, tr.Symbol, tr.EntryTime, tr.EntryPrice,
			tr.ExitTime, tr.ExitPrice, tr.ExitReason, tr.Quantity, tr.PnL)
		if err != nil {
			return fmt.Errorf("failed to save trade %s: %w", tr.ID, err)
		}
		return nil
	})
}

func (p *PostgresStore) LogEvent(ctx context.Context, e Event) error {
	return p.withTransaction(ctx, func(tx *sql.Tx) error {
		data, _ := json.Marshal(e.Data)
		_, err := tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			e.Time, e.Type, e.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) GetTrades(ctx context.Context, from, to time.Time) ([]strategy.TradeRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT trade_id, trade_date, side, symbol, entry_time, entry_price,
			exit_time, exit_price, exit_reason, quantity, pnl
		FROM trades
		WHERE entry_time >= $1 AND entry_time < $2
		ORDER BY entry_time ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []strategy.TradeRecord
	for rows.Next() {
		var tr strategy.TradeRecord
		var tradeDate time.Time
		var side, reason string
		if err := rows.Scan(&tr.ID, &tradeDate, &side, &tr.Symbol, &tr.EntryTime, &tr.EntryPrice,
			&tr.ExitTime, &tr.ExitPrice, &reason, &tr.Quantity, &tr.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		tr.Date = tradeDate.Format("2006-01-02")
		tr.Side = strategy.Side(side)
		tr.ExitReason = strategy.ExitReason(reason)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
