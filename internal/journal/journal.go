package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openbell/openbell/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    trading_day     TEXT    NOT NULL,
    underlying      TEXT    NOT NULL,
    option_symbol   TEXT    NOT NULL,
    strike          REAL    NOT NULL,
    sentiment_ratio REAL    NOT NULL,
    change_percent  REAL    NOT NULL,
    spot_price      REAL    NOT NULL,
    generated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    position_id  TEXT PRIMARY KEY,
    trading_day  TEXT    NOT NULL,
    symbol       TEXT    NOT NULL,
    quantity     INTEGER NOT NULL,
    entry_price  REAL    NOT NULL,
    entry_time   DATETIME NOT NULL,
    exit_price   REAL,
    exit_time    DATETIME,
    exit_reason  TEXT,
    state        TEXT    NOT NULL,
    pnl          REAL    NOT NULL DEFAULT 0,
    pnl_percent  REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_signals_day ON signals(trading_day);
CREATE INDEX IF NOT EXISTS idx_trades_day  ON trades(trading_day);
`

// Journal is the durable record of every signal and trade, one row per
// event. SQLite without CGo keeps the binary self-contained.
type Journal struct {
	db *sql.DB
}

func Open(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", dsn, err)
	}
	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// RecordSignal appends the day's accepted signal.
func (j *Journal) RecordSignal(ctx context.Context, day string, sig domain.TradeSignal) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO signals
			(trading_day, underlying, option_symbol, strike, sentiment_ratio,
			 change_percent, spot_price, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		day, sig.Underlying, sig.OptionSymbol, sig.Strike, sig.SentimentRatio,
		sig.RankScore, sig.SpotPrice, sig.GeneratedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal: record signal: %w", err)
	}
	return nil
}

// UpsertTrade writes the position's current state. Called on fill and again
// on every terminal transition, so a crash between the two still leaves the
// entry on disk.
func (j *Journal) UpsertTrade(ctx context.Context, day string, pos *domain.Position) error {
	var exitPrice sql.NullFloat64
	var exitTime sql.NullTime
	var exitReason sql.NullString
	if pos.State.Terminal() {
		exitPrice = sql.NullFloat64{Float64: pos.ExitPrice, Valid: true}
		exitTime = sql.NullTime{Time: pos.ExitTime.UTC(), Valid: true}
		exitReason = sql.NullString{String: string(pos.ExitReason), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades
			(position_id, trading_day, symbol, quantity, entry_price, entry_time,
			 exit_price, exit_time, exit_reason, state, pnl, pnl_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			exit_price  = excluded.exit_price,
			exit_time   = excluded.exit_time,
			exit_reason = excluded.exit_reason,
			state       = excluded.state,
			pnl         = excluded.pnl,
			pnl_percent = excluded.pnl_percent`,
		pos.ID, day, pos.Signal.OptionSymbol, pos.Quantity, pos.EntryPrice,
		pos.EntryTime.UTC(), exitPrice, exitTime, exitReason, string(pos.State),
		pos.RealizedPnL(), pos.RealizedPnLPercent(),
	)
	if err != nil {
		return fmt.Errorf("journal: upsert trade: %w", err)
	}
	return nil
}

// TradeRow is one journaled trade.
type TradeRow struct {
	PositionID string
	Symbol     string
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	ExitReason string
	State      string
	PnL        float64
	PnLPercent float64
	EntryTime  time.Time
}

// DaySummary aggregates one trading day.
type DaySummary struct {
	Day       string
	Signals   int
	Trades    []TradeRow
	TotalPnL  float64
	WinCount  int
	LossCount int
}

// Summarize reads the day back for the end-of-day report.
func (j *Journal) Summarize(ctx context.Context, day string) (DaySummary, error) {
	sum := DaySummary{Day: day}

	if err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE trading_day = ?`, day,
	).Scan(&sum.Signals); err != nil {
		return sum, fmt.Errorf("journal: count signals: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT position_id, symbol, quantity, entry_price,
		       COALESCE(exit_price, 0), COALESCE(exit_reason, ''),
		       state, pnl, pnl_percent, entry_time
		FROM trades WHERE trading_day = ? ORDER BY entry_time`, day)
	if err != nil {
		return sum, fmt.Errorf("journal: query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r TradeRow
		if err := rows.Scan(&r.PositionID, &r.Symbol, &r.Quantity, &r.EntryPrice,
			&r.ExitPrice, &r.ExitReason, &r.State, &r.PnL, &r.PnLPercent,
			&r.EntryTime); err != nil {
			return sum, fmt.Errorf("journal: scan trade: %w", err)
		}
		sum.Trades = append(sum.Trades, r)
		sum.TotalPnL += r.PnL
		if r.PnL > 0 {
			sum.WinCount++
		} else if r.PnL < 0 {
			sum.LossCount++
		}
	}
	return sum, rows.Err()
}
