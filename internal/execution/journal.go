package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chartsignal/internal/notification"
	"chartsignal/internal/strategy"
)

// Journal records trades and notifications to SQLite as a session audit
// trail. The default DSN is an in-memory database.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// an in-memory database lives only as long as its connection
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		strategy_id  TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		instrument   TEXT NOT NULL,
		type         TEXT NOT NULL,
		price        REAL NOT NULL,
		quantity     REAL NOT NULL,
		notional     REAL NOT NULL,
		stop_loss    REAL,
		take_profit  REAL,
		status       TEXT NOT NULL,
		pnl          REAL,
		opened_at    INTEGER NOT NULL,
		closed_at    INTEGER,
		close_price  REAL,
		close_reason TEXT,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);
	CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);

	CREATE TABLE IF NOT EXISTS events (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL,
		instrument   TEXT NOT NULL,
		strategy_id  TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		severity     TEXT NOT NULL,
		message      TEXT NOT NULL,
		created_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dsn)
	return &Journal{db: db}, nil
}

// RecordTrade inserts a trade or updates its status and close fields.
func (j *Journal) RecordTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var closedAt *int64
	var closePrice *float64
	var closeReason *string
	if t.Status != StatusOpen {
		closedAt, closePrice, closeReason = &t.ClosedAt, &t.ClosePrice, &t.CloseReason
	}

	_, err := j.db.Exec(
		`INSERT INTO trades (id, strategy_id, strategy, instrument, type, price, quantity, notional,
		                     stop_loss, take_profit, status, pnl, opened_at, closed_at, close_price, close_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pnl = excluded.pnl,
			closed_at = excluded.closed_at,
			close_price = excluded.close_price,
			close_reason = excluded.close_reason,
			updated_at = CURRENT_TIMESTAMP`,
		t.ID, t.StrategyID, t.Strategy, t.Instrument, string(t.Type), t.Price, t.Quantity, t.Notional,
		t.StopLoss, t.TakeProfit, string(t.Status), t.PnL, t.Time, closedAt, closePrice, closeReason,
	)
	return err
}

// RecordEvent appends a notification.
func (j *Journal) RecordEvent(ev notification.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO events (id, instrument, strategy_id, strategy, severity, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Instrument, ev.StrategyID, ev.Strategy, string(ev.Severity), ev.Message,
		ev.Time.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetTrades returns the last N recorded trades, newest first.
func (j *Journal) GetTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, strategy_id, strategy, instrument, type, price, quantity, notional,
		        stop_loss, take_profit, status, pnl, opened_at,
		        COALESCE(closed_at, 0), COALESCE(close_price, 0), COALESCE(close_reason, '')
		 FROM trades ORDER BY opened_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var typ, status string
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.Strategy, &t.Instrument, &typ, &t.Price,
			&t.Quantity, &t.Notional, &t.StopLoss, &t.TakeProfit, &status, &t.PnL, &t.Time,
			&t.ClosedAt, &t.ClosePrice, &t.CloseReason); err != nil {
			continue
		}
		t.Type = strategy.Action(typ)
		t.Status = Status(status)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountEvents returns the number of recorded notifications per severity.
func (j *Journal) CountEvents() (map[notification.Severity]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT severity, COUNT(*) FROM events GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[notification.Severity]int)
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		out[notification.Severity(sev)] = n
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }
