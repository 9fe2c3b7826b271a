package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists vault history to a SQLite database. Amounts are
// stored as decimal strings to keep them exact.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS roll_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			pool_id      TEXT,
			maturity     INTEGER,
			target_rate  TEXT,
			issued       TEXT,
			seed_balance TEXT,
			cash_after   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_roll_ts ON roll_history(timestamp)`,

		`CREATE TABLE IF NOT EXISTS settle_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			maturity   INTEGER,
			reward     TEXT,
			recovered  TEXT,
			cash_after TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settle_ts ON settle_history(timestamp)`,

		`CREATE TABLE IF NOT EXISTS share_flows (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			op          TEXT,
			account     TEXT,
			assets      TEXT,
			shares      TEXT,
			excess_kind TEXT,
			excess      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_share_ts ON share_flows(timestamp)`,

		`CREATE TABLE IF NOT EXISTS cash_flows (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			maturity   INTEGER,
			recovered  TEXT,
			cash_after TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_ts ON cash_flows(timestamp)`,

		`CREATE TABLE IF NOT EXISTS param_changes (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			name      TEXT,
			old_value TEXT,
			new_value TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_param_ts ON param_changes(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRoll(rec *RollRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT INTO roll_history
		(timestamp, pool_id, maturity, target_rate, issued, seed_balance, cash_after)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), rec.PoolID, rec.Maturity,
		rec.TargetRate.String(), rec.Issued.String(),
		rec.SeedBalance.String(), rec.CashAfter.String(),
	)
	return err
}

func (r *SQLiteRecorder) RecordSettle(rec *SettleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT INTO settle_history
		(timestamp, maturity, reward, recovered, cash_after)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), rec.Maturity,
		rec.Reward.String(), rec.Recovered.String(), rec.CashAfter.String(),
	)
	return err
}

func (r *SQLiteRecorder) RecordShareFlow(rec *ShareFlowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT INTO share_flows
		(timestamp, op, account, assets, shares, excess_kind, excess)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), rec.Op, rec.Account,
		rec.Assets.String(), rec.Shares.String(),
		rec.ExcessKind, rec.Excess.String(),
	)
	return err
}

func (r *SQLiteRecorder) RecordCashFlow(rec *CashFlowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT INTO cash_flows
		(timestamp, maturity, recovered, cash_after)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), rec.Maturity,
		rec.Recovered.String(), rec.CashAfter.String(),
	)
	return err
}

func (r *SQLiteRecorder) RecordParamChange(rec *ParamChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT INTO param_changes
		(timestamp, name, old_value, new_value)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), rec.Name, rec.Old, rec.New,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
