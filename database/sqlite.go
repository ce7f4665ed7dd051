package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gridwatt/smart-meter-server/models"
)

// SQLiteStore is the persistent Store implementation. SQLite's own locking
// plus a single-writer connection pool gives the per-client linearizability
// the interface asks for.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dataSourceName string) (*SQLiteStore, error) {
	// Query parameters for better concurrency handling
	db, err := sql.Open("sqlite3", dataSourceName+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing connection, used by tests.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			reading REAL NOT NULL,
			reading_time DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			actual_usage REAL NOT NULL,
			standing_charge REAL NOT NULL,
			total REAL NOT NULL,
			units_start REAL NOT NULL,
			units_end REAL NOT NULL,
			price_per_unit REAL NOT NULL,
			daily_standing_charge REAL NOT NULL,
			period_start DATE NOT NULL,
			period_end DATE NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_readings_client ON readings(client_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_bills_client ON bills(client_id, id)`,
	}

	for i, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) exists(clientID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM clients WHERE id = ?`, clientID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddClient(clientID string, client models.Client) error {
	ok, err := s.exists(clientID)
	if err != nil {
		return err
	}
	if ok {
		return ErrDataConflict
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO clients (id, token_hash) VALUES (?, ?)`, clientID, client.TokenHash); err != nil {
		return err
	}
	for _, r := range client.Readings {
		if _, err := tx.Exec(`INSERT INTO readings (client_id, reading, reading_time) VALUES (?, ?, ?)`,
			clientID, r.Reading, r.Time); err != nil {
			return err
		}
	}
	for _, b := range client.Bills {
		if err := insertBill(tx, clientID, b); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertBill(e execer, clientID string, b models.Bill) error {
	_, err := e.Exec(`
		INSERT INTO bills (client_id, actual_usage, standing_charge, total,
			units_start, units_end, price_per_unit, daily_standing_charge,
			period_start, period_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		clientID, b.ActualUsage, b.StandingCharge, b.Total,
		b.UnitsStart, b.UnitsEnd, b.PricePerUnit, b.DailyStandingCharge,
		b.BillingPeriod.Start.Format("2006-01-02"), b.BillingPeriod.End.Format("2006-01-02"))
	return err
}

func (s *SQLiteStore) RemoveClient(clientID string) error {
	res, err := s.db.Exec(`DELETE FROM clients WHERE id = ?`, clientID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (s *SQLiteStore) AddReading(clientID string, reading models.Reading) error {
	ok, err := s.exists(clientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClientNotFound
	}
	_, err = s.db.Exec(`INSERT INTO readings (client_id, reading, reading_time) VALUES (?, ?, ?)`,
		clientID, reading.Reading, reading.Time)
	return err
}

func (s *SQLiteStore) AddBill(clientID string, bill models.Bill) error {
	ok, err := s.exists(clientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClientNotFound
	}
	return insertBill(s.db, clientID, bill)
}

func (s *SQLiteStore) UpdateLastBill(clientID string, bill models.Bill) error {
	ok, err := s.exists(clientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClientNotFound
	}

	res, err := s.db.Exec(`
		UPDATE bills SET actual_usage = ?, standing_charge = ?, total = ?,
			units_start = ?, units_end = ?, price_per_unit = ?, daily_standing_charge = ?,
			period_start = ?, period_end = ?
		WHERE id = (SELECT MAX(id) FROM bills WHERE client_id = ?)`,
		bill.ActualUsage, bill.StandingCharge, bill.Total,
		bill.UnitsStart, bill.UnitsEnd, bill.PricePerUnit, bill.DailyStandingCharge,
		bill.BillingPeriod.Start.Format("2006-01-02"), bill.BillingPeriod.End.Format("2006-01-02"),
		clientID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (s *SQLiteStore) LastBill(clientID string) (*models.Bill, error) {
	ok, err := s.exists(clientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClientNotFound
	}

	var b models.Bill
	var periodStart, periodEnd string
	err = s.db.QueryRow(`
		SELECT actual_usage, standing_charge, total, units_start, units_end,
			price_per_unit, daily_standing_charge, period_start, period_end
		FROM bills WHERE client_id = ? ORDER BY id DESC LIMIT 1`, clientID).
		Scan(&b.ActualUsage, &b.StandingCharge, &b.Total, &b.UnitsStart, &b.UnitsEnd,
			&b.PricePerUnit, &b.DailyStandingCharge, &periodStart, &periodEnd)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if b.BillingPeriod.Start, err = time.ParseInLocation("2006-01-02", periodStart, time.UTC); err != nil {
		return nil, err
	}
	if b.BillingPeriod.End, err = time.ParseInLocation("2006-01-02", periodEnd, time.UTC); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) LastReading(clientID string) (*models.Reading, error) {
	ok, err := s.exists(clientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClientNotFound
	}

	var r models.Reading
	err = s.db.QueryRow(`
		SELECT reading, reading_time
		FROM readings WHERE client_id = ? ORDER BY id DESC LIMIT 1`, clientID).
		Scan(&r.Reading, &r.Time)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ClientExists(clientID string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT token_hash FROM clients WHERE id = ?`, clientID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}
