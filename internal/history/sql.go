package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schemas = map[string]string{
	DriverSQLite: `
	CREATE TABLE IF NOT EXISTS scan_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		scan_mode TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		total_vulnerabilities INTEGER NOT NULL,
		critical INTEGER NOT NULL,
		high INTEGER NOT NULL,
		medium INTEGER NOT NULL,
		low INTEGER NOT NULL
	);`,
	DriverPostgres: `
	CREATE TABLE IF NOT EXISTS scan_history (
		seq BIGSERIAL PRIMARY KEY,
		scan_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		scan_mode TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		total_vulnerabilities INTEGER NOT NULL,
		critical INTEGER NOT NULL,
		high INTEGER NOT NULL,
		medium INTEGER NOT NULL,
		low INTEGER NOT NULL
	);`,
}

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// sqlStore orders by insertion sequence and trims to capacity after every insert.
type sqlStore struct {
	db       *sqlx.DB
	driver   string
	capacity int
	logger   *logger.Logger
}

func NewSQLStore(ctx context.Context, driver, dsn string, capacity int, log *logger.Logger) (Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("%w: sql driver %q", ErrUnknownBackend, driver)
	}
	if log == nil {
		log = logger.Nop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	log = log.WithComponent("history.sql")

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "history.NewSQLStore",
		"driver", driver,
		"dsn_masked", maskDSN(dsn),
	)
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "history.NewSQLStore", start, err)
	}()

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		log.LogError(ctx, err, "history.Connect", "driver", driver)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// Each sqlite connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.LogDuration(ctx, "history.Migrate", start, "driver", driver)

	return &sqlStore{db: db, driver: driver, capacity: capacity, logger: log}, nil
}

func (s *sqlStore) Add(ctx context.Context, entry types.HistoryEntry) (err error) {
	start := time.Now()
	entry.Timestamp = entry.Timestamp.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO scan_history (scan_id, url, scan_mode, timestamp, total_vulnerabilities, critical, high, medium, low)
		VALUES (:scan_id, :url, :scan_mode, :timestamp, :total_vulnerabilities, :critical, :high, :medium, :low)`,
		entry)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM scan_history
		WHERE seq NOT IN (SELECT seq FROM scan_history ORDER BY seq DESC LIMIT ?)`),
		s.capacity)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history entry: %w", err)
	}

	trimmed, _ := res.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "insert", "scan_history", 1, time.Since(start),
		"scan_id", entry.ID,
		"trimmed", trimmed,
	)
	return nil
}

func (s *sqlStore) List(ctx context.Context) ([]types.HistoryEntry, error) {
	var entries []types.HistoryEntry
	err := s.db.SelectContext(ctx, &entries, s.db.Rebind(`
		SELECT scan_id, url, scan_mode, timestamp, total_vulnerabilities, critical, high, medium, low
		FROM scan_history
		ORDER BY seq DESC
		LIMIT ?`), s.capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	return entries, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// maskDSN hides credentials when a DSN is logged.
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}
