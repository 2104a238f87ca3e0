package sqlite

import (
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pithecene-io/conduit/log"
)

// PoolConfig holds the parameters for opening the connection pool.
type PoolConfig struct {
	// Path is the filesystem path to the database file, created on first
	// open. ":memory:" gives an in-memory database; pool size must be 1
	// there because each in-memory connection is independent.
	Path string

	// PoolSize is the number of connections. Zero or negative defaults to
	// max(NumCPU, 4). SQLite serializes writes regardless of pool size;
	// extra connections only help concurrent reads.
	PoolSize int

	Logger *log.Logger
}

// openPool creates a sqlitex pool with WAL mode and standard pragmas
// applied to every connection, and the schema ensured once per connection.
func openPool(cfg PoolConfig) (*sqlitex.Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: Path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	cfg.Logger.Info("sqlite pool opened", map[string]any{
		"path":      cfg.Path,
		"pool_size": poolSize,
	})
	return pool, nil
}

// prepareConnection applies pragmas and the schema. Runs once per pooled
// connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		thread_id  TEXT NOT NULL,
		run_id     TEXT NOT NULL,
		status     TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at   INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_thread ON sessions(thread_id);

	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    BLOB NOT NULL,
		ts         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS event_meta (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		type       TEXT NOT NULL,
		ts         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_meta_session ON event_meta(session_id, seq);
`
