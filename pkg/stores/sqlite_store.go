package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: is a separate database
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	return dsn
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateExecution records a new execution. Zero StartedAt and Status are
// filled with now and running.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = s.now()
	}
	if exec.Status == "" {
		exec.Status = ExecutionStatusRunning
	}

	query := `
		INSERT INTO executions (
			id, app_id, prompt, generation_type, status, forced_pass,
			fix_retry_count, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.AppID,
		exec.Prompt,
		exec.GenerationType,
		exec.Status,
		exec.ForcedPass,
		exec.FixRetryCount,
		exec.Error,
		exec.StartedAt,
		exec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// FinishExecution stores the final status of an execution.
func (s *SQLiteStore) FinishExecution(ctx context.Context, id string, outcome ExecutionOutcome) error {
	query := `
		UPDATE executions
		SET status = ?, forced_pass = ?, fix_retry_count = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	var errMsg *string
	if outcome.Error != "" {
		errMsg = &outcome.Error
	}

	result, err := s.db.ExecContext(ctx, query,
		outcome.Status, outcome.ForcedPass, outcome.FixRetryCount, errMsg, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}

	return nil
}

const executionColumns = `id, app_id, prompt, generation_type, status, forced_pass,
	fix_retry_count, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	exec := &Execution{}
	err := row.Scan(
		&exec.ID,
		&exec.AppID,
		&exec.Prompt,
		&exec.GenerationType,
		&exec.Status,
		&exec.ForcedPass,
		&exec.FixRetryCount,
		&exec.Error,
		&exec.StartedAt,
		&exec.FinishedAt,
	)
	return exec, err
}

// GetExecution retrieves an execution by ID
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListExecutions lists executions newest first. appID 0 lists all apps.
func (s *SQLiteStore) ListExecutions(ctx context.Context, appID int64, limit, offset int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE (? = 0 OR app_id = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, appID, appID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := []*Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return execs, nil
}

// RecordNodeEvent appends a node transition.
func (s *SQLiteStore) RecordNodeEvent(ctx context.Context, event *NodeEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	query := `
		INSERT INTO node_events (execution_id, node, status, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.ExecutionID,
		event.Node,
		event.Status,
		event.Duration.Milliseconds(),
		event.Error,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record node event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	event.ID = id

	return nil
}

// ListNodeEvents returns the transitions of an execution in order.
func (s *SQLiteStore) ListNodeEvents(ctx context.Context, executionID string) ([]*NodeEvent, error) {
	query := `
		SELECT id, execution_id, node, status, duration_ms, error, created_at
		FROM node_events
		WHERE execution_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node events: %w", err)
	}
	defer rows.Close()

	events := []*NodeEvent{}
	for rows.Next() {
		event := &NodeEvent{}
		var durationMS int64
		err := rows.Scan(
			&event.ID,
			&event.ExecutionID,
			&event.Node,
			&event.Status,
			&durationMS,
			&event.Error,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node event: %w", err)
		}
		event.Duration = time.Duration(durationMS) * time.Millisecond
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node events: %w", err)
	}

	return events, nil
}

// Append records a chat message.
func (s *SQLiteStore) Append(ctx context.Context, appID int64, role, text string) error {
	query := `INSERT INTO chat_history (app_id, role, message, created_at) VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, appID, role, text, s.now()); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// LoadRecent returns the last limit messages of an app, oldest first.
func (s *SQLiteStore) LoadRecent(ctx context.Context, appID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, app_id, role, message, created_at
		FROM chat_history
		WHERE app_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.AppID, &m.Role, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat history: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
