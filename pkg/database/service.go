// Package database provisions and queries the per-application Postgres
// schema that generated apps read and write through.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codemother/codemother/pkg/policy"
)

// ErrDisabled is returned by DisabledService.
var ErrDisabled = errors.New("database support is disabled")

// Service is the schema service used by the database nodes.
type Service interface {
	// GetSchema describes the tables of the app's schema.
	GetSchema(ctx context.Context, appID int64) (string, error)

	// ExecuteSQL runs sql inside the app's schema and returns a textual result.
	ExecuteSQL(ctx context.Context, appID int64, sql string) (string, error)
}

// SQLGuard vets a statement before it runs. policy.Engine implements it.
type SQLGuard interface {
	CheckSQL(ctx context.Context, in policy.Input) error
}

// SchemaName returns the Postgres schema of an app.
func SchemaName(appID int64) string {
	return fmt.Sprintf("app_%d", appID)
}

// Column describes one column of the app schema.
type Column struct {
	Table      string         `json:"table_name"`
	Name       string         `json:"column_name"`
	DataType   string         `json:"data_type"`
	Nullable   bool           `json:"is_nullable"`
	Default    sql.NullString `json:"column_default"`
	PrimaryKey bool           `json:"is_primary_key"`
}

// FormatSchema renders columns grouped by table, tables sorted by name.
func FormatSchema(cols []Column) string {
	if len(cols) == 0 {
		return "no tables"
	}
	byTable := map[string][]Column{}
	var tables []string
	for _, c := range cols {
		if _, ok := byTable[c.Table]; !ok {
			tables = append(tables, c.Table)
		}
		byTable[c.Table] = append(byTable[c.Table], c)
	}
	sort.Strings(tables)

	blocks := make([]string, 0, len(tables))
	for _, t := range tables {
		var sb strings.Builder
		sb.WriteString("Table " + t + ":")
		for _, c := range byTable[t] {
			sb.WriteString("\n  - " + c.Name + ": " + c.DataType)
			if !c.Nullable {
				sb.WriteString(" NOT NULL")
			}
			if c.PrimaryKey {
				sb.WriteString(" PRIMARY KEY")
			}
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

const schemaQuery = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    c.is_nullable = 'YES' AS is_nullable,
    c.column_default,
    pk.column_name IS NOT NULL AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.column_name, kcu.table_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
        AND tc.table_schema = kcu.table_schema
    WHERE tc.constraint_type = 'PRIMARY KEY'
    AND tc.table_schema = $1
) pk ON c.column_name = pk.column_name AND c.table_name = pk.table_name
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position`

// PostgresSchemaService implements Service on one Postgres database, one
// schema per app.
type PostgresSchemaService struct {
	db      *sql.DB
	guard   SQLGuard
	timeout time.Duration
	logger  zerolog.Logger
}

// Open connects to dsn with the pgx driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresSchemaService wraps db. guard may be nil.
func NewPostgresSchemaService(db *sql.DB, guard SQLGuard) *PostgresSchemaService {
	return &PostgresSchemaService{
		db:      db,
		guard:   guard,
		timeout: 30 * time.Second,
		logger:  log.With().Str("component", "database").Logger(),
	}
}

// EnsureSchema creates the app schema if needed.
func (s *PostgresSchemaService) EnsureSchema(ctx context.Context, appID int64) error {
	ident := pgx.Identifier{SchemaName(appID)}.Sanitize()
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return fmt.Errorf("create schema %s: %w", ident, err)
	}
	return nil
}

// Columns returns the columns of the app schema.
func (s *PostgresSchemaService) Columns(ctx context.Context, appID int64) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, schemaQuery, SchemaName(appID))
	if err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Table, &c.Name, &c.DataType, &c.Nullable, &c.Default, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// GetSchema implements Service.
func (s *PostgresSchemaService) GetSchema(ctx context.Context, appID int64) (string, error) {
	cols, err := s.Columns(ctx, appID)
	if err != nil {
		return "", err
	}
	return FormatSchema(cols), nil
}

// ExecuteSQL implements Service. The statement runs in a transaction whose
// search_path is the app schema, so unqualified names resolve there.
// Queries return their rows as a JSON array; other statements report the
// number of affected rows.
func (s *PostgresSchemaService) ExecuteSQL(ctx context.Context, appID int64, sqlText string) (string, error) {
	if strings.TrimSpace(sqlText) == "" {
		return "", fmt.Errorf("empty statement")
	}
	st := Classify(sqlText)
	logger := s.logger.With().Int64("app_id", appID).Str("category", st.Category).Str("verb", st.Verb).Logger()

	if s.guard != nil {
		err := s.guard.CheckSQL(ctx, policy.Input{
			AppID:    appID,
			SQL:      sqlText,
			Category: st.Category,
			Verb:     st.Verb,
			Tables:   st.Tables,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("statement rejected")
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ident := pgx.Identifier{SchemaName(appID)}.Sanitize()
	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+ident); err != nil {
		return "", fmt.Errorf("set search_path: %w", err)
	}

	var result string
	if st.Category == CategoryDQL {
		result, err = queryJSON(ctx, tx, sqlText)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, sqlText)
		if err == nil {
			n, _ := res.RowsAffected()
			result = fmt.Sprintf("%d rows affected", n)
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("statement failed")
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	logger.Debug().Str("result", result).Msg("statement executed")
	return result, nil
}

func queryJSON(ctx context.Context, tx *sql.Tx, query string) (string, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	out := []map[string]interface{}{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DisabledService is used when no database is configured.
type DisabledService struct{}

func (DisabledService) GetSchema(context.Context, int64) (string, error) {
	return "", ErrDisabled
}

func (DisabledService) ExecuteSQL(context.Context, int64, string) (string, error) {
	return "", ErrDisabled
}
