package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/rs/zerolog"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// driverAliases maps friendly names to registered database/sql driver names
var driverAliases = map[string]string{
	"duckdb":     "duckdb",
	"postgres":   "pgx",
	"postgresql": "pgx",
	"pgx":        "pgx",
	"sqlite":     "sqlite3",
	"sqlite3":    "sqlite3",
	"clickhouse": "clickhouse",
}

// SQLSource runs a query and uses its result set as the dataset
type SQLSource struct {
	db     *sql.DB
	driver string
	query  string
	logger zerolog.Logger
}

// NewSQLSource opens a connection pool for driver. The query runs on every Load.
func NewSQLSource(driver, dsn, query string, logger zerolog.Logger) (*SQLSource, error) {
	name, ok := driverAliases[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if query == "" {
		return nil, fmt.Errorf("sql query is required")
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLSource{
		db:     db,
		driver: name,
		query:  query,
		logger: logger,
	}, nil
}

// Load executes the query
func (s *SQLSource) Load(ctx context.Context) (*dataset.Dataset, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.driver, err)
	}
	defer rows.Close()

	ds, err := dataset.FromSQLRows(rows)
	if err != nil {
		return nil, fmt.Errorf("read %s rows: %w", s.driver, err)
	}

	s.logger.Info().
		Str("driver", s.driver).
		Int("rows", ds.Len()).
		Int("columns", len(ds.Columns)).
		Dur("duration", time.Since(start)).
		Msg("Loaded dataset")

	return ds, nil
}

// Describe names the driver. The DSN is omitted.
func (s *SQLSource) Describe() string {
	return "sql:" + s.driver
}

// Close closes the connection pool
func (s *SQLSource) Close() error {
	return s.db.Close()
}
