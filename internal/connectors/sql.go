package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

const sqlQueryTimeout = 30 * time.Second

// SQLConnector runs tenant-configured queries against external
// databases. Connections are opened per query and always closed: query
// steps are occasional and tenants point them at arbitrary servers, so
// no pool is kept.
type SQLConnector struct{}

// NewSQLConnector creates a SQLConnector.
func NewSQLConnector() *SQLConnector {
	return &SQLConnector{}
}

// Query opens a connection described by conn, runs the parameterized
// query, and returns the rows as a list of column-name keyed maps.
func (c *SQLConnector) Query(ctx context.Context, conn schema.SQLConnection, query string, params []any) ([]map[string]any, error) {
	driver, dsn, err := resolveDSN(conn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "failed to open %s connection", driver).WithCause(err)
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(ctx, sqlQueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, query, params...)
	if err != nil {
		code := schema.ErrCodeConnector
		if queryCtx.Err() == context.DeadlineExceeded {
			code = schema.ErrCodeTimeout
		}
		return nil, schema.NewErrorf(code, "query failed: %v", err).WithCause(err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// resolveDSN builds the driver name and DSN. A full URL wins over the
// host/port fields.
func resolveDSN(conn schema.SQLConnection) (driver, dsn string, err error) {
	switch strings.ToLower(conn.Driver) {
	case "postgres", "postgresql", "pgx":
		driver = "pgx"
	case "sqlite", "libsql":
		driver = "libsql"
	default:
		return "", "", schema.NewErrorf(schema.ErrCodeConfig, "unsupported sql driver %q", conn.Driver)
	}

	if conn.URL != "" {
		return driver, conn.URL, nil
	}

	if driver == "libsql" {
		if conn.Database == "" {
			return "", "", schema.NewError(schema.ErrCodeConfig, "libsql connection requires a database path or url")
		}
		return driver, "file:" + conn.Database, nil
	}

	if conn.Host == "" || conn.Database == "" {
		return "", "", schema.NewError(schema.ErrCodeConfig, "postgres connection requires host and database")
	}
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", conn.Host, port),
		Path:   "/" + conn.Database,
	}
	if conn.User != "" {
		u.User = url.UserPassword(conn.User, conn.Password)
	}
	return driver, u.String(), nil
}

// scanRows converts a result set into generic maps, one per row.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "failed to read result columns").WithCause(err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConnector, "failed to scan row").WithCause(err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "row iteration failed").WithCause(err)
	}
	return out, nil
}

// normalizeSQLValue converts driver-specific scan types into plain
// values that survive JSON round-trips into the variable scope.
func normalizeSQLValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
