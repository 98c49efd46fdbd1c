package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded
// SQLite fork). Current node, variables, and the AI handoff flag are
// stored as JSON columns; the disable window is a plain timestamp so
// the maintenance sweep can filter on it in SQL.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and runs
// pending migrations. The path should be a file URI, e.g.
// "file:/path/to/db.db".
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql: %v", err).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, schema.NewErrorf(schema.ErrCodeStore, "migrate sessions: %v", err).WithCause(err)
	}
	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Get(ctx context.Context, key Key) (*schema.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, flow_id, correspondent, node, variables, disable_until, ai_transfer, created_at, updated_at
		 FROM sessions WHERE tenant_id = ? AND flow_id = ? AND correspondent = ?`,
		key.TenantID, key.FlowID, key.Correspondent,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load session: %v", err).WithCause(err)
	}
	return sess, nil
}

func (s *LibSQLStore) Create(ctx context.Context, sess *schema.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	node, err := nullableJSON(sess.Node)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal session node: %v", err).WithCause(err)
	}
	vars, err := nullableJSON(sess.Variables)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal session variables: %v", err).WithCause(err)
	}
	transfer, err := nullableJSON(sess.AITransfer)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal ai transfer: %v", err).WithCause(err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, flow_id, correspondent, node, variables, disable_until, ai_transfer, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.FlowID, sess.Correspondent,
		node, vars, disableUntil(sess.DisableChat), transfer,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create session: %v", err).WithCause(err)
	}
	return nil
}

// Patch applies a partial update in a transaction so concurrent
// maintenance sweeps cannot interleave with a turn's writes.
func (s *LibSQLStore) Patch(ctx context.Context, key Key, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin patch: %v", err).WithCause(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, tenant_id, flow_id, correspondent, node, variables, disable_until, ai_transfer, created_at, updated_at
		 FROM sessions WHERE tenant_id = ? AND flow_id = ? AND correspondent = ?`,
		key.TenantID, key.FlowID, key.Correspondent,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session not found for %s/%s/%s",
			key.TenantID, key.FlowID, key.Correspondent)
	}
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "load session for patch: %v", err).WithCause(err)
	}

	applyPatch(sess, patch)
	sess.UpdatedAt = time.Now().UTC()

	node, err := nullableJSON(sess.Node)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal session node: %v", err).WithCause(err)
	}
	vars, err := nullableJSON(sess.Variables)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal session variables: %v", err).WithCause(err)
	}
	transfer, err := nullableJSON(sess.AITransfer)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal ai transfer: %v", err).WithCause(err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET node = ?, variables = ?, disable_until = ?, ai_transfer = ?, updated_at = ? WHERE id = ?`,
		node, vars, disableUntil(sess.DisableChat), transfer, sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "patch session: %v", err).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit patch: %v", err).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE tenant_id = ? AND flow_id = ? AND correspondent = ?`,
		key.TenantID, key.FlowID, key.Correspondent,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete session: %v", err).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ListExpiredDisable(ctx context.Context, now time.Time) ([]*schema.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, flow_id, correspondent, node, variables, disable_until, ai_transfer, created_at, updated_at
		 FROM sessions WHERE disable_until IS NOT NULL AND disable_until <= ?`, now.UTC(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list expired disable: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []*schema.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan session: %v", err).WithCause(err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "iterate sessions: %v", err).WithCause(err)
	}
	return out, nil
}

func (s *LibSQLStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "delete stale sessions: %v", err).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*schema.Session, error) {
	sess := &schema.Session{}
	var node, vars, transfer sql.NullString
	var disable sql.NullTime
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.FlowID, &sess.Correspondent,
		&node, &vars, &disable, &transfer, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if node.Valid && node.String != "" {
		var n schema.Node
		if err := json.Unmarshal([]byte(node.String), &n); err == nil {
			sess.Node = &n
		}
	}
	if vars.Valid && vars.String != "" {
		_ = json.Unmarshal([]byte(vars.String), &sess.Variables)
	}
	if disable.Valid {
		sess.DisableChat = &schema.DisableChat{Timestamp: disable.Time}
	}
	if transfer.Valid && transfer.String != "" {
		var t schema.AITransfer
		if err := json.Unmarshal([]byte(transfer.String), &t); err == nil {
			sess.AITransfer = &t
		}
	}
	return sess, nil
}

// applyPatch mutates sess in place with the patch semantics shared by
// all store implementations.
func applyPatch(sess *schema.Session, patch Patch) {
	if patch.Node != nil {
		sess.Node = patch.Node
	}
	if len(patch.Variables) > 0 {
		if sess.Variables == nil {
			sess.Variables = make(map[string]any, len(patch.Variables))
		}
		for k, v := range patch.Variables {
			sess.Variables[k] = v
		}
	}
	if patch.DisableChat != nil {
		sess.DisableChat = *patch.DisableChat
	}
	if patch.AITransfer != nil {
		sess.AITransfer = *patch.AITransfer
	}
}

func disableUntil(d *schema.DisableChat) any {
	if d == nil {
		return nil
	}
	return d.Timestamp.UTC()
}

func nullableJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *schema.Node:
		if t == nil {
			return nil, nil
		}
	case *schema.AITransfer:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
