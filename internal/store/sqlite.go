package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/memory"
)

// SQLiteStore is a Store and memory.Backend on a single SQLite file.
// WAL mode gives concurrent readers with a single writer, which matches
// the pipeline's sequential-batch write pattern.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at dir/braind.db and runs
// idempotent schema migrations.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dir, "braind.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

var _ Store = (*SQLiteStore)(nil)
var _ memory.Backend = (*SQLiteStore)(nil)

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			id          TEXT PRIMARY KEY,
			cycle_id    TEXT NOT NULL,
			tenant_id   TEXT NOT NULL,
			type        TEXT NOT NULL,
			target      TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL DEFAULT '',
			severity    TEXT NOT NULL DEFAULT '',
			params      TEXT NOT NULL DEFAULT '{}',
			status      TEXT NOT NULL,
			result      TEXT NOT NULL DEFAULT '{}',
			approved_by TEXT NOT NULL DEFAULT '',
			executed_at INTEGER,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_tenant ON actions(tenant_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(tenant_id, status)`,

		`CREATE TABLE IF NOT EXISTS override_decisions (
			id         TEXT PRIMARY KEY,
			action_id  TEXT NOT NULL REFERENCES actions(id),
			decision   TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			emergency  INTEGER NOT NULL DEFAULT 0,
			user_id    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_action ON override_decisions(action_id)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			tags       TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			acl        TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tenant_kind ON memories(tenant_id, kind, created_at)`,

		`CREATE TABLE IF NOT EXISTS settings (
			tenant_id TEXT NOT NULL,
			key       TEXT NOT NULL,
			value     TEXT NOT NULL,
			PRIMARY KEY (tenant_id, key)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close cleanly shuts down the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetSetting returns the value and whether it was present.
func (s *SQLiteStore) GetSetting(ctx context.Context, tenantID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE tenant_id = ? AND key = ?`, tenantID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting: %w", err)
	}
	return v, true, nil
}

// SetSetting creates or replaces the value.
func (s *SQLiteStore) SetSetting(ctx context.Context, tenantID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (tenant_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, key) DO UPDATE SET value = excluded.value`,
		tenantID, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// CreateAction persists a new action record.
func (s *SQLiteStore) CreateAction(ctx context.Context, a *action.Action) error {
	if a.TenantID == "" {
		return action.ErrEmptyTenantID
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	params, err := marshalParams(a.Params)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (id, cycle_id, tenant_id, type, target, reason, severity, params, status, result, approved_by, executed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CycleID, a.TenantID, string(a.Type), a.Target, a.Reason,
		string(a.Severity), params, string(a.Status), string(result), a.ApprovedBy,
		nullTime(a.ExecutedAt), a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// GetAction returns the action by ID.
func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*action.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cycle_id, tenant_id, type, target, reason, severity, params, status, result, approved_by, executed_at, created_at
		 FROM actions WHERE id = ?`, id)

	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, action.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query action: %w", err)
	}
	return a, nil
}

// UpdateAction replaces the stored record for a.ID.
func (s *SQLiteStore) UpdateAction(ctx context.Context, a *action.Action) error {
	result, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, result = ?, approved_by = ?, executed_at = ?, severity = ?, reason = ?
		 WHERE id = ?`,
		string(a.Status), string(result), a.ApprovedBy, nullTime(a.ExecutedAt),
		string(a.Severity), a.Reason, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return action.ErrActionNotFound
	}
	return nil
}

// ListActions returns matching actions, newest first.
func (s *SQLiteStore) ListActions(ctx context.Context, f ActionFilter) ([]*action.Action, error) {
	if f.TenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	where, args := actionWhere(f)
	q := `SELECT id, cycle_id, tenant_id, type, target, reason, severity, params, status, result, approved_by, executed_at, created_at
		 FROM actions ` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			q += " LIMIT -1"
		}
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	out := make([]*action.Action, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountActions counts matching actions.
func (s *SQLiteStore) CountActions(ctx context.Context, f ActionFilter) (int, error) {
	if f.TenantID == "" {
		return 0, action.ErrEmptyTenantID
	}

	where, args := actionWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// CreateDecision appends one decision row.
func (s *SQLiteStore) CreateDecision(ctx context.Context, d *action.OverrideDecision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO override_decisions (id, action_id, decision, reason, emergency, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ActionID, string(d.Decision), d.Reason, boolToInt(d.Emergency),
		d.UserID, d.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns matching decisions, newest first. Tenant scoping
// resolves through the owning action.
func (s *SQLiteStore) ListDecisions(ctx context.Context, f DecisionFilter) ([]*action.OverrideDecision, error) {
	if f.TenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	q := `SELECT d.id, d.action_id, d.decision, d.reason, d.emergency, d.user_id, d.created_at
		 FROM override_decisions d
		 JOIN actions a ON a.id = d.action_id
		 WHERE a.tenant_id = ?`
	args := []any{f.TenantID}

	if len(f.Decisions) > 0 {
		placeholders := make([]string, len(f.Decisions))
		for i, dec := range f.Decisions {
			placeholders[i] = "?"
			args = append(args, string(dec))
		}
		q += " AND d.decision IN (" + strings.Join(placeholders, ", ") + ")"
	}
	q += " ORDER BY d.created_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			q += " LIMIT -1"
		}
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	out := make([]*action.OverrideDecision, 0)
	for rows.Next() {
		var d action.OverrideDecision
		var decision string
		var emergency int
		var created int64
		if err := rows.Scan(&d.ID, &d.ActionID, &decision, &d.Reason, &emergency, &d.UserID, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Decision = action.Decision(decision)
		d.Emergency = emergency != 0
		d.CreatedAt = time.Unix(0, created)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// InsertMemory persists one memory row.
func (s *SQLiteStore) InsertMemory(ctx context.Context, row *memory.Row) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	tags, err := json.Marshal(row.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	acl, err := json.Marshal(row.ACL)
	if err != nil {
		return fmt.Errorf("marshal acl: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, tenant_id, kind, payload, tags, created_at, expires_at, acl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.TenantID, row.Kind, string(payload), string(tags),
		row.CreatedAt.UnixNano(), nullTime(row.ExpiresAt), string(acl),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// ListMemories returns rows for a tenant, optionally by kind, newest first.
func (s *SQLiteStore) ListMemories(ctx context.Context, tenantID, kind string) ([]*memory.Row, error) {
	q := `SELECT id, tenant_id, kind, payload, tags, created_at, expires_at, acl
		 FROM memories WHERE tenant_id = ?`
	args := []any{tenantID}
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind)
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	out := make([]*memory.Row, 0)
	for rows.Next() {
		var r memory.Row
		var payload, tags, acl string
		var created int64
		var expires sql.NullInt64
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Kind, &payload, &tags, &created, &expires, &acl); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		if err := json.Unmarshal([]byte(acl), &r.ACL); err != nil {
			return nil, fmt.Errorf("unmarshal acl: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		if expires.Valid {
			t := time.Unix(0, expires.Int64)
			r.ExpiresAt = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeleteMemories removes rows by ID.
func (s *SQLiteStore) DeleteMemories(ctx context.Context, tenantID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := []any{tenantID}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE tenant_id = ? AND id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// CountMemories counts rows for a tenant, optionally by kind.
func (s *SQLiteStore) CountMemories(ctx context.Context, tenantID, kind string) (int, error) {
	q := `SELECT COUNT(*) FROM memories WHERE tenant_id = ?`
	args := []any{tenantID}
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(row scanner) (*action.Action, error) {
	var a action.Action
	var typ, severity, params, status, result string
	var executed sql.NullInt64
	var created int64

	err := row.Scan(&a.ID, &a.CycleID, &a.TenantID, &typ, &a.Target, &a.Reason,
		&severity, &params, &status, &result, &a.ApprovedBy, &executed, &created)
	if err != nil {
		return nil, err
	}

	a.Type = action.Type(typ)
	a.Severity = action.Severity(severity)
	a.Status = action.Status(status)
	a.CreatedAt = time.Unix(0, created)
	if executed.Valid {
		t := time.Unix(0, executed.Int64)
		a.ExecutedAt = &t
	}
	if err := json.Unmarshal([]byte(params), &a.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &a.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &a, nil
}

func marshalParams(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(b), nil
}

func actionWhere(f ActionFilter) (string, []any) {
	clauses := []string{"tenant_id = ?"}
	args := []any{f.TenantID}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.CycleID != "" {
		clauses = append(clauses, "cycle_id = ?")
		args = append(args, f.CycleID)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(target) LIKE ? OR LOWER(reason) LIKE ?)")
		needle := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, needle, needle)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
