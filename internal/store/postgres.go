package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store against PostgreSQL via pgx. It is the
// production-grade counterpart to MemoryStore; callers choose between the
// two behind the shared Store interface — nothing downstream branches on
// which one is in use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against connURL and pings it once to fail
// fast on misconfiguration.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema if it doesn't already exist. A dedicated
// migration tool is out of scope for the core; this keeps local/staging
// deploys self-sufficient.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS system_config (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS key_entries (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS monitoring_tasks (
	id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS monitoring_results (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitoring_results_task ON monitoring_results(task_id, timestamp DESC);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	source TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("postgres schema migrated")
	return nil
}

// ── Config Store ─────────────────────────────────────────────

func (s *PostgresStore) GetConfig(ctx context.Context) (*models.SystemConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM system_config WHERE id = 'main'`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	var cfg models.SystemConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) SaveConfig(ctx context.Context, cfg *models.SystemConfig) error {
	cfg.ID = "main"
	cfg.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO system_config (id, data, updated_at) VALUES ('main', $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		raw, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// ── Asset Store ──────────────────────────────────────────────

func (s *PostgresStore) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	return scanJSONRows[models.Asset](rows)
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM assets WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "asset", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	var a models.Asset
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) FindAsset(ctx context.Context, ipOrName string) (*models.Asset, error) {
	assets, err := s.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		if a.IP == ipOrName || strings.EqualFold(a.Name, ipOrName) {
			return &a, nil
		}
	}
	return nil, &ErrNotFound{Entity: "asset", Key: ipOrName}
}

func (s *PostgresStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.Port == 0 {
		asset.Port = 22
	}
	now := time.Now().UTC()
	asset.CreatedAt, asset.UpdatedAt = now, now
	return s.upsertAsset(ctx, asset)
}

func (s *PostgresStore) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	asset.UpdatedAt = time.Now().UTC()
	return s.upsertAsset(ctx, asset)
}

func (s *PostgresStore) upsertAsset(ctx context.Context, asset *models.Asset) error {
	raw, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("encode asset: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO assets (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, asset.ID, raw)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "asset", Key: id}
	}
	return nil
}

// ── Key Store ────────────────────────────────────────────────

func (s *PostgresStore) GetKey(ctx context.Context, id string) (*models.KeyEntry, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM key_entries WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "key", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	var k models.KeyEntry
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return &k, nil
}

func (s *PostgresStore) ListKeys(ctx context.Context) ([]models.KeyEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM key_entries`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	return scanJSONRows[models.KeyEntry](rows)
}

func (s *PostgresStore) CreateKey(ctx context.Context, key *models.KeyEntry) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.CreatedAt = time.Now().UTC()
	raw, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO key_entries (id, data) VALUES ($1, $2)`, key.ID, raw)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKey(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM key_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

// ── Monitoring Task Store ────────────────────────────────────

func (s *PostgresStore) ListTasks(ctx context.Context) ([]models.MonitoringTask, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM monitoring_tasks`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanJSONRows[models.MonitoringTask](rows)
}

func (s *PostgresStore) ListEnabledTasks(ctx context.Context) ([]models.MonitoringTask, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM monitoring_tasks WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("list enabled tasks: %w", err)
	}
	defer rows.Close()
	return scanJSONRows[models.MonitoringTask](rows)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.MonitoringTask, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM monitoring_tasks WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	var t models.MonitoringTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.MonitoringTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.IntervalMinutes < 1 {
		task.IntervalMinutes = 1
	}
	now := time.Now().UTC()
	task.CreatedAt, task.UpdatedAt = now, now
	return s.upsertTask(ctx, task)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.MonitoringTask) error {
	if task.IntervalMinutes < 1 {
		task.IntervalMinutes = 1
	}
	task.UpdatedAt = time.Now().UTC()
	return s.upsertTask(ctx, task)
}

func (s *PostgresStore) upsertTask(ctx context.Context, task *models.MonitoringTask) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO monitoring_tasks (id, enabled, data) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET enabled = EXCLUDED.enabled, data = EXCLUDED.data`,
		task.ID, task.Enabled, raw)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchTaskLastRun(ctx context.Context, id string, at time.Time) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	atCopy := at
	task.LastRun = &atCopy
	return s.UpdateTask(ctx, task)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM monitoring_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "task", Key: id}
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM monitoring_results WHERE task_id = $1`, id)
	return err
}

// ── Monitoring Result Store ──────────────────────────────────

func (s *PostgresStore) CreateResult(ctx context.Context, result *models.MonitoringResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO monitoring_results (id, task_id, timestamp, data) VALUES ($1, $2, $3, $4)`,
		result.ID, result.TaskID, result.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestResult(ctx context.Context, taskID string) (*models.MonitoringResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM monitoring_results WHERE task_id = $1 ORDER BY timestamp DESC LIMIT 1`, taskID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "result", Key: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("latest result: %w", err)
	}
	var r models.MonitoringResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, taskID string, limit int) ([]models.MonitoringResult, error) {
	var rows pgx.Rows
	var err error
	if taskID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT data FROM monitoring_results WHERE task_id = $1 ORDER BY timestamp DESC LIMIT $2`,
			taskID, nullableLimit(limit))
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT data FROM monitoring_results ORDER BY timestamp DESC LIMIT $1`, nullableLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	return scanJSONRows[models.MonitoringResult](rows)
}

// ── Conversation Store ───────────────────────────────────────

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM conversations WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var c models.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	return s.upsertConversation(ctx, conv)
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	return s.upsertConversation(ctx, conv)
}

func (s *PostgresStore) upsertConversation(ctx context.Context, conv *models.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, conv.ID, raw)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// ── Audit Store ──────────────────────────────────────────────

func (s *PostgresStore) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, kind, source, timestamp, data) VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Kind, event.Source, event.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("create audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	query := `SELECT data FROM audit_events WHERE 1=1`
	args := []interface{}{}
	argN := 0
	addArg := func(v interface{}) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}
	if filter.Kind != "" {
		query += " AND kind = " + addArg(filter.Kind)
	}
	if filter.Source != "" {
		query += " AND source = " + addArg(filter.Source)
	}
	if filter.Since != nil {
		query += " AND timestamp >= " + addArg(*filter.Since)
	}
	if filter.Until != nil {
		query += " AND timestamp <= " + addArg(*filter.Until)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + addArg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + addArg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return scanJSONRows[models.AuditEvent](rows)
}

// ── helpers ──────────────────────────────────────────────────

func scanJSONRows[T any](rows pgx.Rows) ([]T, error) {
	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullableLimit(limit int) int64 {
	if limit <= 0 {
		return 1 << 30 // effectively unlimited
	}
	return int64(limit)
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
