// Package store provides the storage interface and implementations for the
// control plane: an in-memory store (default, zero configuration) and a
// PostgreSQL-backed store for production deployments.
package store

import (
	"context"
	"time"

	"github.com/hostwarden/control-plane/pkg/models"
)

// Store is the primary storage interface for the control plane. All
// components depend on this interface, making it easy to swap between
// in-memory (tests, local dev) and PostgreSQL (production) implementations.
type Store interface {
	ConfigStore
	AssetStore
	KeyStore
	MonitoringTaskStore
	MonitoringResultStore
	ConversationStore
	AuditStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations (no-op for the in-memory store).
	Migrate(ctx context.Context) error
}

// ── Config Store (C1) ────────────────────────────────────────

// ConfigStore is a read-through accessor for the single persisted system
// configuration record. Writes are whole-record replacements.
type ConfigStore interface {
	GetConfig(ctx context.Context) (*models.SystemConfig, error)
	SaveConfig(ctx context.Context, cfg *models.SystemConfig) error
}

// ── Asset Store ──────────────────────────────────────────────

type AssetStore interface {
	ListAssets(ctx context.Context) ([]models.Asset, error)
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	// FindAsset resolves a target by IP or name, as C3 executors require.
	FindAsset(ctx context.Context, ipOrName string) (*models.Asset, error)
	CreateAsset(ctx context.Context, asset *models.Asset) error
	UpdateAsset(ctx context.Context, asset *models.Asset) error
	DeleteAsset(ctx context.Context, id string) error
}

// ── Key Store ────────────────────────────────────────────────

type KeyStore interface {
	GetKey(ctx context.Context, id string) (*models.KeyEntry, error)
	ListKeys(ctx context.Context) ([]models.KeyEntry, error)
	CreateKey(ctx context.Context, key *models.KeyEntry) error
	DeleteKey(ctx context.Context, id string) error
}

// ── Monitoring Task Store ────────────────────────────────────

type MonitoringTaskStore interface {
	ListTasks(ctx context.Context) ([]models.MonitoringTask, error)
	// ListEnabledTasks returns only enabled=true tasks, as the Scheduler needs.
	ListEnabledTasks(ctx context.Context) ([]models.MonitoringTask, error)
	GetTask(ctx context.Context, id string) (*models.MonitoringTask, error)
	CreateTask(ctx context.Context, task *models.MonitoringTask) error
	UpdateTask(ctx context.Context, task *models.MonitoringTask) error
	// TouchTaskLastRun sets a task's last_run to at.
	TouchTaskLastRun(ctx context.Context, id string, at time.Time) error
	DeleteTask(ctx context.Context, id string) error
}

// ── Monitoring Result Store ──────────────────────────────────

type MonitoringResultStore interface {
	CreateResult(ctx context.Context, result *models.MonitoringResult) error
	// LatestResult returns the newest result for a task, which defines its
	// currently displayed status.
	LatestResult(ctx context.Context, taskID string) (*models.MonitoringResult, error)
	ListResults(ctx context.Context, taskID string, limit int) ([]models.MonitoringResult, error)
}

// ── Conversation Store ───────────────────────────────────────

type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
}

// ── Audit Store ──────────────────────────────────────────────

// AuditFilter filters AuditEvent queries.
type AuditFilter struct {
	Kind   string
	Source string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

type AuditStore interface {
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConfigNotFound is returned by GetConfig before the system has been
// onboarded (no row saved yet).
var ErrConfigNotFound = &ErrNotFound{Entity: "config", Key: "main"}
