// Package store — in-memory Store implementation.
// Used as the default store (local dev, tests, single-operator deployments).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Config        *models.SystemConfig             `json:"config"`
	Assets        map[string]*models.Asset         `json:"assets"`
	Keys          map[string]*models.KeyEntry       `json:"keys"`
	Tasks         map[string]*models.MonitoringTask `json:"tasks"`
	Results       []*models.MonitoringResult        `json:"results"`
	Conversations map[string]*models.Conversation   `json:"conversations"`
	AuditEvents   []*models.AuditEvent              `json:"audit_events"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	config        *models.SystemConfig
	assets        map[string]*models.Asset         // key: id
	keys          map[string]*models.KeyEntry       // key: id
	tasks         map[string]*models.MonitoringTask // key: id
	results       []*models.MonitoringResult        // append-only
	conversations map[string]*models.Conversation   // key: id
	auditEvents   []*models.AuditEvent              // append-only

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store.
// If HOSTWARDEN_DATA_DIR is set, data is persisted to a JSON file in that
// directory. Otherwise defaults to ~/.hostwarden/data.json.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		assets:        make(map[string]*models.Asset),
		keys:          make(map[string]*models.KeyEntry),
		tasks:         make(map[string]*models.MonitoringTask),
		results:       make([]*models.MonitoringResult, 0),
		conversations: make(map[string]*models.Conversation),
		auditEvents:   make([]*models.AuditEvent, 0),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	dataDir := os.Getenv("HOSTWARDEN_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".hostwarden")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("memory store configured")
	return m
}

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Config:        m.config,
		Assets:        m.assets,
		Keys:          m.keys,
		Tasks:         m.tasks,
		Results:       m.results,
		Conversations: m.conversations,
		AuditEvents:   m.auditEvents,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("no snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Config != nil {
		m.config = snap.Config
	}
	if snap.Assets != nil {
		m.assets = snap.Assets
	}
	if snap.Keys != nil {
		m.keys = snap.Keys
	}
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Results != nil {
		m.results = snap.Results
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.AuditEvents != nil {
		m.auditEvents = snap.AuditEvents
	}

	log.Info().
		Int("assets", len(m.assets)).
		Int("tasks", len(m.tasks)).
		Int("results", len(m.results)).
		Str("path", m.snapshotPath).
		Msg("snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("flushing final snapshot before shutdown")
		m.saveSnapshot()
	}

	log.Info().Msg("memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Config Store ─────────────────────────────────────────────

func (m *MemoryStore) GetConfig(_ context.Context) (*models.SystemConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, ErrConfigNotFound
	}
	cp := *m.config
	return &cp, nil
}

func (m *MemoryStore) SaveConfig(_ context.Context, cfg *models.SystemConfig) error {
	m.mu.Lock()
	cp := *cfg
	cp.ID = "main"
	cp.UpdatedAt = time.Now().UTC()
	m.config = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Asset Store ──────────────────────────────────────────────

func (m *MemoryStore) ListAssets(_ context.Context) ([]models.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, *a)
	}
	return out, nil
}

func (m *MemoryStore) GetAsset(_ context.Context, id string) (*models.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "asset", Key: id}
	}
	cp := *a
	return &cp, nil
}

// FindAsset resolves a target by exact IP match or case-insensitive name.
func (m *MemoryStore) FindAsset(_ context.Context, ipOrName string) (*models.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assets {
		if a.IP == ipOrName || strings.EqualFold(a.Name, ipOrName) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "asset", Key: ipOrName}
}

func (m *MemoryStore) CreateAsset(_ context.Context, asset *models.Asset) error {
	m.mu.Lock()
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.Port == 0 {
		asset.Port = 22
	}
	now := time.Now().UTC()
	asset.CreatedAt, asset.UpdatedAt = now, now
	cp := *asset
	m.assets[asset.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAsset(_ context.Context, asset *models.Asset) error {
	m.mu.Lock()
	if _, ok := m.assets[asset.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "asset", Key: asset.ID}
	}
	asset.UpdatedAt = time.Now().UTC()
	cp := *asset
	m.assets[asset.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAsset(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.assets[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "asset", Key: id}
	}
	delete(m.assets, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Key Store ────────────────────────────────────────────────

func (m *MemoryStore) GetKey(_ context.Context, id string) (*models.KeyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "key", Key: id}
	}
	cp := *k
	return &cp, nil
}

func (m *MemoryStore) ListKeys(_ context.Context) ([]models.KeyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.KeyEntry, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (m *MemoryStore) CreateKey(_ context.Context, key *models.KeyEntry) error {
	m.mu.Lock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.CreatedAt = time.Now().UTC()
	cp := *key
	m.keys[key.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteKey(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.keys, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Monitoring Task Store ────────────────────────────────────

func (m *MemoryStore) ListTasks(_ context.Context) ([]models.MonitoringTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MonitoringTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func (m *MemoryStore) ListEnabledTasks(_ context.Context) ([]models.MonitoringTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MonitoringTask
	for _, t := range m.tasks {
		if t.Enabled {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*models.MonitoringTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.MonitoringTask) error {
	m.mu.Lock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.IntervalMinutes < 1 {
		task.IntervalMinutes = 1
	}
	now := time.Now().UTC()
	task.CreatedAt, task.UpdatedAt = now, now
	cp := *task
	m.tasks[task.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *models.MonitoringTask) error {
	m.mu.Lock()
	if _, ok := m.tasks[task.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "task", Key: task.ID}
	}
	if task.IntervalMinutes < 1 {
		task.IntervalMinutes = 1
	}
	task.UpdatedAt = time.Now().UTC()
	cp := *task
	m.tasks[task.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) TouchTaskLastRun(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "task", Key: id}
	}
	atCopy := at
	t.LastRun = &atCopy
	t.UpdatedAt = at
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.tasks[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "task", Key: id}
	}
	delete(m.tasks, id)
	// cascade: drop results belonging to the deleted task
	kept := m.results[:0]
	for _, r := range m.results {
		if r.TaskID != id {
			kept = append(kept, r)
		}
	}
	m.results = kept
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Monitoring Result Store ──────────────────────────────────

func (m *MemoryStore) CreateResult(_ context.Context, result *models.MonitoringResult) error {
	m.mu.Lock()
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	cp := *result
	m.results = append(m.results, &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) LatestResult(_ context.Context, taskID string) (*models.MonitoringResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.MonitoringResult
	for _, r := range m.results {
		if r.TaskID != taskID {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	if latest == nil {
		return nil, &ErrNotFound{Entity: "result", Key: taskID}
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListResults(_ context.Context, taskID string, limit int) ([]models.MonitoringResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MonitoringResult
	for i := len(m.results) - 1; i >= 0; i-- { // newest first
		r := m.results[i]
		if taskID != "" && r.TaskID != taskID {
			continue
		}
		out = append(out, *r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ── Conversation Store ───────────────────────────────────────

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	if _, ok := m.conversations[conv.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: conv.ID}
	}
	conv.UpdatedAt = time.Now().UTC()
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.conversations, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Audit Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	m.auditEvents = append(m.auditEvents, &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditEvent
	for i := len(m.auditEvents) - 1; i >= 0; i-- { // newest first
		e := m.auditEvents[i]
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.Timestamp.After(*filter.Until) {
			continue
		}
		if filter.Offset > 0 {
			filter.Offset--
			continue
		}
		out = append(out, *e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
