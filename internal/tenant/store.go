package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/confrag/confrag/internal/errors"
)

const (
	configFileName = "config.yaml"
	stateFileName  = "state.json"
	stateLockName  = "state.lock"

	// ExportsDirName is the tenant-relative directory holding exported
	// markdown, one subdirectory per space key.
	ExportsDirName = "exports"

	// IndexDirName is the tenant-relative directory holding the built
	// retrieval index.
	IndexDirName = "index"

	// CacheDirName is the tenant-relative directory for export session
	// history and other regenerable artifacts.
	CacheDirName = "cache"
)

// stateLockTimeout bounds how long a state read-modify-write waits for the
// per-tenant lock before giving up.
const stateLockTimeout = 10 * time.Second

// Store manages per-tenant durable configuration and state under a single
// data directory. Layout: <root>/tenants/<id>/{config.yaml, state.json,
// exports/, index/, cache/}.
//
// Store holds no in-memory copies: every Load re-reads config.yaml and every
// state mutation is a locked read-modify-write of state.json. Different
// tenants never contend.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a store rooted at dataDir. The directory is created on
// first use, not here.
func NewStore(dataDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: dataDir, logger: logger}
}

// Root returns the store's data directory.
func (s *Store) Root() string { return s.root }

// TenantsDir returns the directory holding all tenant subdirectories.
func (s *Store) TenantsDir() string {
	return filepath.Join(s.root, "tenants")
}

// TenantDir returns the directory holding one tenant's durable records.
func (s *Store) TenantDir(tenantID string) string {
	return filepath.Join(s.TenantsDir(), tenantID)
}

// ExportsDir returns the directory exported documents are written to.
func (s *Store) ExportsDir(tenantID string) string {
	return filepath.Join(s.TenantDir(tenantID), ExportsDirName)
}

// IndexDir returns the directory the tenant's retrieval index lives in.
func (s *Store) IndexDir(tenantID string) string {
	return filepath.Join(s.TenantDir(tenantID), IndexDirName)
}

// CacheDir returns the tenant's session-history directory.
func (s *Store) CacheDir(tenantID string) string {
	return filepath.Join(s.TenantDir(tenantID), CacheDirName)
}

func (s *Store) configPath(tenantID string) string {
	return filepath.Join(s.TenantDir(tenantID), configFileName)
}

// StatePath returns the path of the tenant's state record.
func (s *Store) StatePath(tenantID string) string {
	return filepath.Join(s.TenantDir(tenantID), stateFileName)
}

// Exists reports whether the tenant has been onboarded.
func (s *Store) Exists(tenantID string) bool {
	_, err := os.Stat(s.configPath(tenantID))
	return err == nil
}

// Create onboards a tenant from a source configuration file. The source is
// validated, the collection name is derived from the tenant id, and an empty
// state record with readiness never_built is initialized.
func (s *Store) Create(tenantID, sourceConfigPath string) (*Config, error) {
	if err := ValidateID(tenantID); err != nil {
		return nil, errors.InvalidConfig(err.Error(), nil)
	}
	if s.Exists(tenantID) {
		return nil, errors.AlreadyExists(tenantID)
	}

	data, err := os.ReadFile(sourceConfigPath)
	if err != nil {
		return nil, errors.InvalidConfig("cannot read config source", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.InvalidConfig("cannot parse config source", err)
	}

	// The id in the file is advisory; the operation argument wins.
	cfg.ID = tenantID
	if cfg.Name == "" {
		cfg.Name = tenantID
	}
	if cfg.Index.Strategy == "" {
		cfg.Index.Strategy = "simple"
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 1000
	}
	cfg.Index.CollectionName = CollectionName(tenantID)

	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidConfig(err.Error(), nil)
	}

	dir := s.TenantDir(tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to create tenant directory", err)
	}
	for _, sub := range []string{ExportsDirName, IndexDirName, CacheDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.New(errors.ErrCodeStateIO, "failed to create tenant subdirectory", err)
		}
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to marshal tenant config", err)
	}
	if err := atomicWrite(s.configPath(tenantID), out, 0o600); err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to write tenant config", err)
	}

	if err := s.writeState(tenantID, NewState(tenantID)); err != nil {
		return nil, err
	}

	s.logger.Info("tenant created",
		"tenant_id", tenantID,
		"spaces", len(cfg.Spaces),
		"collection", cfg.Index.CollectionName)

	return &cfg, nil
}

// Load reads the tenant's configuration directly from disk. There is no
// cache: an out-of-band edit to config.yaml is visible on the very next call.
func (s *Store) Load(tenantID string) (*Config, error) {
	data, err := os.ReadFile(s.configPath(tenantID))
	if os.IsNotExist(err) {
		return nil, errors.NotFound(tenantID)
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to read tenant config", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.InvalidConfig("cannot parse tenant config", err)
	}
	if cfg.ID == "" {
		cfg.ID = tenantID
	}
	if cfg.Index.CollectionName == "" {
		cfg.Index.CollectionName = CollectionName(tenantID)
	}
	return &cfg, nil
}

// GetState reads the tenant's durable state record. A tenant that exists but
// has no state file yet gets the zero-value never_built state.
func (s *Store) GetState(tenantID string) (*State, error) {
	if !s.Exists(tenantID) {
		return nil, errors.NotFound(tenantID)
	}

	data, err := os.ReadFile(s.StatePath(tenantID))
	if os.IsNotExist(err) {
		return NewState(tenantID), nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to read tenant state", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.New(errors.ErrCodeStateCorrupt, "tenant state file is corrupt", err)
	}
	if st.TenantID == "" {
		st.TenantID = tenantID
	}
	return &st, nil
}

// UpdateExportState merges an export result into the tenant's state record.
// The read-modify-write is serialized per tenant via a file lock; readiness
// is never touched by export updates.
func (s *Store) UpdateExportState(ctx context.Context, tenantID string, result *ExportResult) error {
	return s.mutateState(ctx, tenantID, func(st *State) {
		st.LastExport = result
	})
}

// UpdateIndexState merges an index result into the tenant's state record and
// sets readiness accordingly: ready on success, failed on failure,
// untouched on no_documents.
func (s *Store) UpdateIndexState(ctx context.Context, tenantID string, result *IndexResult) error {
	return s.mutateState(ctx, tenantID, func(st *State) {
		switch result.Status {
		case IndexStatusSuccess:
			st.LastIndex = result
			st.Readiness = ReadinessReady
		case IndexStatusFailed:
			st.LastIndex = result
			st.Readiness = ReadinessFailed
		case IndexStatusNoDocuments:
			// Leave both the last successful index record and readiness
			// alone: a tenant that was ready stays ready.
		}
	})
}

// SetReadiness persists a readiness transition on its own, used to mark a
// tenant building before a long-running index build starts.
func (s *Store) SetReadiness(ctx context.Context, tenantID string, r Readiness) error {
	return s.mutateState(ctx, tenantID, func(st *State) {
		st.Readiness = r
	})
}

// mutateState performs a locked read-modify-write of the tenant's state file.
func (s *Store) mutateState(ctx context.Context, tenantID string, fn func(*State)) error {
	if !s.Exists(tenantID) {
		return errors.NotFound(tenantID)
	}

	lock := flock.New(filepath.Join(s.TenantDir(tenantID), stateLockName))
	lockCtx, cancel := context.WithTimeout(ctx, stateLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return errors.New(errors.ErrCodeStateLock,
			fmt.Sprintf("could not acquire state lock for tenant %q", tenantID), err).
			WithDetail("path", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	st, err := s.GetState(tenantID)
	if err != nil {
		return err
	}

	fn(st)
	st.UpdatedAt = time.Now().UTC()

	return s.writeState(tenantID, st)
}

// writeState persists a state record atomically (temp file + rename).
func (s *Store) writeState(tenantID string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to marshal tenant state", err)
	}
	if err := atomicWrite(s.StatePath(tenantID), data, 0o644); err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to write tenant state", err)
	}
	return nil
}

// List returns all onboarded tenant ids in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.TenantsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to list tenants", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if s.Exists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
