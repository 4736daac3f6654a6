// Package bridge adapts one tenant's isolated configuration into the
// process-wide ambient settings the legacy single-tenant exporter reads.
//
// The installed settings are a single shared resource: at most one bridged
// call may be active at a time across all tenants, in this process (mutex)
// and across processes sharing the data directory (file lock). The prior
// settings are restored on every exit path.
package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/confrag/confrag/internal/errors"
	"github.com/confrag/confrag/internal/tenant"
)

const (
	lockFileName = "bridge.lock"

	// acquireTimeout bounds how long a caller waits for another export to
	// release the bridge before failing with a retryable lock error.
	acquireTimeout = 5 * time.Minute
)

// Settings is the ambient configuration shape the legacy exporter expects:
// one upstream, one credential pair, one output directory. Nothing in it is
// tenant-aware, which is exactly why installation must be exclusive.
type Settings struct {
	BaseURL   string
	Username  string
	APIToken  string
	OutputDir string
}

var (
	mu     sync.Mutex
	active atomic.Pointer[Settings]
)

// Current returns the currently installed ambient settings, or nil when no
// bridged call is active. The read is atomic so goroutines outside WithConfig
// observe either nil or a fully installed value, never a torn pointer.
func Current() *Settings {
	return active.Load()
}

// ResolveSecret resolves a credential value. Values of the form "env:VAR"
// are read from the named environment variable; anything else is returned
// verbatim. A referenced variable that is unset or empty is an error, so a
// misconfigured tenant fails loudly instead of exporting with blank
// credentials.
func ResolveSecret(value string) (string, error) {
	name, ok := strings.CutPrefix(value, "env:")
	if !ok {
		return value, nil
	}
	resolved := os.Getenv(name)
	if resolved == "" {
		return "", errors.New(errors.ErrCodeSecretUnresolved,
			fmt.Sprintf("environment variable %q referenced by config is not set", name), nil)
	}
	return resolved, nil
}

// translate builds the ambient settings for one tenant, resolving any
// environment-referenced secrets at call time.
func translate(cfg *tenant.Config, outputDir string) (*Settings, error) {
	token, err := ResolveSecret(cfg.Confluence.APIToken)
	if err != nil {
		return nil, err
	}
	username, err := ResolveSecret(cfg.Confluence.Username)
	if err != nil {
		return nil, err
	}
	return &Settings{
		BaseURL:   cfg.Confluence.BaseURL,
		Username:  username,
		APIToken:  token,
		OutputDir: outputDir,
	}, nil
}

// WithConfig installs the tenant's translated settings as the active ambient
// configuration, runs fn, and unconditionally restores the prior settings.
//
// Exclusivity is two-level: an in-process mutex serializes goroutines, and a
// file lock under dataDir serializes separate confrag processes sharing the
// same data directory. fn runs with both held.
func WithConfig(ctx context.Context, dataDir string, cfg *tenant.Config, outputDir string, fn func(context.Context, *Settings) error) error {
	settings, err := translate(cfg, outputDir)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to create data directory", err)
	}

	fileLock := flock.New(filepath.Join(dataDir, lockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil || !locked {
		return errors.New(errors.ErrCodeStateLock,
			"another export holds the bridge lock", err).
			WithDetail("path", fileLock.Path())
	}
	defer func() { _ = fileLock.Unlock() }()

	prev := active.Swap(settings)
	defer active.Store(prev)

	return fn(ctx, settings)
}
