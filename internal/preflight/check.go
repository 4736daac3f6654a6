// Package preflight validates the environment before confrag operations:
// data directory health, disk space, embedding provider availability, and
// tenant configuration integrity.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/confrag/confrag/internal/config"
	"github.com/confrag/confrag/internal/tenant"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation checks.
type Checker struct {
	cfg *config.Config
}

// New creates a Checker for the given app configuration.
func New(cfg *config.Config) *Checker {
	return &Checker{cfg: cfg}
}

// RunAll runs every check and returns the results in a stable order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckDataDir(),
		c.CheckDiskSpace(),
		c.CheckEmbedder(ctx),
	}
	results = append(results, c.CheckTenantConfigs()...)
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus reduces results to "ready", "ready_with_warnings", or "failed".
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckDataDir checks that the data directory exists (or can be created) and
// is writable.
func (c *Checker) CheckDataDir() CheckResult {
	result := CheckResult{
		Name:     "data_dir",
		Required: true,
	}

	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.cfg.DataDir, err)
		return result
	}

	testFile := filepath.Join(c.cfg.DataDir, ".confrag-preflight")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("not writable: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = c.cfg.DataDir
	return result
}

// CheckTenantConfigs loads every onboarded tenant's configuration and reports
// one result per broken tenant. A healthy roster yields a single pass result.
func (c *Checker) CheckTenantConfigs() []CheckResult {
	store := tenant.NewStore(c.cfg.DataDir, nil)

	ids, err := store.List()
	if err != nil {
		return []CheckResult{{
			Name:     "tenant_configs",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("cannot list tenants: %v", err),
			Required: false,
		}}
	}

	var broken []CheckResult
	for _, id := range ids {
		if _, err := store.Load(id); err != nil {
			broken = append(broken, CheckResult{
				Name:     "tenant_config:" + id,
				Status:   StatusFail,
				Message:  err.Error(),
				Required: false,
			})
		}
	}
	if len(broken) > 0 {
		return broken
	}

	return []CheckResult{{
		Name:     "tenant_configs",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%d tenant(s) OK", len(ids)),
		Required: false,
	}}
}
