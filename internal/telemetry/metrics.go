// Package telemetry records per-tenant query metrics in process memory.
// Nothing is reported externally; the data serves operators inspecting a
// running server.
package telemetry

import (
	"sync"
	"time"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent represents a single retrieval query.
type QueryEvent struct {
	TenantID    string
	Question    string
	ResultCount int
	Failed      bool
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if this query succeeded but returned no documents.
func (e QueryEvent) IsZeroResult() bool {
	return !e.Failed && e.ResultCount == 0
}

// zeroResultCapacity bounds the retained zero-result questions per tenant.
const zeroResultCapacity = 100

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = zeroResultCapacity
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items in FIFO order, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// tenantMetrics accumulates one tenant's counters.
type tenantMetrics struct {
	total       int64
	failed      int64
	zeroResults int64
	latencies   map[LatencyBucket]int64
	zeroQueries *CircularBuffer[string]
	since       time.Time
}

func newTenantMetrics() *tenantMetrics {
	return &tenantMetrics{
		latencies:   make(map[LatencyBucket]int64),
		zeroQueries: NewCircularBuffer[string](zeroResultCapacity),
		since:       time.Now(),
	}
}

// Snapshot is an immutable view of one tenant's query metrics.
type Snapshot struct {
	TenantID            string                  `json:"tenant_id"`
	TotalQueries        int64                   `json:"total_queries"`
	FailedQueries       int64                   `json:"failed_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries,omitempty"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Metrics tracks query metrics for all tenants in one process.
type Metrics struct {
	mu      sync.RWMutex
	tenants map[string]*tenantMetrics
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{tenants: make(map[string]*tenantMetrics)}
}

// Record registers one query event.
func (m *Metrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tm := m.tenants[event.TenantID]
	if tm == nil {
		tm = newTenantMetrics()
		m.tenants[event.TenantID] = tm
	}

	tm.total++
	if event.Failed {
		tm.failed++
	}
	if event.IsZeroResult() {
		tm.zeroResults++
		tm.zeroQueries.Add(event.Question)
	}
	tm.latencies[LatencyToBucket(event.Latency)]++
}

// Snapshot returns the metrics for one tenant. A tenant with no recorded
// queries yields a zero-value snapshot.
func (m *Metrics) Snapshot(tenantID string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		TenantID:            tenantID,
		LatencyDistribution: make(map[LatencyBucket]int64),
	}
	tm := m.tenants[tenantID]
	if tm == nil {
		return snap
	}

	snap.TotalQueries = tm.total
	snap.FailedQueries = tm.failed
	snap.ZeroResultCount = tm.zeroResults
	snap.ZeroResultQueries = tm.zeroQueries.Items()
	snap.Since = tm.since
	for bucket, count := range tm.latencies {
		snap.LatencyDistribution[bucket] = count
	}
	return snap
}

// Tenants returns the ids of all tenants with recorded queries.
func (m *Metrics) Tenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	return ids
}
