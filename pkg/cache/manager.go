// The single-tier manager applies category policy against one physical tier: key namespacing,
// lazy TTL expiry on read, LRU bookkeeping, capacity eviction, and write-failure recovery. Every
// method fails open; a broken tier degrades to "always miss", it never surfaces an error that
// could block the caller's primary computation.

package cache

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/oakmist/strata/pkg/category"
	"github.com/oakmist/strata/pkg/entry"
	"github.com/oakmist/strata/pkg/telemetry"
	"github.com/oakmist/strata/pkg/tier"
	"github.com/oakmist/strata/pkg/utils"
)

const (
	// capacityEvictionFraction is the share of MaxItems evicted in one batch once a category
	// reaches capacity. Evicting a batch instead of a single entry keeps the expensive ListKeys
	// scan off most writes.
	capacityEvictionFraction = 0.2
	// writeRetryEvictions is how many arbitrary entries get evicted before the single retry of a
	// failed write.
	writeRetryEvictions = 5
)

// Manager enforces category policy for one tier.
type Manager struct {
	adapter  tier.Adapter
	registry *category.Registry
	stats    *Stats
	emitter  telemetry.Emitter
}

// NewManager creates a policy manager over the given tier.
func NewManager(adapter tier.Adapter, registry *category.Registry, emitter telemetry.Emitter) *Manager {
	if emitter == nil {
		emitter = telemetry.NoOp{}
	}
	return &Manager{adapter: adapter, registry: registry, stats: &Stats{}, emitter: emitter}
}

// Tier returns the name of the tier this manager owns.
func (m *Manager) Tier() string { return m.adapter.Name() }

// Statistics returns a snapshot of this tier's counters.
func (m *Manager) Statistics() Snapshot { return m.stats.Snapshot() }

// resolve looks up the category policy. An unregistered category is a programmer error: it is
// reported once per call site through the invariant counter and the operation degrades to a
// no-op cache.
func (m *Manager) resolve(kind category.Kind) (category.Policy, bool) {
	policy, found := m.registry.Lookup(kind)
	if !found {
		utils.RaiseInvariant("cache", "unregistered_category",
			"Cache operation on a category with no registered policy.", "category", kind.String())
	}
	return policy, found
}

// Get returns the live payload cached under key, applying lazy TTL expiry.
func (m *Manager) Get(ctx context.Context, kind category.Kind, key string) ([]byte, bool) {
	e, found := m.liveEntry(ctx, kind, key)
	if !found {
		return nil, false
	}
	return e.Payload, true
}

// liveEntry is Get with the full envelope exposed, which the unified cache needs for its
// negative-cache bypass and promotion decisions.
func (m *Manager) liveEntry(ctx context.Context, kind category.Kind, key string) (entry.Entry, bool) {
	policy, found := m.resolve(kind)
	if !found {
		m.recordMiss(kind)
		return entry.Entry{}, false
	}
	physical := policy.Key(key)

	e, found, err := m.adapter.TryGet(ctx, physical)
	if err != nil { // Fail open: an unreachable tier is indistinguishable from an empty one.
		slog.Warn("Tier read failed, treating as miss.", "tier", m.Tier(), "key", physical, "error", err)
		m.recordMiss(kind)
		return entry.Entry{}, false
	}
	if !found {
		m.recordMiss(kind)
		return entry.Entry{}, false
	}

	now := time.Now()
	if e.Expired(now) {
		// Expiry is enforced lazily at read time; nothing guarantees a sweep ran before us.
		if err := m.adapter.Remove(ctx, physical); err != nil {
			slog.Warn("Failed to remove expired entry.", "tier", m.Tier(), "key", physical, "error", err)
		} else {
			m.stats.adjustUsage(-1, -int64(e.Size))
		}
		m.recordMiss(kind)
		m.recordEvictions(kind, 1)
		return entry.Entry{}, false
	}

	if policy.Strategy == category.LRU {
		// Best-effort access bookkeeping; a failed write-back only skews eviction order.
		e.Touch(now)
		if err := m.adapter.Put(ctx, physical, e); err != nil {
			slog.Debug("Skipped LRU bookkeeping write.", "tier", m.Tier(), "key", physical, "error", err)
		}
	}
	m.stats.recordHit()
	m.emitter.Emit(telemetry.Event{Kind: telemetry.EventHit, Tier: m.Tier(), Category: kind.String()})
	return e, true
}

// Set caches payload under key. A zero ttlOverride selects the category default. Failures are
// swallowed after one eviction-and-retry cycle; cache writes are never allowed to fail the
// caller's request.
func (m *Manager) Set(ctx context.Context, kind category.Kind, key string, payload []byte,
	insights uint32, ttlOverride time.Duration) {
	policy, found := m.resolve(kind)
	if !found {
		return // Writes to unregistered categories are dropped.
	}
	if policy.MaxItems > 0 && policy.Strategy != category.TTLOnly {
		m.enforceCapacity(ctx, kind, policy)
	}

	ttl := ttlOverride
	if ttl <= 0 {
		ttl = policy.DefaultTTL
	}
	e := entry.New(payload, ttl, insights)
	physical := policy.Key(key)

	if err := m.adapter.Put(ctx, physical, e); err != nil {
		// The tier may be full; make room and retry exactly once.
		slog.Warn("Tier write failed, evicting and retrying once.",
			"tier", m.Tier(), "key", physical, "error", err)
		m.evictArbitrary(ctx, kind, policy, writeRetryEvictions)
		if err := m.adapter.Put(ctx, physical, e); err != nil {
			slog.Warn("Tier write failed after retry, dropping entry.",
				"tier", m.Tier(), "key", physical, "error", err)
			m.emitter.Emit(telemetry.Event{
				Kind: telemetry.EventWriteFailure, Tier: m.Tier(), Category: kind.String()})
			return
		}
	}
	m.stats.adjustUsage(1, int64(e.Size))
}

// Delete removes the key from this tier.
func (m *Manager) Delete(ctx context.Context, kind category.Kind, key string) {
	policy, found := m.resolve(kind)
	if !found {
		return
	}
	physical := policy.Key(key)
	if err := m.adapter.Remove(ctx, physical); err != nil {
		slog.Warn("Tier delete failed.", "tier", m.Tier(), "key", physical, "error", err)
	}
}

// InvalidateCategory removes every entry of the category from this tier. A non-empty userID
// scopes the removal to that user's keys (see category.UserKey). Failures are logged, not
// returned; the count of removed entries is best-effort.
func (m *Manager) InvalidateCategory(ctx context.Context, kind category.Kind, userID string) int {
	policy, found := m.resolve(kind)
	if !found {
		return 0
	}
	prefix := policy.Prefix()
	if userID != "" {
		prefix = policy.UserPrefix(userID)
	}
	removed, err := m.adapter.RemoveByPrefix(ctx, prefix)
	if err != nil {
		// Partial invalidation is tolerated: survivors are still bounded by TTL and the
		// negative-cache bypass on their next read.
		slog.Warn("Category invalidation failed partway.",
			"tier", m.Tier(), "category", kind.String(), "removed", removed, "error", err)
	}
	m.stats.adjustUsage(int64(-removed), 0)
	return removed
}

// Cleanup sweeps every registered category, physically removing lazily-expired entries and
// recalibrating the usage gauges. Expiry never depends on this running; it only reclaims space
// earlier than the next read would.
func (m *Manager) Cleanup(ctx context.Context) int {
	removedTotal := 0
	var liveItems, liveBytes int64
	now := time.Now()
	for _, kind := range category.AllKinds {
		policy, found := m.registry.Lookup(kind)
		if !found {
			continue
		}
		keys, err := m.adapter.ListKeys(ctx, policy.Prefix())
		if err != nil {
			slog.Warn("Cleanup listing failed, skipping category.",
				"tier", m.Tier(), "category", kind.String(), "error", err)
			continue
		}
		removed := 0
		for _, physical := range keys {
			e, found, err := m.adapter.TryGet(ctx, physical)
			if err != nil || !found {
				continue
			}
			if e.Expired(now) {
				if err := m.adapter.Remove(ctx, physical); err == nil {
					removed++
				}
				continue
			}
			liveItems++
			liveBytes += int64(e.Size)
		}
		if removed > 0 {
			m.recordEvictions(kind, removed)
			removedTotal += removed
		}
	}
	m.stats.setUsage(liveItems, liveBytes)
	return removedTotal
}

// enforceCapacity evicts a batch of entries once the category is at or above MaxItems. Victims
// are the oldest by last access (LRU) or by creation (FIFO).
func (m *Manager) enforceCapacity(ctx context.Context, kind category.Kind, policy category.Policy) {
	keys, err := m.adapter.ListKeys(ctx, policy.Prefix())
	if err != nil {
		slog.Warn("Capacity check failed, skipping eviction.",
			"tier", m.Tier(), "category", kind.String(), "error", err)
		return
	}
	if len(keys) < policy.MaxItems {
		return
	}

	type candidate struct {
		key      string
		orderKey time.Time
		size     uint32
	}
	candidates := make([]candidate, 0, len(keys))
	for _, physical := range keys {
		e, found, err := m.adapter.TryGet(ctx, physical)
		if err != nil || !found {
			continue
		}
		orderKey := e.LastAccessedAt
		if policy.Strategy == category.FIFO {
			orderKey = e.CreatedAt
		}
		candidates = append(candidates, candidate{key: physical, orderKey: orderKey, size: e.Size})
	}
	slices.SortFunc(candidates, func(a, b candidate) int { return a.orderKey.Compare(b.orderKey) })

	batch := int(math.Ceil(capacityEvictionFraction * float64(policy.MaxItems)))
	evicted := 0
	for _, victim := range candidates {
		if evicted >= batch {
			break
		}
		if err := m.adapter.Remove(ctx, victim.key); err != nil {
			slog.Warn("Capacity eviction failed for entry.",
				"tier", m.Tier(), "key", victim.key, "error", err)
			continue
		}
		m.stats.adjustUsage(-1, -int64(victim.size))
		evicted++
	}
	m.recordEvictions(kind, evicted)
}

// evictArbitrary removes up to n entries of the category to make room after a failed write.
// Which entries go is deliberately unspecified; this is a last-ditch recovery path.
func (m *Manager) evictArbitrary(ctx context.Context, kind category.Kind, policy category.Policy, n int) {
	keys, err := m.adapter.ListKeys(ctx, policy.Prefix())
	if err != nil {
		return
	}
	evicted := 0
	for _, physical := range keys {
		if evicted >= n {
			break
		}
		if err := m.adapter.Remove(ctx, physical); err == nil {
			m.stats.adjustUsage(-1, 0)
			evicted++
		}
	}
	m.recordEvictions(kind, evicted)
}

// removeEntry deletes an already-resolved physical key, used by the unified cache when it
// bypasses a stale negative hit.
func (m *Manager) removeEntry(ctx context.Context, kind category.Kind, physical string, size uint32) {
	if err := m.adapter.Remove(ctx, physical); err != nil {
		slog.Warn("Failed to remove bypassed entry.", "tier", m.Tier(), "key", physical, "error", err)
		return
	}
	m.stats.adjustUsage(-1, -int64(size))
}

// promote writes an envelope found in a slower tier into this tier as-is, preserving its
// creation time and TTL so promotion never extends an entry's lifetime.
func (m *Manager) promote(ctx context.Context, kind category.Kind, key string, e entry.Entry) {
	policy, found := m.resolve(kind)
	if !found {
		return
	}
	if policy.MaxItems > 0 && policy.Strategy != category.TTLOnly {
		m.enforceCapacity(ctx, kind, policy)
	}
	physical := policy.Key(key)
	if err := m.adapter.Put(ctx, physical, e); err != nil {
		slog.Debug("Promotion write failed.", "tier", m.Tier(), "key", physical, "error", err)
		return
	}
	m.stats.adjustUsage(1, int64(e.Size))
}

func (m *Manager) recordMiss(kind category.Kind) {
	m.stats.recordMiss()
	m.emitter.Emit(telemetry.Event{Kind: telemetry.EventMiss, Tier: m.Tier(), Category: kind.String()})
}

func (m *Manager) recordEvictions(kind category.Kind, n int) {
	if n <= 0 {
		return
	}
	m.stats.recordEvictions(n)
	m.emitter.Emit(telemetry.Event{
		Kind: telemetry.EventEviction, Tier: m.Tier(), Category: kind.String(), Count: n})
}
