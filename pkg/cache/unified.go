// The unified cache orchestrates the three tiers: reads waterfall fast → remote → local with
// promotion of slower-tier hits into the fast tier, writes fan out to every tier, and the
// negative-cache bypass rule keeps "computed, found nothing" results from suppressing retries
// for longer than a bounded window.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakmist/strata/pkg/category"
	"github.com/oakmist/strata/pkg/entry"
	"github.com/oakmist/strata/pkg/telemetry"
	"github.com/oakmist/strata/pkg/tier"
	"github.com/oakmist/strata/pkg/utils"
	"golang.org/x/sync/singleflight"
)

const (
	// negativeTTL bounds how long a negative result (zero insights) stays cacheable. It is forced
	// at write time regardless of the category default or any override: a "found nothing" result
	// cached for hours would suppress a retry long after the underlying condition changed.
	negativeTTL = 5 * time.Minute
	// bypassWindow caps the effective lifetime of negative entries at read time: a negative hit
	// older than this window is deleted and treated as a miss no matter how much of its stored
	// TTL remains. Entries written through this package never outlive negativeTTL anyway; the
	// read-side cap also covers negative entries written with long TTLs by other devices or
	// older builds, which would otherwise suppress a retry for hours.
	bypassWindow = 5 * time.Minute
)

// Unified is the cross-tier cache facade. Construct it once and pass it by handle to every
// component that caches; each instance owns its managers and statistics, so tests can build
// isolated instances freely.
type Unified struct {
	tiers    []*Manager // Waterfall order: fast, remote, local.
	registry *category.Registry
	emitter  telemetry.Emitter
	stats    *Stats // Logical (cross-tier) counters; per-tier counters live in the managers.
	flight   singleflight.Group
}

// NewUnified builds the unified cache over the three tier adapters. Pass tier.NewNoOp for any
// tier that is disabled in this deployment.
func NewUnified(fast, remote, local tier.Adapter, registry *category.Registry,
	emitter telemetry.Emitter) *Unified {
	if emitter == nil {
		emitter = telemetry.NoOp{}
	}
	return &Unified{
		tiers: []*Manager{
			NewManager(fast, registry, emitter),
			NewManager(remote, registry, emitter),
			NewManager(local, registry, emitter),
		},
		registry: registry,
		emitter:  emitter,
		stats:    &Stats{},
	}
}

// Managers exposes the per-tier managers in waterfall order, for maintenance sweeps and per-tier
// statistics.
func (u *Unified) Managers() []*Manager { return u.tiers }

// Get returns the cached payload for key, consulting the fast, remote and local tiers in order.
// A hit in a slower tier is promoted into the fast tier so the next read stops there. A false
// return is a true miss across all tiers: the caller must compute fresh and write back with Set.
func (u *Unified) Get(ctx context.Context, kind category.Kind, key string) ([]byte, bool) {
	e, found := u.getEntry(ctx, kind, key)
	if !found {
		return nil, false
	}
	return e.Payload, true
}

func (u *Unified) getEntry(ctx context.Context, kind category.Kind, key string) (entry.Entry, bool) {
	now := time.Now()
	for i, manager := range u.tiers {
		e, found := manager.liveEntry(ctx, kind, key)
		if !found {
			continue
		}
		if e.Negative() && now.Sub(e.CreatedAt) >= bypassWindow {
			// Negative-cache bypass: treat the hit as a miss and drop the stale entry from this
			// tier so it cannot be promoted later.
			policy, resolved := u.registry.Lookup(kind)
			if resolved {
				manager.removeEntry(ctx, kind, policy.Key(key), e.Size)
			}
			u.stats.recordBypass()
			u.emitter.Emit(telemetry.Event{
				Kind: telemetry.EventBypass, Tier: manager.Tier(), Category: kind.String()})
			continue
		}
		if i > 0 {
			u.tiers[0].promote(ctx, kind, key, e)
		}
		u.stats.recordHit()
		return e, true
	}
	u.stats.recordMiss()
	return entry.Entry{}, false
}

// Set writes the payload through to all three tiers. A zero ttlOverride selects the category
// default. When insights is zero the TTL is forced to the negative-cache bound regardless of
// category default or override. Tier failures are independent and non-fatal.
func (u *Unified) Set(ctx context.Context, kind category.Kind, key string, payload []byte,
	insights uint32, ttlOverride time.Duration) {
	ttl := ttlOverride
	if insights == 0 {
		ttl = negativeTTL
	}
	for _, manager := range u.tiers {
		manager.Set(ctx, kind, key, payload, insights, ttl)
	}
}

// Delete removes the key from all tiers.
func (u *Unified) Delete(ctx context.Context, kind category.Kind, key string) {
	for _, manager := range u.tiers {
		manager.Delete(ctx, kind, key)
	}
}

// InvalidateCategory removes a category (optionally scoped to one user) from all three tiers and
// returns the total number of entries removed. Reaching every tier matters: a survivor in the
// remote or local tier would be promoted straight back into the fast tier on the next read.
func (u *Unified) InvalidateCategory(ctx context.Context, kind category.Kind, userID string) int {
	removed := 0
	for _, manager := range u.tiers {
		removed += manager.InvalidateCategory(ctx, kind, userID)
	}
	return removed
}

// GetOrCompute returns the cached payload or, on a full miss, runs compute and writes its result
// through all tiers. Concurrent misses for the same key are coalesced into a single computation.
// The compute callback returns the serialized value and its insight count.
func (u *Unified) GetOrCompute(ctx context.Context, kind category.Kind, key string,
	compute func(ctx context.Context) ([]byte, uint32, error)) ([]byte, error) {
	if payload, found := u.Get(ctx, kind, key); found {
		return payload, nil
	}
	result, err, _ := u.flight.Do(kind.String()+"/"+key, func() (any, error) {
		// A concurrent caller may have populated the cache while we waited for the flight.
		if payload, found := u.Get(ctx, kind, key); found {
			return payload, nil
		}
		payload, insights, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		u.Set(ctx, kind, key, payload, insights, 0)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Cleanup runs the maintenance sweep on every tier and returns the number of removed entries.
func (u *Unified) Cleanup(ctx context.Context) int {
	removed := 0
	for _, manager := range u.tiers {
		removed += manager.Cleanup(ctx)
	}
	return removed
}

// Statistics returns the logical (cross-tier) counters: one unified Get is at most one hit or
// one miss here, however many tiers it touched.
func (u *Unified) Statistics() Snapshot { return u.stats.Snapshot() }

// InsightCounter classifies how much substantive content a value carries. Zero means "computed,
// found nothing" and triggers the negative-cache TTL policy.
type InsightCounter[T any] func(value T) int

// Get reads and deserializes a typed value from the unified cache.
func Get[T any](ctx context.Context, u *Unified, kind category.Kind, key string) (T, bool) {
	var value T
	payload, found := u.Get(ctx, kind, key)
	if !found {
		return value, false
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		// The payload doesn't match the caller's type; drop it everywhere and report a miss.
		slog.Warn("Cached payload failed to deserialize, dropping entry.",
			"category", kind.String(), "key", key, "error", err)
		u.Delete(ctx, kind, key)
		return value, false
	}
	return value, true
}

// SetWithPolicy serializes the value, classifies it with the caller-supplied insight counter and
// writes it through all tiers with the negative/positive TTL branching applied. It exists so
// callers never re-derive that branching themselves.
func SetWithPolicy[T any](ctx context.Context, u *Unified, kind category.Kind, key string,
	value T, countInsights InsightCounter[T]) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value for cache: %w", err)
	}
	insights := countInsights(value)
	if insights < 0 {
		utils.RaiseInvariant("cache", "negative_insight_count",
			"Insight counter returned a negative count.", "category", kind.String(), "count", insights)
		insights = 0
	}
	if insights == 0 {
		slog.Debug("Caching negative result with bounded TTL.",
			"category", kind.String(), "key", key, "ttl", negativeTTL)
	} else {
		slog.Debug("Caching result with category TTL.",
			"category", kind.String(), "key", key, "insights", insights)
	}
	u.Set(ctx, kind, key, payload, uint32(insights), 0)
	return nil
}
