package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/oakmist/strata/pkg/cache"
	"github.com/oakmist/strata/pkg/category"
	"github.com/oakmist/strata/pkg/telemetry"
	"github.com/oakmist/strata/pkg/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureEmitter records every emitted event for assertions.
type captureEmitter struct {
	events []telemetry.Event
}

func (c *captureEmitter) Emit(event telemetry.Event) { c.events = append(c.events, event) }

// testStack wires a unified cache over three in-process tiers; the memory adapter stands in for
// all of them since the router only cares that every tier gets cleared.
func testStack(emitter telemetry.Emitter) (*cache.Unified, *Router) {
	registry := category.NewRegistry(map[category.Kind]category.Policy{
		category.VoiceAnalysis:     {DefaultTTL: time.Hour, Strategy: category.LRU, Namespace: "va"},
		category.PatternInsights:   {DefaultTTL: time.Hour, Strategy: category.LRU, Namespace: "pi"},
		category.ComputedAnalytics: {DefaultTTL: time.Hour, Strategy: category.FIFO, Namespace: "ca"},
		category.Recommendations:   {DefaultTTL: time.Hour, Strategy: category.LRU, Namespace: "rec"},
		category.DailySummary:      {DefaultTTL: time.Hour, Strategy: category.TTLOnly, Namespace: "ds"},
	})
	unified := cache.NewUnified(tier.NewMemory(4), tier.NewMemory(4), tier.NewMemory(4), registry, nil)
	return unified, NewRouter(unified, emitter)
}

func TestRouter_MeasurementRecorded(t *testing.T) {
	ctx := context.Background()
	unified, router := testStack(nil)

	unified.Set(ctx, category.VoiceAnalysis, category.UserKey("user-1", "latest"), []byte("x"), 1, 0)
	unified.Set(ctx, category.DailySummary, category.UserKey("user-1", "today"), []byte("x"), 1, 0)
	unified.Set(ctx, category.PatternInsights, category.UserKey("user-1", "weekly"), []byte("x"), 1, 0)

	affected := router.Invalidate(ctx, NewRequest(MeasurementRecorded, "user-1"))
	// Two invalidated keys, each fanned out to three tiers.
	assert.Equal(t, 6, affected)

	_, found := unified.Get(ctx, category.VoiceAnalysis, category.UserKey("user-1", "latest"))
	assert.False(t, found)
	_, found = unified.Get(ctx, category.DailySummary, category.UserKey("user-1", "today"))
	assert.False(t, found)
	// Pattern insights are not derived per-measurement and must survive.
	_, found = unified.Get(ctx, category.PatternInsights, category.UserKey("user-1", "weekly"))
	assert.True(t, found)
}

func TestRouter_UserScoping(t *testing.T) {
	ctx := context.Background()
	unified, router := testStack(nil)

	unified.Set(ctx, category.VoiceAnalysis, category.UserKey("user-1", "latest"), []byte("x"), 1, 0)
	unified.Set(ctx, category.VoiceAnalysis, category.UserKey("user-2", "latest"), []byte("x"), 1, 0)

	router.Invalidate(ctx, NewRequest(ManualRefreshRequested, "user-1"))

	_, found := unified.Get(ctx, category.VoiceAnalysis, category.UserKey("user-1", "latest"))
	assert.False(t, found)
	_, found = unified.Get(ctx, category.VoiceAnalysis, category.UserKey("user-2", "latest"))
	assert.True(t, found, "Another user's entries must survive a user-scoped invalidation")
}

func TestRouter_CategoryWideWithoutUser(t *testing.T) {
	ctx := context.Background()
	unified, router := testStack(nil)

	unified.Set(ctx, category.DailySummary, category.UserKey("user-1", "today"), []byte("x"), 1, 0)
	unified.Set(ctx, category.DailySummary, category.UserKey("user-2", "today"), []byte("x"), 1, 0)

	// Day rollover has no user scope: everyone's day-scoped aggregates go stale at midnight.
	affected := router.Invalidate(ctx, Request{Trigger: DayRollover, OccurredAt: time.Now()})
	assert.Equal(t, 6, affected)
	_, found := unified.Get(ctx, category.DailySummary, category.UserKey("user-2", "today"))
	assert.False(t, found)
}

func TestRouter_Idempotence(t *testing.T) {
	ctx := context.Background()
	unified, router := testStack(nil)
	unified.Set(ctx, category.Recommendations, category.UserKey("user-1", "list"), []byte("x"), 1, 0)

	first := router.Invalidate(ctx, NewRequest(UserDataReset, "user-1"))
	assert.Positive(t, first)
	second := router.Invalidate(ctx, NewRequest(UserDataReset, "user-1"))
	assert.Zero(t, second, "A second identical invalidation must find nothing to remove")
}

func TestRouter_EmitsTelemetryPerCategory(t *testing.T) {
	ctx := context.Background()
	emitter := &captureEmitter{}
	_, router := testStack(emitter)

	request := NewRequest(ProfileFinalized, "user-1")
	router.Invalidate(ctx, request)

	triggers := make(map[string]int)
	categories := make([]string, 0)
	for _, event := range emitter.events {
		require.Equal(t, telemetry.EventInvalidation, event.Kind)
		triggers[event.Trigger]++
		categories = append(categories, event.Category)
	}
	assert.Equal(t, map[string]int{"profile_finalized": 2}, triggers)
	assert.ElementsMatch(t, []string{"pattern_insights", "recommendations"}, categories)
}

func TestRouter_AllTriggersAreRouted(t *testing.T) {
	for _, trigger := range []Trigger{MeasurementRecorded, UserDataReset, DayRollover,
		ProfileFinalized, ManualRefreshRequested} {
		kinds, found := routes[trigger]
		assert.Truef(t, found, "Trigger %s missing from the routing table", trigger)
		assert.NotEmptyf(t, kinds, "Trigger %s routes to no categories", trigger)
	}
}

func TestNewRequest(t *testing.T) {
	request := NewRequest(MeasurementRecorded, "user-1")
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, MeasurementRecorded, request.Trigger)
	assert.Equal(t, "user-1", request.UserID)
	assert.WithinDuration(t, time.Now(), request.OccurredAt, time.Minute)

	other := NewRequest(MeasurementRecorded, "user-1")
	assert.NotEqual(t, request.ID, other.ID)
}
