// Domain events, not just TTLs, decide when cached analysis becomes stale: a new measurement
// invalidates the aggregates computed without it, a day rollover invalidates the daily summary,
// and a user data reset invalidates everything the user owns. The router maps each event to its
// affected categories and clears them from all three tiers synchronously; it returns once every
// removal has been attempted. Cross-tier removal is not atomic — a crash can leave a tier
// uncleared — which the system tolerates because survivors are still bounded by their TTL and
// the negative-cache bypass on their next read.

package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oakmist/strata/pkg/cache"
	"github.com/oakmist/strata/pkg/category"
	"github.com/oakmist/strata/pkg/telemetry"
	"github.com/oakmist/strata/pkg/utils"
)

// Trigger enumerates the domain events that drive invalidation. The set is closed; adding a
// trigger means extending the routing table below.
type Trigger uint8

const (
	unknownTrigger Trigger = iota

	// MeasurementRecorded fires when a new measurement lands, staling everything derived from
	// the measurement history.
	MeasurementRecorded
	// UserDataReset fires when a user wipes their data; every cached result for them is stale.
	UserDataReset
	// DayRollover fires at local midnight, staling day-scoped aggregates for all users.
	DayRollover
	// ProfileFinalized fires when a user's baseline profile finishes calibrating.
	ProfileFinalized
	// ManualRefreshRequested fires when the user explicitly pulls to refresh.
	ManualRefreshRequested
)

func (t Trigger) String() string {
	switch t {
	case MeasurementRecorded:
		return "measurement_recorded"
	case UserDataReset:
		return "user_data_reset"
	case DayRollover:
		return "day_rollover"
	case ProfileFinalized:
		return "profile_finalized"
	case ManualRefreshRequested:
		return "manual_refresh_requested"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// routes is the static mapping from trigger to affected categories.
var routes = map[Trigger][]category.Kind{
	MeasurementRecorded: {category.VoiceAnalysis, category.ComputedAnalytics, category.DailySummary},
	UserDataReset: {category.VoiceAnalysis, category.PatternInsights, category.ComputedAnalytics,
		category.Recommendations, category.DailySummary},
	DayRollover:      {category.DailySummary, category.ComputedAnalytics},
	ProfileFinalized: {category.PatternInsights, category.Recommendations},
	ManualRefreshRequested: {category.VoiceAnalysis, category.ComputedAnalytics,
		category.Recommendations, category.DailySummary},
}

// Request describes one invalidation to apply. An empty UserID makes the invalidation
// category-wide; otherwise only that user's keys are removed.
type Request struct {
	ID         string // Correlates router logs with the emitting event source.
	Trigger    Trigger
	UserID     string
	OccurredAt time.Time
}

// NewRequest builds a request for the given trigger, stamped now with a fresh ID.
func NewRequest(trigger Trigger, userID string) Request {
	return Request{ID: uuid.NewString(), Trigger: trigger, UserID: userID, OccurredAt: time.Now()}
}

// Router applies invalidation requests to the unified cache.
type Router struct {
	cache   *cache.Unified
	emitter telemetry.Emitter
}

// NewRouter creates a router over the given unified cache.
func NewRouter(unified *cache.Unified, emitter telemetry.Emitter) *Router {
	if emitter == nil {
		emitter = telemetry.NoOp{}
	}
	return &Router{cache: unified, emitter: emitter}
}

// Invalidate removes every category mapped to the request's trigger from all three tiers and
// returns the total number of entries removed. Invalidation is idempotent: a second identical
// request finds nothing left to remove and returns zero.
func (r *Router) Invalidate(ctx context.Context, request Request) int {
	kinds, found := routes[request.Trigger]
	if !found {
		utils.RaiseInvariant("invalidation", "unrouted_trigger",
			"Invalidation request with a trigger missing from the routing table.",
			"trigger", request.Trigger.String())
		return 0
	}

	affected := 0
	for _, kind := range kinds {
		removed := r.cache.InvalidateCategory(ctx, kind, request.UserID)
		affected += removed
		r.emitter.Emit(telemetry.Event{
			Kind:     telemetry.EventInvalidation,
			Category: kind.String(),
			Trigger:  request.Trigger.String(),
			Count:    removed,
		})
	}
	slog.Info("Applied invalidation request.", "id", request.ID,
		"trigger", request.Trigger.String(), "user", request.UserID, "affected", affected)
	return affected
}
