// Cache categories group keys that share one TTL / eviction policy. Categories are a closed
// enumeration resolved at compile time, so an "unknown category" can only be produced by an
// invalid enum value, never by a typo'd string. The Registry maps each category to its policy
// and is constructed explicitly and passed by handle to whoever needs it; there is no package
// level singleton, which keeps per-test registries trivial.

package category

import (
	"fmt"
	"time"
)

// Kind identifies one cache category.
type Kind uint8

const (
	unknownKind Kind = iota // Zero value; never registered.

	// VoiceAnalysis holds the most recent voice analysis results. Live data, short TTL.
	VoiceAnalysis
	// PatternInsights holds derived long-horizon pattern insights. Stable, long TTL.
	PatternInsights
	// ComputedAnalytics holds aggregated statistics over recorded measurements.
	ComputedAnalytics
	// Recommendations holds generated per-user recommendations.
	Recommendations
	// DailySummary holds the per-day rollup shown on the home screen.
	DailySummary
)

// AllKinds lists every registered category, useful for sweeps over the whole cache.
var AllKinds = []Kind{VoiceAnalysis, PatternInsights, ComputedAnalytics, Recommendations, DailySummary}

func (k Kind) String() string {
	switch k {
	case VoiceAnalysis:
		return "voice_analysis"
	case PatternInsights:
		return "pattern_insights"
	case ComputedAnalytics:
		return "computed_analytics"
	case Recommendations:
		return "recommendations"
	case DailySummary:
		return "daily_summary"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Strategy selects how a category sheds entries once it reaches capacity.
type Strategy uint8

const (
	// LRU evicts the entries with the oldest last access first.
	LRU Strategy = iota
	// FIFO evicts the entries with the oldest creation time first.
	FIFO
	// TTLOnly never evicts at capacity; only TTL expiry removes entries,
	// and MaxItems becomes advisory.
	TTLOnly
)

func (s Strategy) String() string {
	switch s {
	case LRU:
		return "lru"
	case FIFO:
		return "fifo"
	case TTLOnly:
		return "ttl_only"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Policy holds the per-category caching rules.
type Policy struct {
	DefaultTTL time.Duration
	MaxItems   int // Zero means unbounded.
	Strategy   Strategy
	Namespace  string // Disambiguates keys across categories sharing a physical store.
}

// Key builds the physical key for a logical key within this category's namespace.
func (p Policy) Key(key string) string {
	return p.Namespace + ":" + key
}

// Prefix returns the physical prefix covering every key of this category.
func (p Policy) Prefix() string {
	return p.Namespace + ":"
}

// UserPrefix returns the physical prefix covering every key of this category that belongs to the
// given user. It relies on the UserKey convention below.
func (p Policy) UserPrefix(userID string) string {
	return p.Namespace + ":" + userID + ":"
}

// UserKey builds a logical key scoped to one user, so user-wide invalidation can remove it by
// prefix. Every per-user cache entry must be keyed through this helper.
func UserKey(userID, suffix string) string {
	return userID + ":" + suffix
}

// Registry resolves categories to policies. Construct one with DefaultRegistry (production
// policies) or NewRegistry (custom policies, e.g. tiny capacities in tests).
type Registry struct {
	policies map[Kind]Policy
}

// DefaultRegistry returns the production policy table.
func DefaultRegistry() *Registry {
	return NewRegistry(map[Kind]Policy{
		VoiceAnalysis:     {DefaultTTL: 15 * time.Minute, MaxItems: 50, Strategy: LRU, Namespace: "va"},
		PatternInsights:   {DefaultTTL: 24 * time.Hour, MaxItems: 100, Strategy: LRU, Namespace: "pi"},
		ComputedAnalytics: {DefaultTTL: 6 * time.Hour, MaxItems: 200, Strategy: FIFO, Namespace: "ca"},
		Recommendations:   {DefaultTTL: 12 * time.Hour, MaxItems: 100, Strategy: LRU, Namespace: "rec"},
		DailySummary:      {DefaultTTL: time.Hour, Strategy: TTLOnly, Namespace: "ds"},
	})
}

// NewRegistry builds a registry from an explicit policy table.
func NewRegistry(policies map[Kind]Policy) *Registry {
	registry := &Registry{policies: make(map[Kind]Policy, len(policies))}
	for kind, policy := range policies {
		registry.policies[kind] = policy
	}
	return registry
}

// Lookup resolves the policy for a category. The second return value is false when the category
// is not registered; callers must then degrade to a no-op cache (always miss, writes dropped).
func (r *Registry) Lookup(kind Kind) (Policy, bool) {
	policy, found := r.policies[kind]
	return policy, found
}
