// Every tier stores the same typed envelope around the cached payload: the payload bytes, the
// creation timestamp, a relative TTL, access bookkeeping for LRU eviction, and the insight count
// used to classify negative ("computed, found nothing") results. The payload itself stays opaque;
// callers serialize their values before they cross into the cache.

package entry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the envelope stored for every cached value in every tier.
type Entry struct {
	Payload   []byte        `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"` // Relative to CreatedAt; liveness is recomputed on every access.
	// HitCount and LastAccessedAt are only maintained for categories with the LRU strategy.
	HitCount       uint32    `json:"hit_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Size           uint32    `json:"size"` // Approximate payload size in bytes, used for size accounting.
	// Insights counts how much substantive content the payload carries. Zero marks a negative
	// result: the computation ran and found nothing. Negative results get a bounded TTL.
	Insights uint32 `json:"insights"`
}

// New builds a fresh envelope for the given payload. The caller supplies the insight count it
// computed for the value; the cache never looks inside the payload itself.
func New(payload []byte, ttl time.Duration, insights uint32) Entry {
	now := time.Now()
	return Entry{
		Payload:        payload,
		CreatedAt:      now,
		TTL:            ttl,
		LastAccessedAt: now,
		Size:           uint32(len(payload)),
		Insights:       insights,
	}
}

// Expired reports whether the entry has outlived its TTL at the given instant.
// Expired entries must be treated as absent regardless of which tier still holds them.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

// Remaining returns how much of the TTL is left at the given instant. It is negative once the
// entry has expired.
func (e Entry) Remaining(now time.Time) time.Duration {
	return e.CreatedAt.Add(e.TTL).Sub(now)
}

// Negative reports whether this entry caches a "found nothing" result.
func (e Entry) Negative() bool {
	return e.Insights == 0
}

// Touch records an access for LRU bookkeeping.
func (e *Entry) Touch(now time.Time) {
	e.HitCount++
	e.LastAccessedAt = now
}

// Encode serializes the envelope for the durable tiers.
func Encode(e Entry) ([]byte, error) {
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return encoded, nil
}

// Decode deserializes an envelope read back from a durable tier. A decode failure means the
// stored bytes are corrupt; callers treat that as a miss and delete the entry eagerly.
func Decode(encoded []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(encoded, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	if e.TTL <= 0 { // A non-positive TTL can only come from a corrupt or hand-edited envelope.
		return Entry{}, fmt.Errorf("decoded cache entry has non-positive ttl %v", e.TTL)
	}
	return e, nil
}
