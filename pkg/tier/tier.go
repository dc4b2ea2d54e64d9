// A tier is one physical storage backend for cache entries. Three tiers sit behind the same
// contract: a fast in-process tier, a durable remote tier shared across a user's devices, and a
// durable local tier for offline availability. No tier may assume exclusive access to its backing
// store; other processes and devices mutate the durable tiers concurrently, so adapters only ever
// make best-effort guarantees.

package tier

import (
	"context"
	"errors"

	"github.com/oakmist/strata/pkg/entry"
)

// ErrUnavailable wraps backend I/O failures. Callers treat it as a miss (reads) or a dropped
// write; a cache malfunction must never fail the caller's primary computation.
var ErrUnavailable = errors.New("tier unavailable")

// Adapter is the contract every storage tier implements.
type Adapter interface {
	// Name identifies the tier in logs and metrics ("fast", "remote", "local").
	Name() string
	// TryGet returns the entry stored under key. Absence is not an error: it returns found=false.
	// A non-nil error means a genuine I/O failure and the caller must treat it as a miss.
	// Corrupt stored entries are deleted eagerly and reported as absent.
	TryGet(ctx context.Context, key string) (entry.Entry, bool, error)
	// Put stores the entry under key, overwriting any previous value. Best-effort; a failure
	// must not abort the caller's fresh-compute path.
	Put(ctx context.Context, key string, e entry.Entry) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// RemoveByPrefix deletes every key with the given prefix and returns how many were removed.
	RemoveByPrefix(ctx context.Context, prefix string) (int, error)
	// ListKeys returns every key with the given prefix. This can be expensive on durable tiers
	// and is reserved for maintenance sweeps and capacity enforcement, never the per-request path.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// NoOp is a tier that stores nothing. It is used when a tier is disabled, e.g. running without a
// remote store configured.
type NoOp struct {
	name string
}

var _ Adapter = (*NoOp)(nil)

// NewNoOp returns a no-operation tier with the given name.
func NewNoOp(name string) *NoOp {
	return &NoOp{name: name}
}

func (n *NoOp) Name() string { return n.name }

// TryGet always reports the key as absent.
func (n *NoOp) TryGet(ctx context.Context, key string) (entry.Entry, bool, error) {
	return entry.Entry{}, false, nil
}

// Put drops the entry.
func (n *NoOp) Put(ctx context.Context, key string, e entry.Entry) error { return nil }

// Remove does nothing.
func (n *NoOp) Remove(ctx context.Context, key string) error { return nil }

// RemoveByPrefix does nothing and reports zero removals.
func (n *NoOp) RemoveByPrefix(ctx context.Context, prefix string) (int, error) { return 0, nil }

// ListKeys always returns nil, as there are no keys stored.
func (n *NoOp) ListKeys(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
