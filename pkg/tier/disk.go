// The local tier keeps one envelope file per key under a data directory, so results stay
// available offline across process restarts. File names are the base64url form of the key, which
// keeps prefix listing exact without a separate index. A bloom filter seeded from the directory
// at startup answers most "key is absent" lookups without touching the disk at all; it is
// append-only, so a deleted key may cost one extra stat until the next restart rebuilds it.

package tier

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/oakmist/strata/pkg/entry"
)

const entryFileExtension = ".entry"

// Disk is the durable local tier.
type Disk struct {
	dir    string
	mux    sync.Mutex // Guards the bloom filter; file operations rely on the filesystem.
	filter *bloom.BloomFilter
}

var _ Adapter = (*Disk)(nil)

// NewDisk creates a local tier rooted at dir, creating the directory if needed and seeding the
// membership filter from the entry files already present.
func NewDisk(dir string) (*Disk, error) {
	if dir == "" {
		return nil, fmt.Errorf("local tier requires a data directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local tier directory: %w", err)
	}
	disk := &Disk{dir: dir, filter: bloom.NewWithEstimates(100_000, 0.01)}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list local tier directory: %w", err)
	}
	for _, dirEntry := range dirEntries {
		if key, ok := keyFromFileName(dirEntry.Name()); ok {
			disk.filter.AddString(key)
		}
	}
	return disk, nil
}

func (d *Disk) Name() string { return "local" }

// fileNameForKey maps a key to its on-disk file name.
func fileNameForKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + entryFileExtension
}

// keyFromFileName reverses fileNameForKey. Unrelated files in the data directory are ignored.
func keyFromFileName(name string) (string, bool) {
	encoded, found := strings.CutSuffix(name, entryFileExtension)
	if !found {
		return "", false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.dir, fileNameForKey(key))
}

func (d *Disk) TryGet(ctx context.Context, key string) (entry.Entry, bool, error) {
	d.mux.Lock()
	maybePresent := d.filter.TestString(key)
	d.mux.Unlock()
	if !maybePresent { // Definitely never written since the last restart's rebuild.
		return entry.Entry{}, false, nil
	}

	encoded, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return entry.Entry{}, false, nil
	}
	if err != nil {
		return entry.Entry{}, false, fmt.Errorf("%w: local read: %v", ErrUnavailable, err)
	}
	e, err := entry.Decode(encoded)
	if err != nil { // Corrupt envelope; delete it eagerly and report a miss.
		slog.Warn("Deleting corrupt entry from local tier.", "key", key, "error", err)
		_ = os.Remove(d.path(key))
		return entry.Entry{}, false, nil
	}
	return e, true, nil
}

func (d *Disk) Put(ctx context.Context, key string, e entry.Entry) error {
	encoded, err := entry.Encode(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry for local tier: %w", err)
	}
	// Write-then-rename keeps readers from ever observing a half-written envelope.
	tmp, err := os.CreateTemp(d.dir, "put-*")
	if err != nil {
		return fmt.Errorf("%w: local create: %v", ErrUnavailable, err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: local write: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: local close: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), d.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: local rename: %v", ErrUnavailable, err)
	}

	d.mux.Lock()
	d.filter.AddString(key)
	d.mux.Unlock()
	return nil
}

func (d *Disk) Remove(ctx context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: local remove: %v", ErrUnavailable, err)
	}
	return nil
}

func (d *Disk) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := d.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err := d.Remove(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ListKeys scans the data directory. It is O(directory size) and reserved for maintenance and
// invalidation paths.
func (d *Disk) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: local list: %v", ErrUnavailable, err)
	}
	keys := make([]string, 0)
	for _, dirEntry := range dirEntries {
		if key, ok := keyFromFileName(dirEntry.Name()); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
