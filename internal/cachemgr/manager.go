// Package cachemgr owns the on-disk content cache: a bounded-size,
// LRU-evicting index of artifacts, rebuilt by scanning the filesystem at
// startup and kept consistent with disk as artifacts are admitted and
// evicted.
package cachemgr

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hathnode/node/internal/lruindex"
	"github.com/hathnode/node/pkg/artifact"
	"github.com/hathnode/node/pkg/cacheerr"
	"github.com/hathnode/node/pkg/hashid"
)

// Manager owns the LRU index, total byte accounting, and the cache root
// directory. It is accessed through a single exclusive lock; eviction
// unlinks are dispatched to a detached goroutine so no I/O runs under the
// lock.
type Manager struct {
	mu          sync.Mutex
	maxSize     uint64
	currentSize uint64
	root        string
	index       *lruindex.LruIndex[hashid.HashId, artifact.Artifact]

	log *slog.Logger

	// unlinker is invoked (outside the lock) once per evicted artifact. It
	// defaults to os.Remove on the artifact's path; tests substitute a
	// stub to observe eviction without touching disk.
	unlinker func(path string)

	// Metrics, if set, observes admitted/evicted bytes and the current
	// size gauge. Left nil in tests that don't care about metrics.
	Metrics MetricsSink
}

// MetricsSink is the narrow set of observations Manager reports after an
// Admit call. *metrics.Collector satisfies this implicitly.
type MetricsSink interface {
	RecordAdmitted(n uint64)
	RecordEvicted(n uint64)
	SetCacheSize(current, max uint64)
}

// New constructs a Manager with the given quota and cache root. Call Build
// to populate the index from the filesystem before serving requests.
func New(root string, maxSize uint64, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		maxSize: maxSize,
		root:    root,
		index:   lruindex.New[hashid.HashId, artifact.Artifact](),
		log:     log,
	}
	m.unlinker = func(path string) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warn("evict unlink failed", "path", path, "error", err)
		}
	}
	return m
}

// SetMaxSize changes the quota at runtime. It does not itself trigger
// eviction; the next Admit call evicts down to the new quota.
func (m *Manager) SetMaxSize(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSize = n
}

// CurrentSize returns the sum of Size over all indexed artifacts.
func (m *Manager) CurrentSize() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentSize
}

// Len returns the number of indexed artifacts.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Len()
}

// Path returns the on-disk path for an artifact beneath the cache root.
func (m *Manager) Path(a artifact.Artifact) string {
	return a.Path(m.root)
}

// Lookup returns the indexed artifact for hash without affecting LRU order.
func (m *Manager) Lookup(h hashid.HashId) (artifact.Artifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Peek(h)
}

// Touch repositions hash to the front if present. It is an idempotent
// no-op if absent.
func (m *Manager) Touch(h hashid.HashId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index.Touch(h)
}

// Admit records a's size against the quota, pushes it to the front of the
// LRU order (replacing any previous entry with the same hash in place,
// without double-counting its size), then evicts least-recently-used
// entries until the cache is back at or under quota. Each eviction
// schedules an asynchronous unlink of the evicted artifact's file; unlink
// failures are logged and dropped, never re-admitted.
func (m *Manager) Admit(a artifact.Artifact) {
	m.mu.Lock()

	if previous, had := m.index.InsertOrReplace(a.Hash, a); had {
		m.currentSize -= previous.Size
	}
	m.currentSize += a.Size

	var evicted []artifact.Artifact
	for m.currentSize > m.maxSize {
		victim, ok := m.index.PopBack()
		if !ok {
			break
		}
		m.currentSize -= victim.Size
		evicted = append(evicted, victim)
	}

	current, max := m.currentSize, m.maxSize
	m.mu.Unlock()

	if m.Metrics != nil {
		m.Metrics.RecordAdmitted(a.Size)
		for _, v := range evicted {
			m.Metrics.RecordEvicted(v.Size)
		}
		m.Metrics.SetCacheSize(current, max)
	}

	for _, v := range evicted {
		path := v.Path(m.root)
		go m.unlinker(path)
	}
}

// Build performs the synchronous startup scan: walk exactly two hex-shard
// directory levels under root, parse each file's canonical name, compare
// its on-disk size against the size encoded in the filename, delete
// mismatches, and index matches. Unparseable names and their enclosing
// directories are left untouched. Entries are inserted oldest-access-first
// so the most-recently-accessed ends up at the front of the LRU order.
func (m *Manager) Build(root string) error {
	m.root = root

	var found []scanEntry

	level1, err := os.ReadDir(root)
	if err != nil {
		return cacheerr.Wrap(cacheerr.KindIO, err)
	}

	for _, e1 := range level1 {
		if !e1.IsDir() || !isHexShard(e1.Name()) {
			continue
		}
		dir1 := filepath.Join(root, e1.Name())

		level2, err := os.ReadDir(dir1)
		if err != nil {
			m.log.Warn("scan: read shard dir failed", "dir", dir1, "error", err)
			continue
		}

		for _, e2 := range level2 {
			if !e2.IsDir() || !isHexShard(e2.Name()) {
				continue
			}
			dir2 := filepath.Join(dir1, e2.Name())

			entries, err := os.ReadDir(dir2)
			if err != nil {
				m.log.Warn("scan: read leaf dir failed", "dir", dir2, "error", err)
				continue
			}

			for _, fe := range entries {
				if fe.IsDir() {
					continue
				}
				path := filepath.Join(dir2, fe.Name())

				art, err := artifact.ParseFilename(fe.Name(), '.')
				if err != nil {
					// unparseable name: skip, leave file and directory untouched
					continue
				}

				info, err := fe.Info()
				if err != nil {
					m.log.Warn("scan: stat failed", "path", path, "error", err)
					continue
				}

				if uint64(info.Size()) != art.Size {
					if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
						m.log.Warn("scan: remove size-mismatched file failed", "path", path, "error", rmErr)
					}
					continue
				}

				found = append(found, scanEntry{accessTime: info.ModTime().UnixNano(), art: art})
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].accessTime < found[j].accessTime })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentSize = 0
	m.index = lruindex.New[hashid.HashId, artifact.Artifact]()
	for _, s := range found {
		m.index.InsertOrReplace(s.art.Hash, s.art)
		m.currentSize += s.art.Size
	}
	return nil
}

func isHexShard(name string) bool {
	if len(name) != 2 {
		return false
	}
	for _, c := range name {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// scanEntry pairs a scanned artifact with the access-time proxy (mtime)
// used to seed its initial LRU position.
type scanEntry struct {
	accessTime int64
	art        artifact.Artifact
}
