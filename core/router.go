package core

import (
	"fmt"
	"strings"
	"sync"

	"github.com/armon/go-radix"

	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical"
)

// routeEntry is a mounted backend and its storage.
type routeEntry struct {
	mountEntry *MountEntry
	backend    logical.Backend
	storage    *physical.LogicalStorage
}

// Router maps request paths to mounted backends by longest prefix.
type Router struct {
	root *radix.Tree // mount path -> *routeEntry
	mu   sync.RWMutex

	logger *logger.GatedLogger
}

// NewRouter returns an empty router.
func NewRouter(log *logger.GatedLogger) *Router {
	return &Router{
		root:   radix.New(),
		logger: log,
	}
}

// Mount registers backend under entry.Path.
func (r *Router) Mount(entry *MountEntry, backend logical.Backend, storage *physical.LogicalStorage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.root.Get(entry.Path); exists {
		return fmt.Errorf("path %s is already mounted", entry.Path)
	}
	r.root.Insert(entry.Path, &routeEntry{
		mountEntry: entry,
		backend:    backend,
		storage:    storage,
	})

	r.logger.Info("backend mounted",
		logger.String("mount_path", entry.Path),
		logger.String("type", entry.Type),
	)
	return nil
}

// Unmount removes the mount at mountPath and returns its entry, or nil
// when nothing is mounted there.
func (r *Router) Unmount(mountPath string) *routeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok := r.root.Get(mountPath)
	if !ok {
		return nil
	}
	r.root.Delete(mountPath)

	r.logger.Info("backend unmounted", logger.String("mount_path", mountPath))
	return raw.(*routeEntry)
}

// Match returns the route serving path and the path relative to the
// mount. A path naming the mount without its trailing slash matches it.
func (r *Router) Match(path string) (*routeEntry, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := path
	mount, raw, ok := r.root.LongestPrefix(search)
	if !ok && !strings.HasSuffix(search, "/") {
		search += "/"
		mount, raw, ok = r.root.LongestPrefix(search)
	}
	if !ok {
		return nil, "", false
	}
	return raw.(*routeEntry), strings.TrimPrefix(search, mount), true
}

// MatchingMount returns the mount path that serves path, or "".
func (r *Router) MatchingMount(path string) string {
	re, _, ok := r.Match(path)
	if !ok {
		return ""
	}
	return re.mountEntry.Path
}

// Entries returns every mounted entry sorted by path.
func (r *Router) Entries() []*MountEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*MountEntry
	r.root.Walk(func(_ string, raw interface{}) bool {
		out = append(out, raw.(*routeEntry).mountEntry)
		return false
	})
	return out
}
