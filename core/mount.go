package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-uuid"

	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical"
)

// logicalPrefix is where mount storage views live in physical storage.
const logicalPrefix = "logical/"

// MountEntry describes one mounted backend.
type MountEntry struct {
	Path     string            // mount path with a trailing slash, e.g. "jwt/"
	Type     string            // backend type, e.g. "jwt"
	Config   map[string]string // passed to the backend factory
	Accessor string            // unique id generated when mounted
}

// APIPath returns the path the mount is served under.
func (e *MountEntry) APIPath() string {
	return "v1/" + e.Path
}

func sanitizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	return path + "/"
}

// viewPrefix is the storage prefix of the mount. It is derived from the
// mount path so a restart with the same configuration finds its data.
func (e *MountEntry) viewPrefix() string {
	return logicalPrefix + e.Path
}

// Mount creates a backend of entry.Type and serves it under entry.Path.
func (c *Core) Mount(ctx context.Context, entry *MountEntry) error {
	if entry == nil {
		return logical.ErrBadRequest("missing mount entry")
	}
	entry.Path = sanitizePath(entry.Path)
	if entry.Path == "" {
		return logical.ErrBadRequest("mount path must not be empty")
	}
	if strings.HasPrefix(entry.Path, "sys/") {
		return logical.ErrBadRequestf("cannot mount under reserved path %q", entry.Path)
	}
	if err := physical.CheckKey(entry.Path); err != nil {
		return logical.WrapWithCode(http.StatusBadRequest, err)
	}
	if existing := c.router.MatchingMount(entry.Path); existing != "" {
		return logical.ErrBadRequestf("path is already in use at %s", existing)
	}

	factory, ok := c.factories[entry.Type]
	if !ok {
		return logical.ErrBadRequestf("unknown backend type %q", entry.Type)
	}

	if entry.Accessor == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return fmt.Errorf("failed to generate mount accessor: %w", err)
		}
		entry.Accessor = entry.Type + "_" + id[:8]
	}

	view := physical.NewLogicalStorage(physical.NewView(c.physical, entry.viewPrefix()))
	log := c.logger.WithSystem("mount").WithFields(logger.String("mount_path", entry.Path))

	backend, err := factory(ctx, &logical.BackendConfig{
		StorageView: view,
		Logger:      log,
		Config:      entry.Config,
		MetricsSink: c.sink,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s backend at %s: %w", entry.Type, entry.Path, err)
	}

	if init, ok := backend.(interface{ Initialize(context.Context) error }); ok {
		if err := init.Initialize(ctx); err != nil {
			backend.Cleanup(ctx)
			return fmt.Errorf("failed to initialize %s backend at %s: %w", entry.Type, entry.Path, err)
		}
	}

	if err := c.router.Mount(entry, backend, view); err != nil {
		backend.Cleanup(ctx)
		return err
	}
	return nil
}

// Unmount stops serving the backend at path. Its stored data is kept.
func (c *Core) Unmount(ctx context.Context, path string) error {
	re := c.router.Unmount(sanitizePath(path))
	if re == nil {
		return logical.ErrNotFoundf("no mount at %q", path)
	}
	re.backend.Cleanup(ctx)
	return nil
}

// Mounts returns the mounted entries sorted by path.
func (c *Core) Mounts() []*MountEntry {
	return c.router.Entries()
}
