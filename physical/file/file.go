package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openbao/openbao/sdk/v2/helper/jsonutil"
	log "github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/physical"
)

func init() {
	physical.Register("file", func(conf map[string]string, logger *log.GatedLogger) (physical.Storage, error) {
		return NewFileBackend(conf, logger)
	})
}

// FileBackend stores each entry as a JSON file below a root directory.
// Key "a/b/c" lives in <path>/a/b/_c, so a directory and a leaf with the
// same name never collide.
type FileBackend struct {
	sync.RWMutex
	path   string
	logger *log.GatedLogger
}

var _ physical.Storage = (*FileBackend)(nil)

type fileEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// NewFileBackend constructs a file backend rooted at conf["path"].
func NewFileBackend(conf map[string]string, logger *log.GatedLogger) (physical.Storage, error) {
	path, ok := conf["path"]
	if !ok || path == "" {
		return nil, errors.New("'path' must be set")
	}
	return &FileBackend{
		path:   path,
		logger: logger,
	}, nil
}

func (b *FileBackend) validatePath(path string) error {
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return physical.ErrRelativePath
		}
	}
	return nil
}

func (b *FileBackend) expandPath(k string) (string, string) {
	path := filepath.Join(b.path, k)
	key := filepath.Base(path)
	path = filepath.Dir(path)
	return path, "_" + key
}

func (b *FileBackend) Put(ctx context.Context, entry *physical.Entry) error {
	if err := b.validatePath(entry.Key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	path, key := b.expandPath(entry.Key)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(&fileEntry{Key: entry.Key, Value: entry.Value})
	if err != nil {
		return err
	}

	// Write to a temp file first so a crash never leaves a torn entry.
	full := filepath.Join(path, key)
	tmp := filepath.Join(path, "."+key+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

func (b *FileBackend) Get(ctx context.Context, k string) (*physical.Entry, error) {
	if err := b.validatePath(k); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.RLock()
	defer b.RUnlock()

	path, key := b.expandPath(k)
	full := filepath.Join(path, key)

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		// Left behind by an interrupted write.
		_ = os.Remove(full)
		return nil, nil
	}

	var entry fileEntry
	if err := jsonutil.DecodeJSONFromReader(f, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", k, err)
	}
	return &physical.Entry{Key: k, Value: entry.Value}, nil
}

func (b *FileBackend) Delete(ctx context.Context, k string) error {
	if k == "" {
		return nil
	}
	if err := b.validatePath(k); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	path, key := b.expandPath(k)
	if err := os.Remove(filepath.Join(path, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %q: %w", k, err)
	}
	b.cleanupLogicalPath(k)
	return nil
}

// cleanupLogicalPath removes directories emptied by a delete, walking up
// towards the root.
func (b *FileBackend) cleanupLogicalPath(k string) {
	segments := strings.Split(k, "/")
	for i := len(segments) - 1; i > 0; i-- {
		dir := filepath.Join(b.path, filepath.Join(segments[:i]...))
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			if b.logger != nil {
				b.logger.Debug("failed to remove empty directory", log.String("path", dir), log.Err(err))
			}
			return
		}
	}
}

func (b *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return b.ListPage(ctx, prefix, "", -1)
}

func (b *FileBackend) ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error) {
	if err := b.validatePath(prefix); err != nil {
		return nil, err
	}

	b.RLock()
	defer b.RUnlock()

	path := b.path
	if prefix != "" {
		path = filepath.Join(path, prefix)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			names = append(names, name+"/")
		case strings.HasPrefix(name, "_"):
			names = append(names, name[1:])
		}
	}
	sort.Strings(names)
	return physical.Page(names, after, limit), nil
}
