// Package inmem is a radix tree storage that lives in process memory. The
// dev server and most tests run on it.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/armon/go-radix"
	"github.com/hashicorp/go-secure-stdlib/parseutil"

	log "github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/physical"
)

var (
	ErrPutDisabled    = errors.New("put operations disabled in inmem storage")
	ErrGetDisabled    = errors.New("get operations disabled in inmem storage")
	ErrDeleteDisabled = errors.New("delete operations disabled in inmem storage")
	ErrListDisabled   = errors.New("list operations disabled in inmem storage")
)

func init() {
	physical.Register("inmem", func(conf map[string]string, logger *log.GatedLogger) (physical.Storage, error) {
		return NewInmem(conf, logger)
	})
}

// InmemStorage keeps entries in a radix tree guarded by one lock.
type InmemStorage struct {
	mu   sync.RWMutex
	tree *radix.Tree

	maxValueSize int
	logger       *log.GatedLogger
	traceOps     bool

	failPut, failGet, failDelete, failList atomic.Bool
}

var _ physical.Storage = (*InmemStorage)(nil)

// NewInmem returns an empty storage. The only option is max_value_size, in
// bytes. Setting JWTSECRETS_INMEM_LOG_ALL_OPS traces every operation.
func NewInmem(conf map[string]string, logger *log.GatedLogger) (*InmemStorage, error) {
	s := &InmemStorage{
		tree:     radix.New(),
		logger:   logger,
		traceOps: logger != nil && os.Getenv("JWTSECRETS_INMEM_LOG_ALL_OPS") != "",
	}
	if raw, ok := conf["max_value_size"]; ok {
		n, err := parseutil.ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid max_value_size: %w", err)
		}
		s.maxValueSize = int(n)
	}
	return s, nil
}

// begin runs the checks shared by every operation.
func (s *InmemStorage) begin(ctx context.Context, op, key string, fail *atomic.Bool, disabled error) error {
	if s.traceOps {
		s.logger.Trace(op, log.String("key", key))
	}
	if fail.Load() {
		return disabled
	}
	return ctx.Err()
}

func (s *InmemStorage) Put(ctx context.Context, entry *physical.Entry) error {
	if err := s.begin(ctx, "put", entry.Key, &s.failPut, ErrPutDisabled); err != nil {
		return err
	}
	if s.maxValueSize > 0 && len(entry.Value) > s.maxValueSize {
		return physical.ErrValueTooLarge
	}

	value := append([]byte(nil), entry.Value...)
	s.mu.Lock()
	s.tree.Insert(entry.Key, value)
	s.mu.Unlock()
	return nil
}

func (s *InmemStorage) Get(ctx context.Context, key string) (*physical.Entry, error) {
	if err := s.begin(ctx, "get", key, &s.failGet, ErrGetDisabled); err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, ok := s.tree.Get(key)
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &physical.Entry{Key: key, Value: append([]byte(nil), raw.([]byte)...)}, nil
}

func (s *InmemStorage) Delete(ctx context.Context, key string) error {
	if err := s.begin(ctx, "delete", key, &s.failDelete, ErrDeleteDisabled); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree.Delete(key)
	s.mu.Unlock()
	return nil
}

func (s *InmemStorage) List(ctx context.Context, prefix string) ([]string, error) {
	return s.ListPage(ctx, prefix, "", -1)
}

// ListPage walks the keys under prefix in order and reports each
// immediate child once, sub-trees with a trailing "/".
func (s *InmemStorage) ListPage(ctx context.Context, prefix, after string, limit int) ([]string, error) {
	if err := s.begin(ctx, "list", prefix, &s.failList, ErrListDisabled); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	s.tree.WalkPrefix(prefix, func(key string, _ interface{}) bool {
		child := strings.TrimPrefix(key, prefix)
		if i := strings.IndexByte(child, '/'); i >= 0 {
			child = child[:i+1]
		}
		if child <= after && after != "" {
			return false
		}
		if n := len(out); n > 0 && out[n-1] == child {
			return false
		}
		out = append(out, child)
		return limit > 0 && len(out) >= limit
	})
	return out, nil
}

// FailPut makes Put fail with ErrPutDisabled until reset. The other Fail
// methods do the same for their operation.
func (s *InmemStorage) FailPut(fail bool) { s.failPut.Store(fail) }

func (s *InmemStorage) FailGet(fail bool) { s.failGet.Store(fail) }

func (s *InmemStorage) FailDelete(fail bool) { s.failDelete.Store(fail) }

func (s *InmemStorage) FailList(fail bool) { s.failList.Store(fail) }
