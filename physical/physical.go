// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package physical

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stephnangue/jwtsecrets/logger"
)

var (
	// ErrRelativePath is returned when a key contains a path traversal.
	ErrRelativePath = errors.New("relative paths not supported")

	// ErrValueTooLarge is returned when a backend rejects an oversized value.
	ErrValueTooLarge = errors.New("put failed due to value being too large")
)

// Entry is a single key/value pair held by a Storage.
type Entry struct {
	Key   string
	Value []byte
}

// Storage is the minimal interface every physical backend implements.
// Keys are slash separated; List returns the immediate children of a
// prefix, with a trailing "/" on keys that are themselves prefixes.
type Storage interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error)
}

// Factory is the factory function to create a storage.
type Factory func(conf map[string]string, log *logger.GatedLogger) (Storage, error)

var (
	factoriesLock sync.RWMutex
	factories     = map[string]Factory{}
)

// Register makes a backend available under the given storage type.
// Backends call it from init.
func Register(name string, factory Factory) {
	factoriesLock.Lock()
	defer factoriesLock.Unlock()
	factories[name] = factory
}

// New creates a storage of the registered type.
func New(name string, conf map[string]string, log *logger.GatedLogger) (Storage, error) {
	factoriesLock.RLock()
	factory, ok := factories[name]
	factoriesLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage type %q", name)
	}
	return factory(conf, log)
}

// Registered returns the sorted names of all registered backends.
func Registered() []string {
	factoriesLock.RLock()
	defer factoriesLock.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckKey rejects keys that could escape a prefix.
func CheckKey(key string) error {
	if strings.Contains(key, "..") {
		return ErrRelativePath
	}
	return nil
}

// Children reduces a sorted list of full keys under prefix to its
// immediate children, the way List is expected to report them.
func Children(prefix string, keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i+1]
		}
		if _, ok := seen[rest]; ok {
			continue
		}
		seen[rest] = struct{}{}
		out = append(out, rest)
	}
	sort.Strings(out)
	return out
}

// Page applies after/limit paging to a sorted key list. A non-positive
// limit returns everything after the marker.
func Page(keys []string, after string, limit int) []string {
	if after != "" {
		idx := sort.SearchStrings(keys, after)
		if idx < len(keys) && keys[idx] == after {
			idx++
		}
		keys = keys[idx:]
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
