// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package physical

import (
	"context"
	"strings"
)

// View scopes a Storage to a key prefix. Views nest.
type View struct {
	backend Storage
	prefix  string
}

var _ Storage = (*View)(nil)

// NewView returns a view of backend rooted at prefix.
func NewView(backend Storage, prefix string) *View {
	return &View{
		backend: backend,
		prefix:  prefix,
	}
}

func (v *View) List(ctx context.Context, prefix string) ([]string, error) {
	if err := CheckKey(prefix); err != nil {
		return nil, err
	}
	return v.backend.List(ctx, v.expandKey(prefix))
}

func (v *View) ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error) {
	if err := CheckKey(prefix); err != nil {
		return nil, err
	}
	return v.backend.ListPage(ctx, v.expandKey(prefix), after, limit)
}

func (v *View) Get(ctx context.Context, key string) (*Entry, error) {
	if err := CheckKey(key); err != nil {
		return nil, err
	}
	entry, err := v.backend.Get(ctx, v.expandKey(key))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	out := &Entry{Key: v.truncateKey(entry.Key)}
	if entry.Value != nil {
		out.Value = make([]byte, len(entry.Value))
		copy(out.Value, entry.Value)
	}
	return out, nil
}

func (v *View) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	if err := CheckKey(entry.Key); err != nil {
		return err
	}
	return v.backend.Put(ctx, &Entry{
		Key:   v.expandKey(entry.Key),
		Value: entry.Value,
	})
}

func (v *View) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	return v.backend.Delete(ctx, v.expandKey(key))
}

// Prefix returns the prefix of the view.
func (v *View) Prefix() string {
	return v.prefix
}

func (v *View) expandKey(suffix string) string {
	return v.prefix + suffix
}

func (v *View) truncateKey(full string) string {
	return strings.TrimPrefix(full, v.prefix)
}
