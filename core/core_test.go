package core

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical/inmem"
	"github.com/stephnangue/jwtsecrets/secrets/jwt"
)

func newTestCore(t *testing.T) (*Core, *inmem.InmemStorage) {
	t.Helper()
	store, err := inmem.NewInmem(nil, nil)
	require.NoError(t, err)
	c, err := NewCore(&CoreConfig{
		Physical: store,
		LogicalBackends: map[string]logical.Factory{
			jwt.BackendType: jwt.Factory,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c, store
}

func TestNewCore_RequiresStorage(t *testing.T) {
	_, err := NewCore(&CoreConfig{})
	assert.Error(t, err)
}

func TestCore_MountAndRoute(t *testing.T) {
	c, store := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.Mount(ctx, &MountEntry{Path: "/jwt", Type: "jwt"}))
	mounts := c.Mounts()
	require.Len(t, mounts, 1)
	assert.Equal(t, "jwt/", mounts[0].Path)
	assert.NotEmpty(t, mounts[0].Accessor)
	assert.Equal(t, "v1/jwt/", mounts[0].APIPath())

	req := &logical.Request{
		Operation: logical.CreateOperation,
		Path:      "jwt/role/web",
		Data:      map[string]interface{}{"defaults": `{"team":"web"}`},
	}
	resp, err := c.HandleRequest(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "jwt/", req.MountPoint)
	assert.Equal(t, "role/web", req.Path)
	assert.Equal(t, "jwt", req.MountType)

	entry, err := store.Get(ctx, "logical/jwt/role/web")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	resp, err = c.HandleRequest(ctx, &logical.Request{
		Operation: logical.ReadOperation,
		Path:      "jwt/role/web",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"team":"web"}`, resp.Data["defaults"])
}

func TestCore_MountsAreIsolated(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.Mount(ctx, &MountEntry{Path: "a", Type: "jwt"}))
	require.NoError(t, c.Mount(ctx, &MountEntry{Path: "b", Type: "jwt"}))

	_, err := c.HandleRequest(ctx, &logical.Request{
		Operation: logical.UpdateOperation,
		Path:      "a/role/only-a",
	})
	require.NoError(t, err)

	resp, err := c.HandleRequest(ctx, &logical.Request{
		Operation: logical.ReadOperation,
		Path:      "b/role/only-a",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCore_MountErrors(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.Mount(ctx, &MountEntry{Path: "jwt", Type: "jwt"}))

	tests := []struct {
		name  string
		entry *MountEntry
	}{
		{"nil", nil},
		{"empty path", &MountEntry{Path: "/", Type: "jwt"}},
		{"reserved", &MountEntry{Path: "sys/x", Type: "jwt"}},
		{"traversal", &MountEntry{Path: "a/../b", Type: "jwt"}},
		{"duplicate", &MountEntry{Path: "jwt", Type: "jwt"}},
		{"nested", &MountEntry{Path: "jwt/inner", Type: "jwt"}},
		{"unknown type", &MountEntry{Path: "other", Type: "kv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Mount(ctx, tt.entry)
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, logical.GetErrorCode(err))
		})
	}

	err := c.Mount(ctx, &MountEntry{Path: "bad", Type: "jwt", Config: map[string]string{"max_ttl": "nope"}})
	assert.ErrorContains(t, err, "invalid max_ttl")
	assert.Len(t, c.Mounts(), 1)
}

func TestCore_UnsupportedPath(t *testing.T) {
	c, _ := newTestCore(t)
	_, err := c.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.ReadOperation,
		Path:      "nothing/here",
	})
	assert.ErrorIs(t, err, logical.ErrUnsupportedPath)
}

func TestCore_Unmount(t *testing.T) {
	c, store := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.Mount(ctx, &MountEntry{Path: "jwt", Type: "jwt"}))
	_, err := c.HandleRequest(ctx, &logical.Request{Operation: logical.UpdateOperation, Path: "jwt/role/r"})
	require.NoError(t, err)

	require.NoError(t, c.Unmount(ctx, "jwt"))
	assert.Empty(t, c.Mounts())
	assert.Equal(t, http.StatusNotFound, logical.GetErrorCode(c.Unmount(ctx, "jwt")))

	// Data survives and a remount serves it again.
	entry, err := store.Get(ctx, "logical/jwt/role/r")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	require.NoError(t, c.Mount(ctx, &MountEntry{Path: "jwt", Type: "jwt"}))
	resp, err := c.HandleRequest(ctx, &logical.Request{Operation: logical.ReadOperation, Path: "jwt/role/r"})
	require.NoError(t, err)
	assert.Equal(t, "r", resp.Data["name"])
}

func TestRouter_Match(t *testing.T) {
	c, _ := newTestCore(t)
	require.NoError(t, c.Mount(context.Background(), &MountEntry{Path: "jwt", Type: "jwt"}))

	re, rel, ok := c.router.Match("jwt")
	require.True(t, ok)
	assert.Equal(t, "jwt/", re.mountEntry.Path)
	assert.Equal(t, "", rel)

	_, rel, ok = c.router.Match("jwt/.well-known/jwks.json")
	require.True(t, ok)
	assert.Equal(t, ".well-known/jwks.json", rel)

	_, _, ok = c.router.Match("jwtx/role")
	assert.False(t, ok)
}
