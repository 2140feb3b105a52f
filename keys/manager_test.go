package keys

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	capjwt "github.com/hashicorp/cap/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical"
	"github.com/stephnangue/jwtsecrets/physical/inmem"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, conf Config) (*Manager, *inmem.InmemStorage) {
	t.Helper()
	backend, err := inmem.NewInmem(nil, nil)
	require.NoError(t, err)
	m, err := NewManager(physical.NewLogicalStorage(physical.NewView(backend, "logical/jwt/")), conf)
	require.NoError(t, err)
	return m, backend
}

func testClaims() map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"sub": "alice",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestGetOrCreateKey_Idempotent(t *testing.T) {
	m, backend := newTestManager(t, Config{})
	ctx := context.Background()

	k1, err := m.GetOrCreateKey(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "kid-1", k1.KID)
	assert.Equal(t, "RS256", k1.Algorithm)
	assert.Equal(t, KeyBits, k1.Public().N.BitLen())

	k2, err := m.GetOrCreateKey(ctx, "kid-1")
	require.NoError(t, err)
	assert.Same(t, k1, k2)

	// A fresh manager on the same storage loads the persisted key.
	other, err := NewManager(physical.NewLogicalStorage(physical.NewView(backend, "logical/jwt/")), Config{})
	require.NoError(t, err)
	k3, err := other.GetOrCreateKey(ctx, "kid-1")
	require.NoError(t, err)
	assert.True(t, k1.Public().Equal(k3.Public()))

	entry, err := backend.Get(ctx, "logical/jwt/privatekey/kid-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	entry, err = backend.Get(ctx, "logical/jwt/key/kid-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestGetOrCreateKey_ConcurrentFirstUse(t *testing.T) {
	m, backend := newTestManager(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*SigningKey, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := m.GetOrCreateKey(ctx, "shared")
			assert.NoError(t, err)
			results[i] = k
		}(i)
	}
	wg.Wait()

	for _, k := range results[1:] {
		require.NotNil(t, k)
		assert.True(t, results[0].Public().Equal(k.Public()))
	}

	keys, err := backend.List(ctx, "logical/jwt/privatekey/")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, keys)
}

func TestGetOrCreateKey_InvalidKID(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	for _, kid := range []string{"", "a/b", ".."} {
		_, err := m.GetOrCreateKey(context.Background(), kid)
		assert.Equal(t, 400, logical.GetErrorCode(err), kid)
	}
}

func TestSign_VerifiesWithPublishedKey(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	token, err := m.Sign(ctx, "kid-1", testClaims())
	require.NoError(t, err)

	pub, err := m.GetPublicKey(ctx, "kid-1")
	require.NoError(t, err)
	rsaPub, err := pub.RSA()
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		assert.Equal(t, "kid-1", tok.Header["kid"])
		return rsaPub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	ks, err := capjwt.NewStaticKeySet([]crypto.PublicKey{rsaPub})
	require.NoError(t, err)
	v, err := capjwt.NewValidator(ks)
	require.NoError(t, err)
	claims, err := v.Validate(ctx, token, capjwt.Expected{SigningAlgorithms: []capjwt.Alg{capjwt.RS256}})
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])

	wrong, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	wrongSet, err := capjwt.NewStaticKeySet([]crypto.PublicKey{&wrong.PublicKey})
	require.NoError(t, err)
	wv, err := capjwt.NewValidator(wrongSet)
	require.NoError(t, err)
	_, err = wv.Validate(ctx, token, capjwt.Expected{SigningAlgorithms: []capjwt.Alg{capjwt.RS256}})
	assert.Error(t, err)

	other, err := m.GetOrCreateKey(ctx, "kid-2")
	require.NoError(t, err)
	_, err = jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return other.Public(), nil })
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestGetPublicKey_NotFound(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.GetPublicKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 404, logical.GetErrorCode(err))
}

func TestCurrent_RotatesOnExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, backend := newTestManager(t, Config{KeyTTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	k1, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), k1.ExpiresAt)

	again, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, k1.KID, again.KID)

	entry, err := backend.Get(ctx, "logical/jwt/config/current")
	require.NoError(t, err)
	var ptr currentPointer
	require.NoError(t, json.Unmarshal(entry.Value, &ptr))
	assert.Equal(t, k1.KID, ptr.KID)

	clock.Advance(time.Hour)
	k2, err := m.Current(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, k1.KID, k2.KID)

	// The old public key stays published.
	_, err = m.GetPublicKey(ctx, k1.KID)
	require.NoError(t, err)
}

func TestCurrent_SharedStorage(t *testing.T) {
	backend, err := inmem.NewInmem(nil, nil)
	require.NoError(t, err)
	view := physical.NewLogicalStorage(physical.NewView(backend, "logical/jwt/"))

	a, err := NewManager(view, Config{})
	require.NoError(t, err)
	b, err := NewManager(view, Config{})
	require.NoError(t, err)

	ka, err := a.Current(context.Background())
	require.NoError(t, err)
	kb, err := b.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ka.KID, kb.KID)
}

func TestRotate(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	k1, err := m.Current(ctx)
	require.NoError(t, err)
	k2, err := m.Rotate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, k1.KID, k2.KID)

	cur, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, k2.KID, cur.KID)

	pubs, err := m.ListPublicKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, pubs, 2)

	set, err := m.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, set.Keys, 2)
	for _, jwk := range set.Keys {
		assert.Equal(t, "RS256", jwk.Algorithm)
		assert.Equal(t, "sig", jwk.Use)
		assert.True(t, jwk.Valid())
	}
	assert.Len(t, set.Key(k1.KID), 1)
	assert.Len(t, set.Key(k2.KID), 1)
}

func TestTidy(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, backend := newTestManager(t, Config{KeyTTL: time.Hour, MaxTTL: 2 * time.Hour, Now: clock.Now})
	ctx := context.Background()

	old, err := m.Current(ctx)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	removed, err := m.Tidy(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed, "tokens signed by the old key may still be valid")

	current, err := m.Current(ctx)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	removed, err = m.Tidy(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{old.KID}, removed)

	_, err = m.GetPublicKey(ctx, old.KID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	entry, err := backend.Get(ctx, "logical/jwt/privatekey/"+old.KID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = m.GetPublicKey(ctx, current.KID)
	assert.NoError(t, err)
}

func TestStorageFailure(t *testing.T) {
	m, backend := newTestManager(t, Config{})
	backend.FailPut(true)
	_, err := m.Current(context.Background())
	require.Error(t, err)
	assert.Equal(t, 500, logical.GetErrorCode(err))
}
