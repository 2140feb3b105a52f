package jwtutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/core"
	jwthttp "github.com/stephnangue/jwtsecrets/http"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical/inmem"
	"github.com/stephnangue/jwtsecrets/secrets/jwt"
)

func newTestClient(t *testing.T) (*httptest.Server, *api.Client) {
	t.Helper()
	store, err := inmem.NewInmem(nil, nil)
	require.NoError(t, err)

	c, err := core.NewCore(&core.CoreConfig{
		Physical:        store,
		LogicalBackends: map[string]logical.Factory{jwt.BackendType: jwt.Factory},
	})
	require.NoError(t, err)
	require.NoError(t, c.Mount(context.Background(), &core.MountEntry{Path: "jwt", Type: jwt.BackendType}))

	srv := httptest.NewServer(jwthttp.Handler(&jwthttp.HandlerProperties{Core: c}))
	t.Cleanup(srv.Close)

	conf := api.DefaultConfig()
	conf.Address = srv.URL
	conf.MaxRetries = 0
	client, err := api.NewClient(conf)
	require.NoError(t, err)

	_, err = client.Logical().Write("jwt/role/web", map[string]interface{}{"ttl": 600})
	require.NoError(t, err)
	return srv, client
}

func TestTokenSource(t *testing.T) {
	_, client := newTestClient(t)

	ts, err := NewTokenSource(TokenSourceConfig{
		Role:   "web",
		Claims: map[string]interface{}{"sub": "svc-a"},
		Client: client,
	})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), tok.Expiry, 5*time.Second)

	again, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, again.AccessToken)

	var claims gojwt.RegisteredClaims
	_, _, err = gojwt.NewParser().ParseUnverified(tok.AccessToken, &claims)
	require.NoError(t, err)
	assert.Equal(t, "svc-a", claims.Subject)
}

func TestTokenSource_Errors(t *testing.T) {
	_, client := newTestClient(t)

	_, err := NewTokenSource(TokenSourceConfig{Client: client})
	assert.EqualError(t, err, "token source requires a role")

	_, err = NewTokenSource(TokenSourceConfig{Role: "web"})
	assert.Error(t, err)

	ts, err := NewTokenSource(TokenSourceConfig{Role: "missing", Client: client})
	require.NoError(t, err)
	_, err = ts.Token()
	assert.Error(t, err)
}

func TestKeySource(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	ts, err := NewTokenSource(TokenSourceConfig{Role: "web", Client: client})
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)

	ks, err := NewKeySource(KeySourceConfig{Client: client})
	require.NoError(t, err)
	defer ks.Close()

	parsed, err := gojwt.Parse(tok.AccessToken, ks.Keyfunc(ctx))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	kid, _ := parsed.Header["kid"].(string)
	require.NotEmpty(t, kid)

	// served from cache once the server is gone
	srv.Close()
	key, err := ks.LookupKey(ctx, kid)
	require.NoError(t, err)
	assert.Equal(t, 2048, key.N.BitLen())
}

func TestKeySource_Errors(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	_, err := NewKeySource(KeySourceConfig{})
	assert.Error(t, err)

	ks, err := NewKeySource(KeySourceConfig{Client: client})
	require.NoError(t, err)
	defer ks.Close()

	_, err = ks.LookupKey(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidKID)

	_, err = ks.LookupKey(ctx, "5b4a5f3c-1d2e-4f60-8a7b-9c0d1e2f3a4b")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	hs := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{"sub": "x"})
	signed, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = gojwt.Parse(signed, ks.Keyfunc(ctx))
	assert.ErrorContains(t, err, "unexpected signing method")
}

func TestValidator(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	ts, err := NewTokenSource(TokenSourceConfig{Role: "web", Client: client})
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)

	v, err := NewValidator(ctx, JWKSURL(srv.URL, "jwt"), "")
	require.NoError(t, err)

	claims, err := v.Validate(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Contains(t, claims, "exp")
	assert.Contains(t, claims, "iat")

	_, err = v.Validate(ctx, tok.AccessToken+"x")
	assert.Error(t, err)
}

func TestFetchJWKS(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	set, err := FetchJWKS(ctx, JWKSURL(srv.URL, ""), nil)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	sec, err := client.Logical().List("jwt/key")
	require.NoError(t, err)
	require.NotNil(t, sec)
	kids, _ := sec.Data["keys"].([]interface{})
	require.Len(t, kids, 1)
	assert.Equal(t, kids[0], set.Keys[0].KeyID)

	_, err = FetchJWKS(ctx, srv.URL+"/v1/jwt/nope", nil)
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestJWKSURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8200/v1/jwt/.well-known/jwks.json", JWKSURL("http://127.0.0.1:8200/", ""))
	assert.Equal(t, "https://x/v1/tenant-a/.well-known/jwks.json", JWKSURL("https://x", "/tenant-a/"))
}
