package basic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/cmd/helpers"
	"github.com/stephnangue/jwtsecrets/core"
	jwthttp "github.com/stephnangue/jwtsecrets/http"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical/inmem"
	"github.com/stephnangue/jwtsecrets/secrets/jwt"
)

func setupServer(t *testing.T) {
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

	helpers.SetClient(client)
	t.Cleanup(func() { helpers.SetClient(nil) })
}

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoleLifecycle(t *testing.T) {
	setupServer(t)

	out, err := execute(t, WriteCmd, "", "jwt/role/web", "ttl=600", `defaults={"aud":"web"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Success! Data written to: jwt/role/web")

	out, err = execute(t, ReadCmd, "", "jwt/role/web", "--format", "json")
	require.NoError(t, err)
	var role map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &role))
	assert.Equal(t, float64(600), role["ttl"])
	assert.Equal(t, `{"aud":"web"}`, role["defaults"])

	out, err = execute(t, ListCmd, "", "jwt/role")
	require.NoError(t, err)
	assert.Equal(t, "Keys\n  web\n", out)

	out, err = execute(t, DeleteCmd, "", "jwt/role/web")
	require.NoError(t, err)
	assert.Contains(t, out, "Success!")

	out, err = execute(t, ReadCmd, "", "jwt/role/web")
	require.NoError(t, err)
	assert.Contains(t, out, "No data found at path: jwt/role/web")
}

func TestWriteFromStdin(t *testing.T) {
	setupServer(t)

	_, err := execute(t, WriteCmd, `{"ttl": 60, "overrides": {"iss": "https://issuer.example.com"}}`, "jwt/role/api")
	require.NoError(t, err)

	out, err := execute(t, SignCmd, "", "api", "--format", "claims")
	require.NoError(t, err)
	assert.Contains(t, out, "https://issuer.example.com")
}

func TestWriteRejected(t *testing.T) {
	setupServer(t)

	_, err := execute(t, WriteCmd, "", "jwt/role/bad", `defaults={"exp":1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write to jwt/role/bad")
}

func TestWriteFileRef(t *testing.T) {
	setupServer(t)

	schema := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"type":"object","required":["team"]}`), 0o600))

	_, err := execute(t, WriteCmd, "", "jwt/role/teams", "schema=@"+schema)
	require.NoError(t, err)

	_, err = execute(t, SignCmd, "", "teams", "--format", "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"team" value is required`)

	out, err := execute(t, SignCmd, "", "teams", "team=core", "--format", "claims")
	require.NoError(t, err)
	assert.Contains(t, out, "core")
}

func TestSign(t *testing.T) {
	setupServer(t)
	_, err := execute(t, WriteCmd, "", "jwt/role/web")
	require.NoError(t, err)

	out, err := execute(t, SignCmd, "", "web", "sub=alice", `groups=["a","b"]`, "--format", "token")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	out, err = execute(t, SignCmd, `{"sub": "bob"}`, "web", "--format", "claims")
	require.NoError(t, err)
	assert.Contains(t, out, "bob")

	_, err = execute(t, SignCmd, "", "missing")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	setupServer(t)
	_, err := execute(t, WriteCmd, "", "jwt/role/web")
	require.NoError(t, err)

	token, err := execute(t, SignCmd, "", "web", "sub=carol", "--format", "token")
	require.NoError(t, err)

	out, err := execute(t, VerifyCmd, "", strings.TrimSpace(token))
	require.NoError(t, err)
	assert.Contains(t, out, "Token is valid")
	assert.Contains(t, out, "carol")

	out, err = execute(t, VerifyCmd, token, "--jwks")
	require.NoError(t, err)
	assert.Contains(t, out, "carol")

	_, err = execute(t, VerifyCmd, "", strings.TrimSpace(token)+"x", "--jwks=false")
	assert.ErrorContains(t, err, "token is not valid")

	_, err = execute(t, VerifyCmd, "")
	assert.ErrorContains(t, err, "a token is required")
}

func TestPathHelp(t *testing.T) {
	setupServer(t)

	out, err := execute(t, PathHelpCmd, "", "jwt/")
	require.NoError(t, err)
	assert.Contains(t, out, "role/")
}

func TestReadData(t *testing.T) {
	data, err := readData(nil, []string{"ttl=15m", "max=3", "on=true", `schema={"type":"object"}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"ttl":    "15m",
		"max":    int64(3),
		"on":     true,
		"schema": `{"type":"object"}`,
	}, data)

	data, err = readData(nil, []string{`{"defaults":{"aud":"x"},"ttl":5}`})
	require.NoError(t, err)
	assert.Equal(t, `{"aud":"x"}`, data["defaults"])
	assert.Equal(t, float64(5), data["ttl"])

	data, err = readData(strings.NewReader(`{"ttl": 5}`), []string{"ignored=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ttl": float64(5)}, data)

	_, err = readData(nil, []string{"=x"})
	assert.Error(t, err)

	_, err = readData(nil, []string{"{bad"})
	assert.Error(t, err)
}

func TestInferType(t *testing.T) {
	assert.Equal(t, int64(42), inferType("42"))
	assert.Equal(t, 1.5, inferType("1.5"))
	assert.Equal(t, false, inferType("false"))
	assert.Equal(t, "web", inferType("web"))
	assert.Equal(t, `["a"]`, inferType(`["a"]`))
}
