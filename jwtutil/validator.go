package jwtutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	capjwt "github.com/hashicorp/cap/jwt"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/stephnangue/jwtsecrets/keys"
)

// JWKSURL returns the public key set endpoint of a mount served at addr.
func JWKSURL(addr, mount string) string {
	if mount == "" {
		mount = DefaultMount
	}
	return strings.TrimSuffix(addr, "/") + "/v1/" + strings.Trim(mount, "/") + "/.well-known/jwks.json"
}

// FetchJWKS downloads the key set at url, retrying on connection errors
// and 5xx responses.
func FetchJWKS(ctx context.Context, url string, log hclog.Logger) (*jose.JSONWebKeySet, error) {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = log

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}
	return &set, nil
}

// Validator verifies tokens against the live key set of a mount.
type Validator struct {
	v *capjwt.Validator
}

// NewValidator builds a validator over the JWKS endpoint at url. caPEM may
// be empty to use the system roots.
func NewValidator(ctx context.Context, url, caPEM string) (*Validator, error) {
	keySet, err := capjwt.NewJSONWebKeySet(ctx, url, caPEM)
	if err != nil {
		return nil, err
	}
	v, err := capjwt.NewValidator(keySet)
	if err != nil {
		return nil, err
	}
	return &Validator{v: v}, nil
}

// Validate checks the signature and time claims of token and returns its
// claims. audiences is optional; when given, aud must contain one of them.
func (v *Validator) Validate(ctx context.Context, token string, audiences ...string) (map[string]interface{}, error) {
	return v.v.Validate(ctx, token, capjwt.Expected{
		Audiences:         audiences,
		SigningAlgorithms: []capjwt.Alg{capjwt.Alg(keys.Algorithm)},
	})
}
