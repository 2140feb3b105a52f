package jwtutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/vault/api"
	"golang.org/x/oauth2"
)

var ErrNoToken = errors.New("no token returned")

type TokenSourceConfig struct {
	// Mount path of the jwt backend. Defaults to "jwt".
	Mount string

	// Role to sign with.
	Role string

	// Claims sent with every sign request.
	Claims map[string]interface{}

	Client *api.Client

	// Context bounds every sign request. Defaults to context.Background.
	Context context.Context
}

type tokenSource struct {
	ctx    context.Context
	path   string
	claims string
	client *api.Client
}

var _ oauth2.TokenSource = (*tokenSource)(nil)

// NewTokenSource returns a token source that signs a new token for the
// role whenever the previous one is about to expire.
func NewTokenSource(conf TokenSourceConfig) (oauth2.TokenSource, error) {
	if conf.Client == nil {
		return nil, errors.New("token source requires an api client")
	}
	if conf.Role == "" {
		return nil, errors.New("token source requires a role")
	}
	if conf.Mount == "" {
		conf.Mount = DefaultMount
	}
	if conf.Context == nil {
		conf.Context = context.Background()
	}

	ts := &tokenSource{
		ctx:    conf.Context,
		path:   path.Join(conf.Mount, "sign", conf.Role),
		client: conf.Client,
	}
	if conf.Claims != nil {
		claims, err := json.Marshal(conf.Claims)
		if err != nil {
			return nil, fmt.Errorf("failed to encode claims: %w", err)
		}
		ts.claims = string(claims)
	}

	return oauth2.ReuseTokenSource(nil, ts), nil
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	data := map[string]interface{}{}
	if ts.claims != "" {
		data["claims"] = ts.claims
	}

	sec, err := ts.client.Logical().WriteWithContext(ts.ctx, ts.path, data)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, ErrNoToken
	}
	token, _ := sec.Data["token"].(string)
	if token == "" {
		return nil, ErrNoToken
	}

	var claims gojwt.RegisteredClaims
	if _, _, err := gojwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse issued token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("issued token has no exp claim")
	}

	return &oauth2.Token{
		TokenType:   "Bearer",
		AccessToken: token,
		Expiry:      claims.ExpiresAt.Time,
	}, nil
}
