package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stephnangue/jwtsecrets/framework"
	"github.com/stephnangue/jwtsecrets/logical"
)

func (b *jwtBackend) keyPaths() []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "key/?$",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathKeyList,
					Summary:  "List published key ids",
				},
			},
			HelpSynopsis: "List the kids of published public keys.",
		},
		{
			Pattern: "key/" + framework.GenericNameRegex("kid"),
			Fields: map[string]*framework.FieldSchema{
				"kid": {
					Type:        framework.TypeString,
					Description: "Key id from the token header.",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathKeyRead,
					Summary:  "Read a public key",
				},
			},
			HelpSynopsis: "Read the PEM encoded public key for a kid.",
		},
		{
			Pattern: "jwks",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathJWKS,
					Summary:  "Read the JWK set",
				},
			},
			HelpSynopsis: "Read the published keys as a JWK set.",
		},
		{
			Pattern: `\.well-known/jwks\.json`,
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathWellKnownJWKS,
					Summary:  "Read the raw JWK set",
				},
			},
			HelpSynopsis: "Serve the JWK set in the shape standard verifiers expect.",
		},
		{
			Pattern: "rotate",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathRotate,
					Summary:  "Rotate the signing key",
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathRotate,
					Summary:  "Rotate the signing key",
				},
			},
			HelpSynopsis: "Make a new key the active signing key.",
		},
		{
			Pattern: "tidy",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathTidy,
					Summary:  "Remove expired keys",
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathTidy,
					Summary:  "Remove expired keys",
				},
			},
			HelpSynopsis: "Delete keys no outstanding token can be verified with.",
		},
	}
}

func (b *jwtBackend) pathKeyList(ctx context.Context, _ *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	pubs, err := b.keys.ListPublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	kids := make([]string, 0, len(pubs))
	for _, p := range pubs {
		kids = append(kids, p.KID)
	}
	return logical.ListResponse(kids), nil
}

func (b *jwtBackend) pathKeyRead(ctx context.Context, _ *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	pub, err := b.keys.GetPublicKey(ctx, d.Get("kid").(string))
	if err != nil {
		return respond(err)
	}
	return &logical.Response{
		Data: map[string]interface{}{
			"public":     pub.PEM,
			"expires_at": pub.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (b *jwtBackend) pathJWKS(ctx context.Context, _ *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	set, err := b.keys.JWKS(ctx)
	if err != nil {
		return nil, err
	}
	return &logical.Response{
		Data: map[string]interface{}{
			"keys": set.Keys,
		},
	}, nil
}

func (b *jwtBackend) pathWellKnownJWKS(ctx context.Context, _ *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	set, err := b.keys.JWKS(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JWK set: %w", err)
	}
	resp := logical.RawResponse("application/json", body)
	resp.SetHeader("Cache-Control", "max-age=300")
	return resp, nil
}

func (b *jwtBackend) pathRotate(ctx context.Context, _ *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	key, err := b.keys.Rotate(ctx)
	if err != nil {
		return nil, err
	}
	return &logical.Response{
		Data: map[string]interface{}{
			"kid":        key.KID,
			"expires_at": key.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (b *jwtBackend) pathTidy(ctx context.Context, _ *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	removed, err := b.keys.Tidy(ctx)
	if err != nil {
		return nil, err
	}
	if removed == nil {
		removed = []string{}
	}
	return &logical.Response{
		Data: map[string]interface{}{
			"removed": removed,
		},
	}, nil
}
