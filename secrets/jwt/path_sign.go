package jwt

import (
	"context"
	"fmt"

	"github.com/stephnangue/jwtsecrets/claims"
	"github.com/stephnangue/jwtsecrets/framework"
	"github.com/stephnangue/jwtsecrets/logical"
)

func (b *jwtBackend) signPaths() []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "sign/" + framework.GenericNameRegex("name"),
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeNameString,
					Description: "Name of the role to sign with.",
					Required:    true,
				},
				"claims": {
					Type:        framework.TypeString,
					Description: "JSON object of caller claims.",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathSign,
					Summary:  "Issue a token",
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathSign,
					Summary:  "Issue a token",
				},
			},
			HelpSynopsis: "Issue a signed token for a role.",
		},
	}
}

func (b *jwtBackend) pathSign(ctx context.Context, _ *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	caller, err := claims.ParseDocument(d.Get("claims").(string))
	if err != nil {
		return respond(logical.NewValidationError(fmt.Sprintf("claims: %v", err)))
	}

	token, err := b.issuer.IssueToken(ctx, d.Get("name").(string), caller)
	if err != nil {
		return respond(err)
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"token": token.Token,
		},
	}, nil
}
