package jwt

import (
	"context"
	"time"

	"github.com/stephnangue/jwtsecrets/framework"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/role"
)

func (b *jwtBackend) rolePaths() []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "role/?$",
			Fields: map[string]*framework.FieldSchema{
				"after": {
					Type:        framework.TypeString,
					Description: "Only list roles sorting after this name.",
				},
				"limit": {
					Type:        framework.TypeInt,
					Description: "Maximum number of roles to return. Zero means no limit.",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathRoleList,
					Summary:  "List roles",
				},
			},
			HelpSynopsis: "List the configured roles.",
		},
		{
			Pattern: "role/" + framework.GenericNameRegex("name"),
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeNameString,
					Description: "Name of the role.",
					Required:    true,
				},
				"defaults": {
					Type:        framework.TypeString,
					Description: "JSON object of claims used unless the caller sets them.",
				},
				"overrides": {
					Type:        framework.TypeString,
					Description: "JSON object of claims that always win over caller claims.",
				},
				"schema": {
					Type:        framework.TypeString,
					Description: "JSON Schema (draft-07) the assembled claims must satisfy.",
				},
				"ttl": {
					Type:        framework.TypeDurationSecond,
					Description: "Lifetime of issued tokens. Defaults to 1h. Must not exceed the mount max_ttl.",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathRoleRead,
					Summary:  "Read a role",
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathRoleWrite,
					Summary:  "Create a role",
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathRoleWrite,
					Summary:  "Replace a role",
				},
				logical.DeleteOperation: &framework.PathOperation{
					Callback: b.pathRoleDelete,
					Summary:  "Delete a role",
				},
			},
			HelpSynopsis:    "Manage token roles.",
			HelpDescription: pathRoleHelp,
		},
	}
}

func (b *jwtBackend) pathRoleList(ctx context.Context, _ *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	after := d.Get("after").(string)
	limit := d.Get("limit").(int)

	var (
		names []string
		err   error
	)
	if after != "" || limit > 0 {
		names, err = b.roles.ListPage(ctx, after, limit)
	} else {
		names, err = b.roles.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	return logical.ListResponse(names), nil
}

func (b *jwtBackend) pathRoleRead(ctx context.Context, _ *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	name := d.Get("name").(string)
	r, err := b.roles.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return logical.ErrorResponse(logical.ErrNotFoundf("role %q not found", name)), nil
	}
	return &logical.Response{Data: r.Map()}, nil
}

func (b *jwtBackend) pathRoleWrite(ctx context.Context, _ *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	r, err := role.Parse(
		d.Get("name").(string),
		d.Get("defaults").(string),
		d.Get("overrides").(string),
		d.Get("schema").(string),
		time.Duration(d.Get("ttl").(int))*time.Second,
	)
	if err != nil {
		return respond(err)
	}
	if err := b.roles.Write(ctx, r); err != nil {
		return respond(err)
	}
	return nil, nil
}

func (b *jwtBackend) pathRoleDelete(ctx context.Context, _ *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	if err := b.roles.Delete(ctx, d.Get("name").(string)); err != nil {
		return nil, err
	}
	return nil, nil
}

const pathRoleHelp = `
A role is written with up to three JSON documents passed as strings:

  defaults   claims applied first; iat, exp, nbf and iss are rejected
  overrides  claims applied last; iat, exp and nbf are rejected
  schema     a draft-07 JSON Schema checked against the merged claims

Caller claims are merged between defaults and overrides using JSON merge
patch semantics. Writing a role replaces every field.

The ttl defaults to 1h. A ttl above the mount max_ttl is rejected rather
than clamped, and the stored role is left unchanged.
`
