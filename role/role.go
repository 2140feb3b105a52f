package role

import (
	"fmt"
	"strings"
	"time"

	"github.com/stephnangue/jwtsecrets/claims"
	"github.com/stephnangue/jwtsecrets/logical"
)

const (
	// DefaultTTL applies when a role sets no ttl or a non-positive one.
	DefaultTTL = time.Hour

	// DefaultMaxTTL caps role ttls unless the mount configures another cap.
	DefaultMaxTTL = 24 * time.Hour
)

// Role describes how tokens issued under its name are assembled.
type Role struct {
	Name      string
	Defaults  claims.Document
	Overrides claims.Document
	Schema    claims.Document
	TTL       time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Parse builds a role from the raw documents sent by a client. Malformed
// documents are reported together as a *logical.ValidationError.
func Parse(name, defaults, overrides, schema string, ttl time.Duration) (*Role, error) {
	r := &Role{Name: name, TTL: ttl}
	verr := &logical.ValidationError{}

	if strings.TrimSpace(name) == "" {
		verr.Add("name: must not be empty")
	}
	for _, doc := range []struct {
		field string
		raw   string
		dst   *claims.Document
	}{
		{"defaults", defaults, &r.Defaults},
		{"overrides", overrides, &r.Overrides},
		{"schema", schema, &r.Schema},
	} {
		parsed, err := claims.ParseDocument(doc.raw)
		if err != nil {
			verr.Add(fmt.Sprintf("%s: %v", doc.field, err))
			continue
		}
		*doc.dst = parsed
	}

	if verr.Len() > 0 {
		return nil, verr
	}
	return r, nil
}

func (r *Role) ClaimDefaults() claims.Document  { return r.Defaults }
func (r *Role) ClaimOverrides() claims.Document { return r.Overrides }
func (r *Role) ClaimSchema() claims.Document    { return r.Schema }
func (r *Role) TokenTTL() time.Duration         { return r.TTL }

// Map renders the role the way the read endpoint returns it.
func (r *Role) Map() map[string]interface{} {
	return map[string]interface{}{
		"name":      r.Name,
		"defaults":  r.Defaults.String(),
		"overrides": r.Overrides.String(),
		"schema":    r.Schema.String(),
		"ttl":       int64(r.TTL / time.Second),
	}
}

// Validate normalizes the ttl and checks the role documents. A ttl under
// one second becomes DefaultTTL. maxTTL <= 0 means DefaultMaxTTL.
func (r *Role) Validate(maxTTL time.Duration) error {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	if r.TTL < time.Second {
		r.TTL = DefaultTTL
	}

	verr := logical.NewValidationError(claims.CheckRole(r.Defaults, r.Overrides, r.Schema)...)
	if r.TTL > maxTTL {
		if verr == nil {
			verr = &logical.ValidationError{}
		}
		verr.Add(fmt.Sprintf("ttl: must not exceed %d", int64(maxTTL/time.Second)))
	}
	if verr != nil {
		return verr
	}
	return nil
}
