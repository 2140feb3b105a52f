package claims

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/qri-io/jsonschema"

	"github.com/stephnangue/jwtsecrets/helper"
	"github.com/stephnangue/jwtsecrets/logical"
)

const (
	// DefaultSchemaCacheSize is the number of compiled role schemas kept.
	DefaultSchemaCacheSize = 256

	// NotBeforeSkew is how far nbf is set in the past.
	NotBeforeSkew = 5 * time.Minute
)

// RoleView is what the assembler needs from a role.
type RoleView interface {
	ClaimDefaults() Document
	ClaimOverrides() Document
	ClaimSchema() Document
	TokenTTL() time.Duration
}

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	// EmitNBF adds nbf = now - NotBeforeSkew to every claim set.
	EmitNBF bool

	// EmitJTI adds a ULID jti unless one survives the merge.
	EmitJTI bool

	// SchemaCacheSize bounds the compiled schema cache.
	SchemaCacheSize int

	// Now overrides the clock, for tests.
	Now func() time.Time

	// NewID overrides jti generation, for tests.
	NewID func(time.Time) string
}

// Assembler builds the claim set of a token from a role and the caller's
// claims.
type Assembler struct {
	emitNBF bool
	emitJTI bool
	now     func() time.Time
	newID   func(time.Time) string
	schemas *lru.Cache[string, *jsonschema.RootSchema]
}

// NewAssembler creates an Assembler.
func NewAssembler(conf AssemblerConfig) (*Assembler, error) {
	size := conf.SchemaCacheSize
	if size <= 0 {
		size = DefaultSchemaCacheSize
	}
	cache, err := lru.New[string, *jsonschema.RootSchema](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}

	a := &Assembler{
		emitNBF: conf.EmitNBF,
		emitJTI: conf.EmitJTI,
		now:     conf.Now,
		newID:   conf.NewID,
		schemas: cache,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.newID == nil {
		a.newID = helper.GenerateIDAt
	}
	return a, nil
}

// Assemble merges the role defaults, the caller claims and the role
// overrides, validates the result against the role schema and stamps the
// issuer claims. It returns the claim set and its expiry.
func (a *Assembler) Assemble(ctx context.Context, role RoleView, caller Document) (map[string]interface{}, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	callerClaims := caller.Claims()
	if msgs := CheckReserved(callerClaims, SourceCaller); len(msgs) > 0 {
		return nil, time.Time{}, logical.NewValidationError(msgs...)
	}

	claims := role.ClaimDefaults().Claims()
	claims = MergePatch(claims, callerClaims)
	claims = MergePatch(claims, role.ClaimOverrides().Claims())

	if schema := role.ClaimSchema(); !schema.IsBlank() {
		compiled, err := a.compile(schema.String())
		if err != nil {
			return nil, time.Time{}, logical.NewValidationError(fmt.Sprintf("schema: %v", err))
		}
		msgs, err := validate(compiled, withoutIssuerClaims(claims))
		if err != nil {
			return nil, time.Time{}, logical.NewValidationError(fmt.Sprintf("claims: %v", err))
		}
		if len(msgs) > 0 {
			return nil, time.Time{}, logical.NewValidationError(msgs...)
		}
	}

	now := a.now().UTC().Truncate(time.Second)
	expires := now.Add(role.TokenTTL())
	claims["iat"] = now.Unix()
	claims["exp"] = expires.Unix()
	if a.emitNBF {
		claims["nbf"] = now.Add(-NotBeforeSkew).Unix()
	}
	if _, ok := claims["jti"]; a.emitJTI && !ok {
		claims["jti"] = a.newID(now)
	}

	return claims, expires, nil
}

func (a *Assembler) compile(raw string) (*jsonschema.RootSchema, error) {
	if s, ok := a.schemas.Get(raw); ok {
		return s, nil
	}
	s, err := compileSchema(raw)
	if err != nil {
		return nil, err
	}
	a.schemas.Add(raw, s)
	return s, nil
}

// withoutIssuerClaims returns a shallow copy of claims minus the claims the
// issuer controls, so role schemas need not describe them.
func withoutIssuerClaims(claims map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	for _, k := range issuerClaims {
		delete(out, k)
	}
	delete(out, "iss")
	return out
}
