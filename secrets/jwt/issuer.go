package jwt

import (
	"context"
	"fmt"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/stephnangue/jwtsecrets/claims"
	"github.com/stephnangue/jwtsecrets/keys"
	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/role"
)

// Token is a signed token and what a client needs to cache it.
type Token struct {
	Token   string
	KID     string
	Expires time.Time
}

// Issuer turns sign requests into signed tokens.
type Issuer struct {
	roles     *role.Registry
	assembler *claims.Assembler
	keys      *keys.Manager
	logger    *logger.GatedLogger
	sink      metrics.MetricSink
}

// NewIssuer wires an Issuer. A nil sink discards metrics.
func NewIssuer(roles *role.Registry, assembler *claims.Assembler, km *keys.Manager, log *logger.GatedLogger, sink metrics.MetricSink) *Issuer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if sink == nil {
		sink = &metrics.BlackholeSink{}
	}
	return &Issuer{
		roles:     roles,
		assembler: assembler,
		keys:      km,
		logger:    log,
		sink:      sink,
	}
}

// IssueToken signs a token for roleName carrying the caller claims merged
// with the role's claims. Unknown roles yield a 404 coded error and claim
// violations a *logical.ValidationError.
func (i *Issuer) IssueToken(ctx context.Context, roleName string, caller claims.Document) (*Token, error) {
	start := time.Now()

	r, err := i.roles.Read(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, logical.ErrNotFoundf("role %q not found", roleName)
	}

	set, expires, err := i.assembler.Assemble(ctx, r, caller)
	if err != nil {
		i.sink.IncrCounterWithLabels([]string{"jwt", "sign", "rejected"}, 1,
			[]metrics.Label{{Name: "role", Value: roleName}})
		return nil, err
	}

	key, err := i.keys.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing key: %w", err)
	}
	signed, err := i.keys.Sign(ctx, key.KID, set)
	if err != nil {
		return nil, err
	}

	i.sink.IncrCounterWithLabels([]string{"jwt", "sign"}, 1,
		[]metrics.Label{{Name: "role", Value: roleName}})
	i.sink.AddSample([]string{"jwt", "sign", "duration_ms"}, float32(time.Since(start).Milliseconds()))
	i.logger.Debug("token issued",
		logger.String("role", roleName),
		logger.String("kid", key.KID),
		logger.Any("jti", set["jti"]),
		logger.Time("expires", expires),
	)

	return &Token{Token: signed, KID: key.KID, Expires: expires}, nil
}
