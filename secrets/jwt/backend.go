package jwt

import (
	"context"
	"fmt"
	"strings"

	"github.com/stephnangue/jwtsecrets/claims"
	"github.com/stephnangue/jwtsecrets/framework"
	"github.com/stephnangue/jwtsecrets/keys"
	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/role"
)

// BackendType is the mount type served by this package.
const BackendType = "jwt"

type jwtBackend struct {
	*framework.Backend

	config MountConfig
	roles  *role.Registry
	keys   *keys.Manager
	issuer *Issuer
	logger *logger.GatedLogger
}

// Factory creates the JWT backend for one mount.
func Factory(ctx context.Context, conf *logical.BackendConfig) (logical.Backend, error) {
	if conf == nil || conf.StorageView == nil {
		return nil, fmt.Errorf("jwt backend requires a storage view")
	}

	mountConf, err := ParseConfig(conf.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := conf.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithSubsystem(BackendType)

	b := &jwtBackend{
		config: mountConf,
		logger: log,
	}

	b.roles = role.NewRegistry(conf.StorageView, role.RegistryConfig{
		MaxTTL: mountConf.MaxTTL,
		Logger: log,
	})

	b.keys, err = keys.NewManager(conf.StorageView, keys.Config{
		KeyTTL:      mountConf.KeyTTL,
		MaxTTL:      mountConf.MaxTTL,
		Logger:      log,
		MetricsSink: conf.MetricsSink,
	})
	if err != nil {
		return nil, err
	}

	assembler, err := claims.NewAssembler(claims.AssemblerConfig{
		EmitNBF: mountConf.EmitNBF,
		EmitJTI: mountConf.EmitJTI,
	})
	if err != nil {
		return nil, err
	}
	b.issuer = NewIssuer(b.roles, assembler, b.keys, log, conf.MetricsSink)

	b.Backend = &framework.Backend{
		Help:        strings.TrimSpace(jwtBackendHelp),
		BackendType: BackendType,
		Paths: framework.PathAppend(
			b.rolePaths(),
			b.signPaths(),
			b.keyPaths(),
		),
		InitializeFunc: b.initialize,
	}
	if err := b.Backend.Setup(ctx, conf); err != nil {
		return nil, err
	}

	return b, nil
}

// initialize makes sure a signing key exists before the first request.
func (b *jwtBackend) initialize(ctx context.Context) error {
	key, err := b.keys.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize signing key: %w", err)
	}
	b.logger.Info("jwt backend initialized",
		logger.String("kid", key.KID),
		logger.Duration("max_ttl", b.config.MaxTTL),
		logger.Duration("key_ttl", b.config.KeyTTL),
	)
	return nil
}

// Issuer exposes the token issuer of the mount.
func (b *jwtBackend) Issuer() *Issuer {
	return b.issuer
}

// respond converts err into a response. Client errors become error
// responses and anything else is returned as an internal error.
func respond(err error) (*logical.Response, error) {
	if code := logical.GetErrorCode(err); code >= 400 && code < 500 {
		return logical.ErrorResponse(err), nil
	}
	return nil, err
}

const jwtBackendHelp = `
The JWT backend issues signed JSON Web Tokens for named roles.

A role combines default claims, caller supplied claims and override claims
and may constrain the result with a JSON Schema. Tokens are signed with
RS256 and the public keys are published by kid and as a JWK set.
`
