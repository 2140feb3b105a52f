package jwtutil

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"path"

	ristretto "github.com/dgraph-io/ristretto/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/hashicorp/vault/api"
	"golang.org/x/sync/singleflight"

	"github.com/stephnangue/jwtsecrets/keys"
	"github.com/stephnangue/jwtsecrets/logger"
)

const DefaultMount = "jwt"

var (
	ErrKeyNotFound = errors.New("signing key not found")
	ErrInvalidKID  = errors.New("invalid key id")
)

type KeySourceConfig struct {
	// Mount path of the jwt backend. Defaults to "jwt".
	Mount string

	// CacheSize is the number of public keys kept in memory. Defaults to 64.
	CacheSize int64

	Client *api.Client
	Logger *logger.GatedLogger
}

// KeySource resolves kids to RSA public keys by reading key/<kid> from the
// mount. Keys never change once published so they are cached until
// evicted by size.
type KeySource struct {
	mount  string
	client *api.Client
	logger *logger.GatedLogger

	cache *ristretto.Cache[string, *rsa.PublicKey]
	group singleflight.Group
}

func NewKeySource(conf KeySourceConfig) (*KeySource, error) {
	if conf.Client == nil {
		return nil, errors.New("key source requires an api client")
	}
	if conf.Mount == "" {
		conf.Mount = DefaultMount
	}
	if conf.CacheSize <= 0 {
		conf.CacheSize = 64
	}
	log := conf.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *rsa.PublicKey]{
		NumCounters: conf.CacheSize * 10,
		MaxCost:     conf.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key cache: %w", err)
	}

	return &KeySource{
		mount:  conf.Mount,
		client: conf.Client,
		logger: log.WithSubsystem("jwtutil"),
		cache:  cache,
	}, nil
}

// LookupKey returns the public key for kid.
func (ks *KeySource) LookupKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if _, err := uuid.ParseUUID(kid); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKID, kid)
	}

	if key, ok := ks.cache.Get(kid); ok {
		return key, nil
	}

	v, err, _ := ks.group.Do(kid, func() (interface{}, error) {
		key, err := ks.fetch(ctx, kid)
		if err != nil {
			return nil, err
		}
		ks.cache.Set(kid, key, 1)
		ks.cache.Wait()
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

func (ks *KeySource) fetch(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	sec, err := ks.client.Logical().ReadWithContext(ctx, path.Join(ks.mount, "key", kid))
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, ErrKeyNotFound
	}

	pemString, _ := sec.Data["public"].(string)
	if pemString == "" {
		return nil, ErrKeyNotFound
	}

	pub, err := (&keys.PublicKey{KID: kid, PEM: pemString}).RSA()
	if err != nil {
		return nil, err
	}
	ks.logger.Debug("fetched signing key", logger.String("kid", kid))
	return pub, nil
}

// Keyfunc adapts the source for gojwt.Parse. Only RS256 tokens carrying a
// kid header are accepted.
func (ks *KeySource) Keyfunc(ctx context.Context) gojwt.Keyfunc {
	return func(t *gojwt.Token) (interface{}, error) {
		if t.Method.Alg() != keys.Algorithm {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrInvalidKID)
		}
		return ks.LookupKey(ctx, kid)
	}
}

// Close releases the cache.
func (ks *KeySource) Close() {
	ks.cache.Close()
}
