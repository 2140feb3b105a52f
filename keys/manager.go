package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	metrics "github.com/hashicorp/go-metrics/compat"
	uuid "github.com/hashicorp/go-uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openbao/openbao/sdk/v2/helper/locksutil"
	sdklogical "github.com/openbao/openbao/sdk/v2/logical"
	"golang.org/x/sync/singleflight"

	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
)

const (
	DefaultKeyTTL    = 24 * time.Hour
	DefaultMaxTTL    = 24 * time.Hour
	DefaultCacheSize = 64
)

// Config configures a Manager.
type Config struct {
	// KeyTTL is how long a key stays the active signing key.
	KeyTTL time.Duration

	// MaxTTL is the longest token lifetime. Public keys stay published
	// for MaxTTL after their key expires so outstanding tokens verify.
	MaxTTL time.Duration

	// CacheSize bounds the decoded private key cache.
	CacheSize int

	Logger      *logger.GatedLogger
	MetricsSink metrics.MetricSink

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager owns the signing keys of one mount.
type Manager struct {
	storage sdklogical.Storage
	keyTTL  time.Duration
	maxTTL  time.Duration
	now     func() time.Time
	logger  *logger.GatedLogger
	sink    metrics.MetricSink

	group singleflight.Group
	locks []*locksutil.LockEntry
	cache *lru.Cache[string, *SigningKey]

	mu      sync.RWMutex
	current *SigningKey
}

// NewManager creates a Manager over storage.
func NewManager(storage sdklogical.Storage, conf Config) (*Manager, error) {
	if conf.KeyTTL <= 0 {
		conf.KeyTTL = DefaultKeyTTL
	}
	if conf.MaxTTL <= 0 {
		conf.MaxTTL = DefaultMaxTTL
	}
	if conf.CacheSize <= 0 {
		conf.CacheSize = DefaultCacheSize
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	if conf.MetricsSink == nil {
		conf.MetricsSink = &metrics.BlackholeSink{}
	}

	cache, err := lru.New[string, *SigningKey](conf.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	return &Manager{
		storage: storage,
		keyTTL:  conf.KeyTTL,
		maxTTL:  conf.MaxTTL,
		now:     conf.Now,
		logger:  conf.Logger.WithSubsystem("keys"),
		sink:    conf.MetricsSink,
		locks:   locksutil.CreateLocks(),
		cache:   cache,
	}, nil
}

func validKID(kid string) error {
	if kid == "" || strings.ContainsAny(kid, "/") || strings.Contains(kid, "..") {
		return logical.ErrBadRequestf("invalid kid %q", kid)
	}
	return nil
}

// GetOrCreateKey returns the key with the given kid, generating and
// persisting it on first use. Concurrent callers for the same kid share a
// single generation.
func (m *Manager) GetOrCreateKey(ctx context.Context, kid string) (*SigningKey, error) {
	if err := validKID(kid); err != nil {
		return nil, err
	}
	if k, ok := m.cache.Get(kid); ok {
		return k, nil
	}

	v, err, _ := m.group.Do(kid, func() (interface{}, error) {
		lock := locksutil.LockForKey(m.locks, kid)
		lock.Lock()
		defer lock.Unlock()

		k, err := m.loadPrivate(ctx, kid)
		if err != nil {
			return nil, err
		}
		if k == nil {
			if k, err = m.generate(ctx, kid); err != nil {
				return nil, err
			}
		}
		m.cache.Add(kid, k)
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SigningKey), nil
}

// Sign issues a compact RS256 JWT over claims with the key kid. The key is
// created if it does not exist yet.
func (m *Manager) Sign(ctx context.Context, kid string, claims map[string]interface{}) (string, error) {
	k, err := m.GetOrCreateKey(ctx, kid)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(claims))
	token.Header["kid"] = k.KID
	signed, err := token.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// GetPublicKey returns the published key kid. The error wraps
// ErrKeyNotFound when there is none.
func (m *Manager) GetPublicKey(ctx context.Context, kid string) (*PublicKey, error) {
	if err := validKID(kid); err != nil {
		return nil, err
	}
	entry, err := m.storage.Get(ctx, publicKeyPrefix+kid)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}

	var pub PublicKey
	if err := json.Unmarshal(entry.Value, &pub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	if pub.KID == "" {
		pub.KID = kid
	}
	return &pub, nil
}

// Current returns the active signing key, rotating it when it has expired
// or does not exist yet.
func (m *Manager) Current(ctx context.Context) (*SigningKey, error) {
	now := m.now()

	m.mu.RLock()
	k := m.current
	m.mu.RUnlock()
	if k != nil && !k.Expired(now) {
		return k, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.Expired(now) {
		return m.current, nil
	}

	// Another server sharing the storage may have rotated already.
	entry, err := m.storage.Get(ctx, currentKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read current key: %w", err)
	}
	if entry != nil {
		var ptr currentPointer
		if err := json.Unmarshal(entry.Value, &ptr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current key: %w", err)
		}
		if ptr.KID != "" {
			k, err := m.loadCached(ctx, ptr.KID)
			if err != nil {
				return nil, err
			}
			if k != nil && !k.Expired(now) {
				m.current = k
				return k, nil
			}
		}
	}

	return m.rotateLocked(ctx)
}

// Rotate makes a freshly generated key the active one. Previous public
// keys stay published until Tidy removes them.
func (m *Manager) Rotate(ctx context.Context) (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked(ctx)
}

func (m *Manager) rotateLocked(ctx context.Context) (*SigningKey, error) {
	kid, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate kid: %w", err)
	}
	k, err := m.GetOrCreateKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	entry, err := sdklogical.StorageEntryJSON(currentKeyPath, currentPointer{KID: kid})
	if err != nil {
		return nil, err
	}
	if err := m.storage.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to write current key: %w", err)
	}

	previous := ""
	if m.current != nil {
		previous = m.current.KID
	}
	m.current = k
	m.sink.IncrCounter([]string{"keys", "rotate"}, 1)
	m.logger.Info("signing key rotated",
		logger.String("kid", kid),
		logger.String("previous_kid", previous),
		logger.Time("expires_at", k.ExpiresAt),
	)
	return k, nil
}

// ListPublicKeys returns every published key sorted by kid.
func (m *Manager) ListPublicKeys(ctx context.Context) ([]*PublicKey, error) {
	kids, err := m.storage.List(ctx, publicKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list public keys: %w", err)
	}
	sort.Strings(kids)

	out := make([]*PublicKey, 0, len(kids))
	for _, kid := range kids {
		pub, err := m.GetPublicKey(ctx, kid)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// JWKS returns the published keys as a JSON Web Key Set.
func (m *Manager) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	pubs, err := m.ListPublicKeys(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(pubs))}
	for _, pub := range pubs {
		rsaPub, err := pub.RSA()
		if err != nil {
			m.logger.Warn("skipping unreadable public key", logger.String("kid", pub.KID), logger.Err(err))
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       rsaPub,
			KeyID:     pub.KID,
			Algorithm: Algorithm,
			Use:       "sig",
		})
	}
	return set, nil
}

// Tidy deletes keys whose tokens can no longer be valid, that is keys
// expired for longer than MaxTTL. It returns the removed kids sorted.
func (m *Manager) Tidy(ctx context.Context) ([]string, error) {
	now := m.now()

	pubKIDs, err := m.storage.List(ctx, publicKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list public keys: %w", err)
	}
	privKIDs, err := m.storage.List(ctx, privateKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list private keys: %w", err)
	}

	seen := make(map[string]struct{}, len(pubKIDs)+len(privKIDs))
	for _, kid := range append(pubKIDs, privKIDs...) {
		seen[kid] = struct{}{}
	}
	kids := make([]string, 0, len(seen))
	for kid := range seen {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for _, kid := range kids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		expiresAt, err := m.expiry(ctx, kid)
		if err != nil {
			return removed, err
		}
		if now.Before(expiresAt.Add(m.maxTTL)) {
			continue
		}

		lock := locksutil.LockForKey(m.locks, kid)
		lock.Lock()
		err = m.deleteKey(ctx, kid)
		lock.Unlock()
		if err != nil {
			return removed, err
		}
		if m.current != nil && m.current.KID == kid {
			m.current = nil
		}
		removed = append(removed, kid)
	}

	if len(removed) > 0 {
		m.sink.IncrCounter([]string{"keys", "tidy"}, float32(len(removed)))
		m.logger.Info("tidied expired keys", logger.Int("removed", len(removed)))
	}
	return removed, nil
}

// expiry returns the expiry of kid from whichever half is still stored.
// A key with neither half readable is treated as long expired.
func (m *Manager) expiry(ctx context.Context, kid string) (time.Time, error) {
	pub, err := m.GetPublicKey(ctx, kid)
	switch {
	case err == nil:
		return pub.ExpiresAt, nil
	case !errors.Is(err, ErrKeyNotFound):
		return time.Time{}, err
	}

	entry, err := m.storage.Get(ctx, privateKeyPrefix+kid)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read private key: %w", err)
	}
	if entry == nil {
		return time.Time{}, nil
	}
	var stored storedPrivateKey
	if err := json.Unmarshal(entry.Value, &stored); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal private key: %w", err)
	}
	return stored.ExpiresAt, nil
}

func (m *Manager) deleteKey(ctx context.Context, kid string) error {
	if err := m.storage.Delete(ctx, publicKeyPrefix+kid); err != nil {
		return fmt.Errorf("failed to delete public key: %w", err)
	}
	if err := m.storage.Delete(ctx, privateKeyPrefix+kid); err != nil {
		return fmt.Errorf("failed to delete private key: %w", err)
	}
	m.cache.Remove(kid)
	m.logger.Debug("key deleted", logger.String("kid", kid))
	return nil
}

// loadCached returns the stored key kid without creating it.
func (m *Manager) loadCached(ctx context.Context, kid string) (*SigningKey, error) {
	if k, ok := m.cache.Get(kid); ok {
		return k, nil
	}
	lock := locksutil.LockForKey(m.locks, kid)
	lock.RLock()
	defer lock.RUnlock()

	k, err := m.loadPrivate(ctx, kid)
	if err != nil || k == nil {
		return nil, err
	}
	m.cache.Add(kid, k)
	return k, nil
}

func (m *Manager) loadPrivate(ctx context.Context, kid string) (*SigningKey, error) {
	entry, err := m.storage.Get(ctx, privateKeyPrefix+kid)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	var stored storedPrivateKey
	if err := json.Unmarshal(entry.Value, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key: %w", err)
	}
	return decodePrivate(stored)
}

func (m *Manager) generate(ctx context.Context, kid string) (*SigningKey, error) {
	start := time.Now()
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	now := m.now().UTC()
	k := &SigningKey{
		KID:       kid,
		Algorithm: Algorithm,
		CreatedAt: now,
		ExpiresAt: now.Add(m.keyTTL),
		private:   priv,
	}

	pub, err := encodePublic(k)
	if err != nil {
		return nil, err
	}

	privEntry, err := sdklogical.StorageEntryJSON(privateKeyPrefix+kid, encodePrivate(k))
	if err != nil {
		return nil, err
	}
	pubEntry, err := sdklogical.StorageEntryJSON(publicKeyPrefix+kid, pub)
	if err != nil {
		return nil, err
	}

	if err := m.storage.Put(ctx, privEntry); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := m.storage.Put(ctx, pubEntry); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	m.sink.IncrCounter([]string{"keys", "generate"}, 1)
	m.sink.AddSample([]string{"keys", "generate_ms"}, float32(time.Since(start).Milliseconds()))
	m.logger.Debug("signing key generated", logger.String("kid", kid))
	return k, nil
}
