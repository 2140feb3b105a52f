package role

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openbao/openbao/sdk/v2/helper/locksutil"
	sdklogical "github.com/openbao/openbao/sdk/v2/logical"

	"github.com/stephnangue/jwtsecrets/claims"
	"github.com/stephnangue/jwtsecrets/logger"
)

const rolePrefix = "role/"

// storedRole is the versioned storage format for roles. Documents are kept
// as the raw text the client sent.
type storedRole struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Defaults  string    `json:"defaults"`
	Overrides string    `json:"overrides"`
	Schema    string    `json:"schema"`
	TTL       int64     `json:"ttl"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	MaxTTL time.Duration
	Logger *logger.GatedLogger
}

// Registry persists roles in a mount's storage view.
type Registry struct {
	storage sdklogical.Storage
	locks   []*locksutil.LockEntry
	maxTTL  time.Duration
	logger  *logger.GatedLogger
}

// NewRegistry creates a Registry over storage.
func NewRegistry(storage sdklogical.Storage, conf RegistryConfig) *Registry {
	if conf.MaxTTL <= 0 {
		conf.MaxTTL = DefaultMaxTTL
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	return &Registry{
		storage: storage,
		locks:   locksutil.CreateLocks(),
		maxTTL:  conf.MaxTTL,
		logger:  conf.Logger.WithSubsystem("roles"),
	}
}

// MaxTTL returns the ttl cap applied to roles.
func (r *Registry) MaxTTL() time.Duration {
	return r.maxTTL
}

// Write validates role and upserts it. Nothing is persisted when validation
// fails; the error is then a *logical.ValidationError.
func (r *Registry) Write(ctx context.Context, role *Role) error {
	if role == nil {
		return errors.New("nil role")
	}
	if err := role.Validate(r.maxTTL); err != nil {
		return err
	}

	lock := locksutil.LockForKey(r.locks, role.Name)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	createdAt := now
	existing, err := r.load(ctx, role.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		createdAt = existing.CreatedAt
	}

	stored := storedRole{
		Version:   1,
		Name:      role.Name,
		Defaults:  role.Defaults.String(),
		Overrides: role.Overrides.String(),
		Schema:    role.Schema.String(),
		TTL:       int64(role.TTL / time.Second),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	entry, err := sdklogical.StorageEntryJSON(rolePrefix+role.Name, stored)
	if err != nil {
		return fmt.Errorf("failed to marshal role: %w", err)
	}
	if err := r.storage.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to write role to storage: %w", err)
	}

	role.CreatedAt = createdAt
	role.UpdatedAt = now

	r.logger.Debug("role written",
		logger.String("role", role.Name),
		logger.Bool("created", existing == nil),
	)
	return nil
}

// Read returns the named role, or nil when it does not exist.
func (r *Registry) Read(ctx context.Context, name string) (*Role, error) {
	lock := locksutil.LockForKey(r.locks, name)
	lock.RLock()
	defer lock.RUnlock()

	return r.load(ctx, name)
}

// List returns the role names.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	keys, err := r.storage.List(ctx, rolePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return keys, nil
}

// ListPage returns at most limit role names sorting after after. A limit
// <= 0 returns every remaining name.
func (r *Registry) ListPage(ctx context.Context, after string, limit int) ([]string, error) {
	keys, err := r.storage.ListPage(ctx, rolePrefix, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return keys, nil
}

// Delete removes the named role. Deleting a missing role is not an error.
func (r *Registry) Delete(ctx context.Context, name string) error {
	lock := locksutil.LockForKey(r.locks, name)
	lock.Lock()
	defer lock.Unlock()

	if err := r.storage.Delete(ctx, rolePrefix+name); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	r.logger.Debug("role deleted", logger.String("role", name))
	return nil
}

func (r *Registry) load(ctx context.Context, name string) (*Role, error) {
	if strings.Contains(name, "/") {
		return nil, nil
	}
	entry, err := r.storage.Get(ctx, rolePrefix+name)
	if err != nil {
		return nil, fmt.Errorf("failed to read role from storage: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	var stored storedRole
	if err := json.Unmarshal(entry.Value, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role: %w", err)
	}

	role := &Role{
		Name:      stored.Name,
		TTL:       time.Duration(stored.TTL) * time.Second,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}
	for _, doc := range []struct {
		raw string
		dst *claims.Document
	}{
		{stored.Defaults, &role.Defaults},
		{stored.Overrides, &role.Overrides},
		{stored.Schema, &role.Schema},
	} {
		if *doc.dst, err = claims.ParseDocument(doc.raw); err != nil {
			return nil, fmt.Errorf("stored role %q is corrupt: %w", name, err)
		}
	}
	return role, nil
}
