package jwt

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"

	"github.com/stephnangue/jwtsecrets/keys"
	"github.com/stephnangue/jwtsecrets/role"
)

// MountConfig holds the parsed mount configuration.
type MountConfig struct {
	MaxTTL  time.Duration
	KeyTTL  time.Duration
	EmitNBF bool
	EmitJTI bool
}

// DefaultMountConfig returns the configuration used for unset options.
func DefaultMountConfig() MountConfig {
	return MountConfig{
		MaxTTL:  role.DefaultMaxTTL,
		KeyTTL:  keys.DefaultKeyTTL,
		EmitNBF: false,
		EmitJTI: true,
	}
}

// ParseConfig parses the mount options max_ttl, key_ttl, emit_nbf and
// emit_jti. Durations accept Go duration strings or plain seconds.
func ParseConfig(conf map[string]string) (MountConfig, error) {
	c := DefaultMountConfig()

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"max_ttl", &c.MaxTTL},
		{"key_ttl", &c.KeyTTL},
	} {
		raw, ok := conf[d.key]
		if !ok || raw == "" {
			continue
		}
		v, err := parseutil.ParseDurationSecond(raw)
		if err != nil {
			return MountConfig{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return MountConfig{}, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}

	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"emit_nbf", &c.EmitNBF},
		{"emit_jti", &c.EmitJTI},
	} {
		raw, ok := conf[b.key]
		if !ok || raw == "" {
			continue
		}
		v, err := parseutil.ParseBool(raw)
		if err != nil {
			return MountConfig{}, fmt.Errorf("invalid %s: %w", b.key, err)
		}
		*b.dst = v
	}

	return c, nil
}
