package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/stephnangue/jwtsecrets/logger"
)

const (
	DefaultAddress   = "127.0.0.1:8200"
	DefaultMountPath = "jwt"
	DefaultMountType = "jwt"
)

// Config is the configuration for the jwtsecrets server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	CacheSize      int  `hcl:"cache_size,optional"`
	DisableCache   bool `hcl:"disable_cache,optional"`
	DisableMetrics bool `hcl:"disable_metrics,optional"`

	MaxRequestSize int64   `hcl:"max_request_size,optional"`
	RateLimit      float64 `hcl:"rate_limit,optional"`
	RateLimitBurst int     `hcl:"rate_limit_burst,optional"`

	Listeners []*ListenerBlock `hcl:"listener,block"`
	Storage   *StorageBlock    `hcl:"storage,block"`
	Mounts    []*MountBlock    `hcl:"mount,block"`
}

type ListenerBlock struct {
	Type            string `hcl:"type,label"` // only "tcp"
	Address         string `hcl:"address,optional"`
	TLSDisable      bool   `hcl:"tls_disable,optional"`
	TLSCertFile     string `hcl:"tls_cert_file,optional"`
	TLSKeyFile      string `hcl:"tls_key_file,optional"`
	TLSClientCAFile string `hcl:"tls_client_ca_file,optional"`
}

// StorageBlock selects the physical backend. Every attribute besides the
// type label is handed to the backend as a string option.
type StorageBlock struct {
	Type   string   `hcl:"type,label"` // "inmem", "file", "postgres" or "redis"
	Remain hcl.Body `hcl:",remain"`

	options map[string]string
}

// Config returns the backend options.
func (s *StorageBlock) Config() map[string]string {
	out := make(map[string]string, len(s.options))
	for k, v := range s.options {
		out[k] = v
	}
	return out
}

// MountBlock mounts a backend under /v1/<path>/. Attributes other than
// type are passed to the backend, e.g. max_ttl, key_ttl, emit_nbf.
type MountBlock struct {
	Path   string   `hcl:"path,label"`
	Type   string   `hcl:"type,optional"`
	Remain hcl.Body `hcl:",remain"`

	options map[string]string
}

// Config returns the mount options.
func (m *MountBlock) Config() map[string]string {
	out := make(map[string]string, len(m.options))
	for k, v := range m.options {
		out[k] = v
	}
	return out
}

// LoadConfig reads and validates an HCL configuration file.
func LoadConfig(configFile string) (*Config, error) {
	src, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	return ParseConfig(configFile, src)
}

// ParseConfig decodes src. filename only needs the .hcl suffix and is used
// in diagnostics.
func ParseConfig(filename string, src []byte) (*Config, error) {
	var c Config
	if err := hclsimple.Decode(filename, src, nil, &c); err != nil {
		return nil, err
	}

	if c.Storage != nil {
		opts, err := bodyOptions(c.Storage.Remain)
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", c.Storage.Type, err)
		}
		c.Storage.options = opts
	}
	for _, m := range c.Mounts {
		opts, err := bodyOptions(m.Remain)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", m.Path, err)
		}
		m.options = opts
	}

	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DevConfig returns the configuration of the dev server: in-memory
// storage, one plain-text listener and the default jwt mount.
func DevConfig() *Config {
	c := &Config{
		LogLevel: "debug",
		Listeners: []*ListenerBlock{{
			Type:       "tcp",
			Address:    DefaultAddress,
			TLSDisable: true,
		}},
		Storage: &StorageBlock{Type: "inmem"},
	}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if len(c.Mounts) == 0 {
		c.Mounts = []*MountBlock{{Path: DefaultMountPath}}
	}
	for _, m := range c.Mounts {
		if m.Type == "" {
			m.Type = DefaultMountType
		}
	}
	for _, l := range c.Listeners {
		if l.Address == "" {
			l.Address = DefaultAddress
		}
	}
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if len(c.Listeners) == 0 {
		errs = multierror.Append(errs, errors.New("at least one listener block is required"))
	}
	for _, l := range c.Listeners {
		if l.Type != "tcp" {
			errs = multierror.Append(errs, fmt.Errorf("listener %q: unsupported type", l.Type))
		}
		if !l.TLSDisable && (l.TLSCertFile == "" || l.TLSKeyFile == "") {
			errs = multierror.Append(errs, fmt.Errorf("listener %q: tls_cert_file and tls_key_file are required unless tls_disable is set", l.Address))
		}
	}

	if c.RateLimit < 0 || c.RateLimitBurst < 0 {
		errs = multierror.Append(errs, errors.New("rate_limit and rate_limit_burst must not be negative"))
	}

	if c.Storage == nil {
		errs = multierror.Append(errs, errors.New("a storage block is required"))
	}

	seen := make([]string, 0, len(c.Mounts))
	for _, m := range c.Mounts {
		path := strings.Trim(m.Path, "/")
		if path == "" {
			errs = multierror.Append(errs, errors.New("mount path must not be empty"))
			continue
		}
		if strutil.StrListContains(seen, path) {
			errs = multierror.Append(errs, fmt.Errorf("mount %q declared twice", path))
			continue
		}
		seen = append(seen, path)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "json", "standard", "default":
	default:
		errs = multierror.Append(errs, fmt.Errorf("log_format must be \"json\" or \"standard\", got %q", c.LogFormat))
	}

	return errs.ErrorOrNil()
}

// LoggerConfig builds the logger configuration.
func (c *Config) LoggerConfig() *logger.Config {
	conf := logger.DefaultConfig()
	conf.Level = logger.ParseLogLevel(c.LogLevel)
	conf.Format = logger.ParseOutputFormat(c.LogFormat)
	if c.LogFile != "" {
		conf.FileConfig = logger.DefaultFileConfig(c.LogFile)
		if c.LogRotateMegabytes > 0 {
			conf.FileConfig.MaxSize = c.LogRotateMegabytes
		}
		if c.LogRotateMaxFiles > 0 {
			conf.FileConfig.MaxBackups = c.LogRotateMaxFiles
		}
	}
	return conf
}

// bodyOptions flattens the attributes of body into strings.
func bodyOptions(body hcl.Body) (map[string]string, error) {
	out := map[string]string{}
	if body == nil {
		return out, nil
	}
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		s, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if s.IsNull() {
			continue
		}
		out[name] = s.AsString()
	}
	return out, nil
}
