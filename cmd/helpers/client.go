package helpers

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/vault/api"
)

const (
	EnvAddress    = "JWTSECRETS_ADDR"
	EnvMaxRetries = "JWTSECRETS_MAX_RETRIES"

	DefaultAddress = "http://127.0.0.1:8200"
)

var (
	c *api.Client
)

// Client builds the HTTP API client. The server speaks the same envelope
// as Vault, so the Vault client and its environment variables work
// unchanged; JWTSECRETS_ADDR wins over VAULT_ADDR.
func Client() (*api.Client, error) {
	if c != nil {
		return c, nil
	}

	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("failed to build client config: %w", config.Error)
	}
	if os.Getenv(api.EnvVaultAddress) == "" {
		config.Address = DefaultAddress
	}
	if addr := os.Getenv(EnvAddress); addr != "" {
		config.Address = addr
	}

	// Turn off retries on the CLI
	config.MaxRetries = 0
	if v := os.Getenv(EnvMaxRetries); v != "" {
		retries, err := parseutil.SafeParseInt(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxRetries, err)
		}
		config.MaxRetries = retries
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	c = client
	return client, nil
}

// SetClient replaces the client returned by Client.
func SetClient(client *api.Client) {
	c = client
}
