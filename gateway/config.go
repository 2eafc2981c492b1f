package gateway

import (
	"fmt"
	"os"
	"strings"
)

// Config captures the runtime settings for the vault gateway.
type Config struct {
	Listen             string
	SharedSecretHeader string
	SharedSecretValue  string
	Environment        string
}

const (
	envListen             = "VAULT_LISTEN"
	envSharedSecretHeader = "VAULT_SHARED_SECRET_HEADER"
	envSharedSecret       = "VAULT_SHARED_SECRET"
	envEnvironment        = "VAULT_ENV"

	defaultListen             = "0.0.0.0:8642"
	defaultSharedSecretHeader = "X-Vault-Shared-Secret"
)

// LoadConfigFromEnv constructs a Config using environment variables and defaults.
func LoadConfigFromEnv() Config {
	return Config{
		Listen:             stringFromEnv(envListen, defaultListen),
		SharedSecretHeader: stringFromEnv(envSharedSecretHeader, defaultSharedSecretHeader),
		SharedSecretValue:  strings.TrimSpace(os.Getenv(envSharedSecret)),
		Environment:        strings.TrimSpace(os.Getenv(envEnvironment)),
	}
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.SharedSecretValue != "" {
		clone.SharedSecretValue = "***"
	}
	return clone
}

// Validate ensures the configuration is internally consistent. The shared
// secret may be empty only outside production.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen address required")
	}
	if strings.TrimSpace(cfg.SharedSecretHeader) == "" {
		return fmt.Errorf("shared secret header required")
	}
	if cfg.SharedSecretValue == "" && strings.EqualFold(cfg.Environment, "prod") {
		return fmt.Errorf("%s is required in prod", envSharedSecret)
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
