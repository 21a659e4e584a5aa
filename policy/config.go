package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvTrustedIssuers overrides the configured trust list with a
// comma-separated value.
const EnvTrustedIssuers = "CREDGATE_TRUSTED_ISSUERS"

// DefaultTrustedIssuers is the example trust list shipped with the
// protocol.
var DefaultTrustedIssuers = []string{
	"did:web:rebasedemokey.pages.dev",
	"did:web:issuer.tinycloud.xyz",
}

// Config is the trust configuration loaded once at startup.
type Config struct {
	TrustedIssuers []string `yaml:"trusted_issuers"`
}

// DefaultConfig returns a config carrying the default trust list.
func DefaultConfig() Config {
	issuers := make([]string, len(DefaultTrustedIssuers))
	copy(issuers, DefaultTrustedIssuers)
	return Config{TrustedIssuers: issuers}
}

// LoadConfig reads a YAML trust configuration. The env override, when
// set, replaces the file's trust list.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read trust config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse trust config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if len(cfg.TrustedIssuers) == 0 {
		return Config{}, fmt.Errorf("trust config %s names no trusted issuers", path)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv(EnvTrustedIssuers); raw != "" {
		var issuers []string
		for _, issuer := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(issuer); trimmed != "" {
				issuers = append(issuers, trimmed)
			}
		}
		if len(issuers) > 0 {
			cfg.TrustedIssuers = issuers
		}
	}
}
