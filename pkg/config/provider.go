package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"
)

// SourceType identifies which layer a configuration value came from.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// envPrefix namespaces every environment variable the Env provider reads.
const envPrefix = "ORCHESTRA_"

// Provider is one layer in the configuration stack: Load returns the nested
// map of values it contributes, Type identifies it for diagnostics, and
// Watch lets the Manager re-Load when the underlying source changes (every
// provider in this package, the YAML one included, implements Watch as a
// no-op).
type Provider interface {
	Load() (map[string]any, error)
	Type() SourceType
	Watch(ctx context.Context, onChange func()) error
}

// defaultProvider supplies Default() as the lowest-precedence layer.
type defaultProvider struct{}

// NewDefaultProvider builds the compiled-in defaults layer.
func NewDefaultProvider() Provider {
	return &defaultProvider{}
}

func (p *defaultProvider) Load() (map[string]any, error) {
	k := structs.Provider(Default(), "koanf")
	return k.Read()
}

func (p *defaultProvider) Type() SourceType { return SourceDefault }

func (p *defaultProvider) Watch(_ context.Context, _ func()) error { return nil }

// yamlProvider reads a YAML file into the configuration tree.
type yamlProvider struct {
	path string
}

// NewYAMLProvider builds a provider over a YAML file at path. A missing file
// loads as empty rather than erroring, since the YAML layer is optional.
func NewYAMLProvider(path string) Provider {
	return &yamlProvider{path: path}
}

func (p *yamlProvider) Load() (map[string]any, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", p.path, err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", p.path, err)
	}
	return out, nil
}

func (p *yamlProvider) Type() SourceType { return SourceYAML }

func (p *yamlProvider) Watch(_ context.Context, _ func()) error { return nil }

// envProvider reads ORCHESTRA_-prefixed environment variables, mapping
// ORCHESTRA_SERVER_PORT to server.port.
type envProvider struct{}

// NewEnvProvider builds the environment-variable layer.
func NewEnvProvider() Provider {
	return &envProvider{}
}

func (p *envProvider) Load() (map[string]any, error) {
	k := envprovider.Provider(".", envprovider.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			key = strings.ReplaceAll(key, "_", ".")
			return key, value
		},
	})
	return k.Read()
}

func (p *envProvider) Type() SourceType { return SourceEnv }

func (p *envProvider) Watch(_ context.Context, _ func()) error { return nil }

// cliProvider maps CLI flags into the configuration tree, the
// highest-precedence layer.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider builds the CLI-flag layer. flags uses flat flag names
// ("host", "port", "db"); nil or empty loads as an empty layer.
func NewCLIProvider(flags map[string]any) Provider {
	return &cliProvider{flags: flags}
}

// cliFlagMapping maps a flat CLI flag name to its dotted config path.
var cliFlagMapping = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"cors":          "server.cors_enabled",
	"db-host":       "database.host",
	"db-port":       "database.port",
	"db-name":       "database.db_name",
	"redis-addr":    "redis.addr",
	"tick-interval": "scheduler.tick_interval",
	"log-level":     "runtime.log_level",
	"environment":   "runtime.environment",
	"anthropic-key": "llm.anthropic_api_key",
	"default-model": "llm.default_model",
}

func (p *cliProvider) Load() (map[string]any, error) {
	out := map[string]any{}
	for flag, value := range p.flags {
		path, ok := cliFlagMapping[flag]
		if !ok {
			continue
		}
		setDotted(out, path, value)
	}
	return out, nil
}

func (p *cliProvider) Type() SourceType { return SourceCLI }

func (p *cliProvider) Watch(_ context.Context, _ func()) error { return nil }

// setDotted assigns value into out at a dotted path ("server.port"),
// materializing intermediate maps as needed.
func setDotted(out map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := out
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}

// isSensitiveKey reports whether a dotted config key is likely to carry a
// secret, used by diagnostics to redact values before display.
func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, pattern := range []string{"password", "token", "api_key", "secret", "credentials"} {
		if strings.Contains(key, pattern) {
			return true
		}
	}
	return false
}
