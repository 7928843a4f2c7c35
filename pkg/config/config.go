// Package config provides the versioned generator configuration and its loading logic.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/polisai/rtcbind/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed embree3.yaml
var embree3 []byte

// Supported output targets.
const (
	TargetRust = "rust"
	TargetGo   = "go"
)

// Config holds the complete generator configuration. It is pinned to one
// release of the native library.
type Config struct {
	LibraryVersion string `yaml:"library_version"`
	Target         string `yaml:"target"`
	// Package is the Go package name used by the go target.
	Package string `yaml:"package"`
	// Strict promotes rules that match nothing from warnings to errors.
	Strict bool `yaml:"strict"`

	Extractor ExtractorConfig      `yaml:"extractor"`
	Allowlist AllowlistConfig      `yaml:"allowlist"`
	Enums     []domain.PrefixRule  `yaml:"enums"`
	Bitflags  []domain.PrefixRule  `yaml:"bitflags"`
	Typedefs  []domain.TypedefRule `yaml:"typedefs"`

	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ExtractorConfig describes the external declaration-extraction tool.
type ExtractorConfig struct {
	// Command is the tool and its fixed arguments. Include paths, defines and
	// the header path are appended.
	Command      []string `yaml:"command"`
	IncludePaths []string `yaml:"include_paths"`
	Defines      []string `yaml:"defines"`
	Env          []string `yaml:"env"`
	WorkDir      string   `yaml:"work_dir"`
}

// AllowlistConfig holds glob patterns restricting the surfaced symbols.
type AllowlistConfig struct {
	Functions []string `yaml:"functions"`
	Types     []string `yaml:"types"`
	Vars      []string `yaml:"vars"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the embedded configuration for Embree 3.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := decode(embree3, cfg); err != nil {
		return nil, fmt.Errorf("embedded configuration: %w", err)
	}
	return cfg, nil
}

// Load reads configuration from a file over the embedded defaults and applies
// environment variable overrides. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if err := rejectLegacyKeys(&root); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// rejectLegacyKeys refuses the retired whitelist/blacklist directive spelling
// instead of silently ignoring it.
func rejectLegacyKeys(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			lower := strings.ToLower(key)
			if strings.Contains(lower, "whitelist") || strings.Contains(lower, "blacklist") {
				replacement := strings.NewReplacer("whitelist", "allowlist", "blacklist", "blocklist").Replace(lower)
				return fmt.Errorf("%w: %q (line %d) is a retired directive, use %q",
					domain.ErrConfigInvalid, key, node.Content[i].Line, replacement)
			}
		}
	}
	for _, child := range node.Content {
		if err := rejectLegacyKeys(child); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RTCBIND_CC"); val != "" {
		if len(cfg.Extractor.Command) == 0 {
			cfg.Extractor.Command = []string{val}
		} else {
			cfg.Extractor.Command[0] = val
		}
	}
	if val := os.Getenv("RTCBIND_INCLUDE"); val != "" {
		for _, dir := range filepath.SplitList(val) {
			if dir != "" {
				cfg.Extractor.IncludePaths = append(cfg.Extractor.IncludePaths, dir)
			}
		}
	}
	if val := os.Getenv("RTCBIND_TARGET"); val != "" {
		cfg.Target = val
	}
	if val := os.Getenv("RTCBIND_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("RTCBIND_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("RTCBIND_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Target {
	case TargetRust, TargetGo:
	default:
		errs = append(errs, fmt.Errorf("target %q must be %q or %q", c.Target, TargetRust, TargetGo))
	}
	if c.Target == TargetGo && !isIdentifier(c.Package) {
		errs = append(errs, fmt.Errorf("package %q is not a valid Go package name", c.Package))
	}
	if len(c.Extractor.Command) == 0 || c.Extractor.Command[0] == "" {
		errs = append(errs, errors.New("extractor.command is required"))
	}

	patterns := map[string][]string{
		"allowlist.functions": c.Allowlist.Functions,
		"allowlist.types":     c.Allowlist.Types,
		"allowlist.vars":      c.Allowlist.Vars,
	}
	for _, field := range []string{"allowlist.functions", "allowlist.types", "allowlist.vars"} {
		for _, p := range patterns[field] {
			if _, err := glob.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: pattern %q: %v", field, p, err))
			}
		}
	}
	if len(c.Allowlist.Functions)+len(c.Allowlist.Types)+len(c.Allowlist.Vars) == 0 {
		errs = append(errs, errors.New("allowlist is empty; nothing would be generated"))
	}

	seen := map[string]string{}
	check := func(section string, rules []domain.PrefixRule) {
		for i, r := range rules {
			if r.Type == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: type is required", section, i))
				continue
			}
			if prev, dup := seen[r.Type]; dup {
				errs = append(errs, fmt.Errorf("%s[%d]: type %s already listed under %s", section, i, r.Type, prev))
				continue
			}
			seen[r.Type] = section
		}
	}
	check("enums", c.Enums)
	check("bitflags", c.Bitflags)

	typedefs := map[string]bool{}
	for i, r := range c.Typedefs {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("typedefs[%d]: name is required", i))
		}
		if !r.Target.Valid() {
			errs = append(errs, fmt.Errorf("typedefs[%d]: target %q must be %q or %q",
				i, r.Target, domain.PortableUintptr, domain.PortableIntptr))
		}
		if typedefs[r.Name] {
			errs = append(errs, fmt.Errorf("typedefs[%d]: %s listed twice", i, r.Name))
		}
		typedefs[r.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
