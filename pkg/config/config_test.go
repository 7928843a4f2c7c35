package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/polisai/rtcbind/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtcbind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TargetRust, cfg.Target)
	assert.Equal(t, []string{"rtc*"}, cfg.Allowlist.Functions)
	assert.Contains(t, cfg.Allowlist.Types, "RTC*")
	assert.Len(t, cfg.Enums, 7)
	assert.Len(t, cfg.Bitflags, 4)
	assert.Equal(t, []domain.TypedefRule{
		{Name: "size_t", Target: domain.PortableUintptr},
		{Name: "ssize_t", Target: domain.PortableIntptr},
	}, cfg.Typedefs)
	assert.Contains(t, cfg.Extractor.Command, "-x")
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
target: go
package: rtc
strict: true
enums:
  - type: RTCFormat
    prefix: RTC_FORMAT_
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TargetGo, cfg.Target)
	assert.Equal(t, "rtc", cfg.Package)
	assert.True(t, cfg.Strict)
	assert.Equal(t, []domain.PrefixRule{{Type: "RTCFormat", Prefix: "RTC_FORMAT_"}}, cfg.Enums)
	// Untouched sections keep the embedded defaults.
	assert.Len(t, cfg.Bitflags, 4)
	assert.Equal(t, []string{"rtc*"}, cfg.Allowlist.Functions)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "3.13", cfg.LibraryVersion)
}

func TestLoadRejectsLegacyDirectives(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "top level whitelist",
			content: "whitelist_function: [\"rtc*\"]\n",
			want:    `use "allowlist_function"`,
		},
		{
			name:    "nested blacklist",
			content: "allowlist:\n  blacklist_type: [\"RTCFoo\"]\n",
			want:    `use "blocklist_type"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfigInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "allowlist:\n  functons: [\"rtc*\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "functons")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown target",
			mutate: func(c *Config) { c.Target = "python" },
			want:   `target "python"`,
		},
		{
			name:   "go target needs package",
			mutate: func(c *Config) { c.Target = TargetGo; c.Package = "9lives" },
			want:   "not a valid Go package name",
		},
		{
			name:   "missing command",
			mutate: func(c *Config) { c.Extractor.Command = nil },
			want:   "extractor.command is required",
		},
		{
			name:   "bad glob",
			mutate: func(c *Config) { c.Allowlist.Types = []string{"RTC[*"} },
			want:   "allowlist.types",
		},
		{
			name: "type listed as enum and bitflag",
			mutate: func(c *Config) {
				c.Bitflags = append(c.Bitflags, domain.PrefixRule{Type: "RTCFormat", Prefix: "RTC_FORMAT_"})
			},
			want: "already listed under enums",
		},
		{
			name: "typedef with unknown target",
			mutate: func(c *Config) {
				c.Typedefs = []domain.TypedefRule{{Name: "size_t", Target: "usize"}}
			},
			want: `target "usize"`,
		},
		{
			name: "empty allowlist",
			mutate: func(c *Config) {
				c.Allowlist = AllowlistConfig{}
			},
			want: "allowlist is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfigInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RTCBIND_CC", "clang")
	t.Setenv("RTCBIND_INCLUDE", strings.Join([]string{"/opt/embree/include", "/usr/local/include"}, string(os.PathListSeparator)))
	t.Setenv("RTCBIND_TARGET", "go")
	t.Setenv("RTCBIND_LOG_LEVEL", "debug")
	t.Setenv("RTCBIND_OTLP_ENDPOINT", "localhost:4317")
	t.Setenv("RTCBIND_OTLP_INSECURE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "clang", cfg.Extractor.Command[0])
	assert.Equal(t, []string{"-E", "-P", "-dD", "-x", "c"}, cfg.Extractor.Command[1:])
	assert.Equal(t, []string{"/opt/embree/include", "/usr/local/include"}, cfg.Extractor.IncludePaths)
	assert.Equal(t, TargetGo, cfg.Target)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := writeConfig(t, string(data))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
