// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/invowk/guildhost/internal/issue"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	loaded, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: t.TempDir(), Env: noEnv})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if loaded.Path != "" {
		t.Errorf("Path = %q, want empty", loaded.Path)
	}
	if !reflect.DeepEqual(loaded.Config, DefaultConfig()) {
		t.Errorf("Config = %+v, want defaults %+v", loaded.Config, DefaultConfig())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `
bot: name: "Hal"
defaults: {
	command_prefix: "?"
	unknown_command_reply: false
}
store: {
	driver: "memory"
}
gateway: {
	url: "https://chat.example.com"
	heartbeat_interval: "10s"
	heartbeat_timeout: "1m"
	reconnect_attempts: 0
}
dispatch: handler_timeout: "500ms"
`)

	loaded, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: dir, Env: noEnv})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	cfg := loaded.Config
	if loaded.Path != filepath.Join(dir, "config.cue") {
		t.Errorf("Path = %q", loaded.Path)
	}
	if cfg.Bot.Name != "Hal" || cfg.Bot.Version != "dev" {
		t.Errorf("Bot = %+v", cfg.Bot)
	}
	if cfg.Defaults.CommandPrefix != "?" || cfg.Defaults.UnknownCommandReply {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Gateway.URL != "https://chat.example.com" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.HeartbeatInterval != 10*time.Second || cfg.Gateway.HeartbeatTimeout != time.Minute {
		t.Errorf("heartbeat = %s/%s", cfg.Gateway.HeartbeatInterval, cfg.Gateway.HeartbeatTimeout)
	}
	if cfg.Gateway.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", cfg.Gateway.ReconnectAttempts)
	}
	if cfg.Dispatch.HandlerTimeout != 500*time.Millisecond {
		t.Errorf("HandlerTimeout = %s", cfg.Dispatch.HandlerTimeout)
	}
	if cfg.Dispatch.Workers != 256 {
		t.Errorf("Workers = %d, want default 256", cfg.Dispatch.Workers)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `gateway: token: "from-file"`)
	env := mapEnv(map[string]string{
		"GUILDHOST_GATEWAY_TOKEN":             "from-env",
		"GUILDHOST_GATEWAY_HEARTBEAT_TIMEOUT": "3m",
		"GUILDHOST_CONSOLE_ENABLED":           "true",
		"GUILDHOST_CONSOLE_PORT":              "2300",
		"GUILDHOST_CONSOLE_TOKEN":             "s3cret",
		"GUILDHOST_ADMIN_API_ENABLED":         "false",
		"GUILDHOST_STORE_SQLITE_PATH":         "/var/lib/guildhost/bot.db",
	})

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, Env: env})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Token != "from-env" {
		t.Errorf("Gateway.Token = %q, want from-env", cfg.Gateway.Token)
	}
	if cfg.Gateway.HeartbeatTimeout != 3*time.Minute {
		t.Errorf("HeartbeatTimeout = %s", cfg.Gateway.HeartbeatTimeout)
	}
	if !cfg.Console.Enabled || cfg.Console.Port != 2300 || cfg.Console.Token != "s3cret" {
		t.Errorf("Console = %+v", cfg.Console)
	}
	if cfg.AdminAPI.Enabled {
		t.Error("AdminAPI.Enabled = true, want false")
	}
	if cfg.Store.SQLite.Path != "/var/lib/guildhost/bot.db" {
		t.Errorf("SQLite.Path = %q", cfg.Store.SQLite.Path)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown driver", `store: driver: "postgres"`, "driver"},
		{"unknown field", `gateway: tokn: "x"`, "tokn"},
		{"bad duration", `gateway: heartbeat_interval: "soon"`, "heartbeat_interval"},
		{"negative workers", `dispatch: workers: -1`, "workers"},
		{"prefix with space", `defaults: command_prefix: "a b"`, "command_prefix"},
		{"syntax", `gateway: {`, "config.cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := writeConfig(t, tt.content)
			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, Env: noEnv})
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error should be *issue.ActionableError, got %T", err)
			}
			if !ae.HasSuggestions() {
				t.Error("error should carry suggestions")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_CrossFieldValidation(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `
gateway: {
	heartbeat_interval: "1m"
	heartbeat_timeout: "30s"
}
console: enabled: true
`)
	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, Env: noEnv})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error should wrap ErrInvalidConfig, got %v", err)
	}
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("error should be *InvalidConfigError, got %T", err)
	}
	if len(invalid.FieldErrors) != 2 {
		t.Errorf("FieldErrors = %v, want heartbeat and console token", invalid.FieldErrors)
	}
}

func TestLoad_EnvCanBreakValidation(t *testing.T) {
	t.Parallel()

	env := mapEnv(map[string]string{"GUILDHOST_STORE_DRIVER": "postgres"})
	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir(), Env: env})
	if !errors.Is(err, ErrInvalidStoreDriver) {
		t.Fatalf("error should wrap ErrInvalidStoreDriver, got %v", err)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `bot: author: "ops"`)
	path := filepath.Join(dir, "config.cue")

	loaded, err := LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: path, ConfigDirPath: t.TempDir(), Env: noEnv})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if loaded.Path != path || loaded.Config.Bot.Author != "ops" {
		t.Errorf("loaded = %q %+v", loaded.Path, loaded.Config.Bot)
	}

	_, err = LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(dir, "missing.cue"), Env: noEnv})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("missing file error = %v", err)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir(), Env: noEnv}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestLoadOptions_Validate(t *testing.T) {
	t.Parallel()

	if err := (LoadOptions{}).Validate(); err != nil {
		t.Errorf("empty options should be valid, got %v", err)
	}
	if err := (LoadOptions{ConfigFilePath: "   "}).Validate(); !errors.Is(err, ErrInvalidLoadOptions) {
		t.Errorf("blank file path error = %v", err)
	}
	if err := (LoadOptions{ConfigDirPath: "\t"}).Validate(); !errors.Is(err, ErrInvalidLoadOptions) {
		t.Errorf("blank dir path error = %v", err)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	want := DefaultConfig()
	want.Gateway.Token = "tok"
	want.Gateway.HeartbeatTimeout = 2 * time.Minute
	want.Console.Enabled = true
	want.Console.Token = "pw"

	dir := writeConfig(t, GenerateCUE(want, false))
	got, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, Env: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestGenerateCUE_Redacts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Gateway.Token = "tok"
	cfg.AdminAPI.Token = "api"
	out := GenerateCUE(cfg, true)
	if strings.Contains(out, `"tok"`) || strings.Contains(out, `"api"`) {
		t.Errorf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, `token: "<redacted>"`) {
		t.Errorf("missing redaction marker:\n%s", out)
	}
	// Empty secrets stay empty so an unset token is visible as such.
	if !strings.Contains(out, `password: ""`) {
		t.Errorf("empty password should stay empty:\n%s", out)
	}
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	if got := EnvName("admin_api.token"); got != "GUILDHOST_ADMIN_API_TOKEN" {
		t.Errorf("EnvName() = %q", got)
	}
}

func TestStoreDriver_Validate(t *testing.T) {
	t.Parallel()

	for _, d := range []StoreDriver{StoreDriverSQLite, StoreDriverNeo4j, StoreDriverMemory} {
		if err := d.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", d, err)
		}
	}
	err := StoreDriver("redis").Validate()
	var de *InvalidStoreDriverError
	if !errors.As(err, &de) || de.Value != "redis" {
		t.Errorf("Validate() = %v", err)
	}
}
