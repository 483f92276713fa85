// Package config loads the layered runtime configuration every subcommand
// in cmd/pgsync shares: source DSN, search-engine connection, queue URL,
// checkpoint directory, and the replication tunables from §4.5/§12. Env
// vars prefixed PGSYNC_ always win over file values, the same precedence
// the teacher's internal/config + internal/configfile packages give
// YamlOnlyKeys over their SQLite-backed settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration for one process.
type Config struct {
	// Database identifies the (database, index) pair that names the
	// replication slot, checkpoint file, and queue key (§3.4, §3.6).
	Database string `mapstructure:"database"`
	Index    string `mapstructure:"index"`

	SourceDSN string `mapstructure:"source_dsn"`

	SearchEngine    string `mapstructure:"search_engine"` // "elasticsearch" | "opensearch"
	SearchAddresses []string `mapstructure:"search_addresses"`
	SearchUsername  string `mapstructure:"search_username"`
	SearchPassword  string `mapstructure:"search_password"`
	SearchInsecure  bool   `mapstructure:"search_insecure_tls"`

	RedisURL string `mapstructure:"redis_url"`

	CheckpointPath string `mapstructure:"checkpoint_path"`
	SchemaPath     string `mapstructure:"schema_path"`

	QueryChunkSize    int `mapstructure:"query_chunk_size"`
	RedisReadChunkSize int `mapstructure:"redis_read_chunk_size"`
	BulkChunkSize     int `mapstructure:"bulk_chunk_size"`

	NthreadsPolldb int           `mapstructure:"nthreads_polldb"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`

	RetryMaxRetries      int           `mapstructure:"retry_max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

// defaults mirrors the original's settings.py numeric tunables (§12
// "Settings precedence").
var defaults = map[string]any{
	"search_engine":          "elasticsearch",
	"checkpoint_path":        "/var/run/pgsync",
	"query_chunk_size":       10000,
	"redis_read_chunk_size":  1000,
	"bulk_chunk_size":        500,
	"nthreads_polldb":        1,
	"poll_timeout":           "1s",
	"retry_max_retries":      5,
	"retry_initial_interval": "1s",
	"retry_max_interval":     "30s",
	"search_insecure_tls":    false,
}

// Load reads path (a .yaml/.yml/.toml file, optional — an empty path skips
// straight to env/defaults) and overlays PGSYNC_-prefixed environment
// variables, which always win (§10.1, §12).
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("PGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range []string{"database", "index", "source_dsn", "search_addresses", "search_username", "search_password", "redis_url", "schema_path"} {
		_ = v.BindEnv(k)
	}

	if path != "" {
		if err := readConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if cfg.SearchAddresses == nil {
		if addr := v.GetString("search_addresses"); addr != "" {
			cfg.SearchAddresses = strings.Split(addr, ",")
		}
	}
	if cfg.Database == "" || cfg.Index == "" {
		return nil, fmt.Errorf("configuration must set both database and index")
	}
	return &cfg, nil
}

// readConfigFile loads path into v. .toml files are decoded with
// BurntSushi/toml and .yaml/.yml with gopkg.in/yaml.v3 (both teacher
// dependencies), then merged into v's config map directly, rather than
// relying on viper's own bundled format support, since this codebase
// already trusts those two parsers elsewhere; any other extension falls
// back to viper's own reader.
func readConfigFile(v *viper.Viper, path string) error {
	switch {
	case strings.HasSuffix(path, ".toml"):
		var raw map[string]any
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return fmt.Errorf("decode toml config %s: %w", path, err)
		}
		return v.MergeConfigMap(raw)

	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read yaml config %s: %w", path, err)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode yaml config %s: %w", path, err)
		}
		return v.MergeConfigMap(raw)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}
