package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LOANENGINE_* environment variable overrides,
// and returns the final Config. Pass an empty path to skip the file and use
// defaults plus environment only. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LOANENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Host, "LOANENGINE_SERVER_HOST")
	setInt(&cfg.Server.Port, "LOANENGINE_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "LOANENGINE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "LOANENGINE_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "LOANENGINE_SERVER_SHUTDOWN_TIMEOUT")

	setStr(&cfg.Database.DSN, "LOANENGINE_DATABASE_DSN")
	setInt(&cfg.Database.PoolMaxConns, "LOANENGINE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "LOANENGINE_DATABASE_POOL_MIN_CONNS")

	setStr(&cfg.Redis.Addr, "LOANENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOANENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOANENGINE_REDIS_DB")
	setDuration(&cfg.Redis.TTL, "LOANENGINE_REDIS_TTL")

	setStr(&cfg.LogLevel, "LOANENGINE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
