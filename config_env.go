package clientdb

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	StoreName       string        `env:"CLIENTDB_STORE_NAME"`
	CRUDPrefix      string        `env:"CLIENTDB_CRUD_PREFIX"`
	PrimaryKeyField string        `env:"CLIENTDB_PRIMARY_KEY_FIELD"`
	DefaultTTL      time.Duration `env:"CLIENTDB_DEFAULT_TTL"`
}

// ConfigFromEnv overlays CLIENTDB_* environment variables onto cfg and
// returns the result. Unset variables leave the corresponding field
// untouched, so programmatic configuration remains the base layer.
func ConfigFromEnv(cfg Config) (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return cfg, fmt.Errorf("clientdb: parse env config: %w", err)
	}
	cfg.StoreName = coalesce(ec.StoreName, cfg.StoreName)
	cfg.CRUDPrefix = coalesce(ec.CRUDPrefix, cfg.CRUDPrefix)
	cfg.PrimaryKeyField = coalesce(ec.PrimaryKeyField, cfg.PrimaryKeyField)
	cfg.DefaultTTL = coalesce(ec.DefaultTTL, cfg.DefaultTTL)
	return cfg, nil
}
