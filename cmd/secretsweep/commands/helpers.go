package commands

import (
	"context"

	"github.com/systmms/secretsweep/internal/config"
	"github.com/systmms/secretsweep/internal/logging"
	"github.com/systmms/secretsweep/internal/store"
)

// connect resolves the store settings and opens the message database.
func connect(ctx context.Context, cfg *config.Config) (*store.Store, store.Config, error) {
	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, store.Config{}, err
	}
	if cfg.Logger.DebugEnabled() {
		cfg.Logger.Debug("Connecting to %s database %s on %s:%s as %s (password: %v)",
			storeCfg.Driver, storeCfg.Database, storeCfg.Host, storeCfg.Port, storeCfg.User,
			logging.Secret(storeCfg.Password))
	}
	st, err := openStore(ctx, storeCfg)
	if err != nil {
		return nil, store.Config{}, err
	}
	return st, storeCfg, nil
}
