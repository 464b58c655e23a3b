package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// InitAuthKeys creates the KeyManager for the configured storage mode.
//
//   - "ephemeral": one key generated at startup, held in memory. Every access
//     token becomes unverifiable on restart.
//   - "persistent": keys are encrypted with the master key and kept in the
//     store, so they survive restarts.
func InitAuthKeys(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) (*jwtx.KeyManager, error) {
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
		logger.Info("master key path configured", "path", cfg.MasterKeyPath)
	}

	opts := jwtx.KeyManagerOptions{
		Algorithm:   cfg.Algorithm,
		RSABits:     cfg.RSABits,
		GracePeriod: cfg.KeyGracePeriod,
	}
	if cfg.KeyStorageMode == KeysPersistent {
		opts.Store = store.NewKeyStoreAdapter(st)
	}

	km, err := jwtx.NewKeyManager(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s key manager: %w", cfg.KeyStorageMode, err)
	}

	logger.Info("signing keys ready",
		"mode", cfg.KeyStorageMode,
		"algorithm", km.Algorithm(),
		"num_keys", len(km.Keys()),
		"grace_period", cfg.KeyGracePeriod,
	)
	if cfg.KeyStorageMode == KeysEphemeral {
		logger.Warn("ephemeral signing keys: access tokens issued before this start no longer verify")
	}
	return km, nil
}
