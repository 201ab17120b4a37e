package snapshot

import (
	"context"
	"fmt"

	"collabsync/pkg/config"
)

// Open создаёт хранилище по секции persistence конфига
func Open(ctx context.Context, cfg config.PersistenceConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "bolt":
		return OpenBolt(cfg.Path)
	case "postgres":
		store, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate snapshots: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Driver)
	}
}

// OptionsFromConfig переводит секцию persistence в настройки Persister
func OptionsFromConfig(cfg config.PersistenceConfig) Options {
	return Options{
		Interval:      cfg.SnapshotInterval(),
		Retries:       cfg.Retries,
		RetryInitial:  cfg.RetryInitial(),
		WarnThreshold: cfg.WarnThreshold,
	}
}
