package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// KVRepo persists small values that must survive restarts: the auth token,
// the onboarding flag and profile, and the cached progress state.
type KVRepo interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set inserts or replaces the value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

type kvRepo struct {
	drv dialect.Driver
}

func (r *kvRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rows, err := query(ctx, r.drv, builder().Select("value").
		From(entsql.Table("kv")).
		Where(entsql.EQ("key", key)))
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var value []byte
	if err := rows.Scan(&value); err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (r *kvRepo) Set(ctx context.Context, key string, value []byte) error {
	err := exec(ctx, r.drv, builder().Insert("kv").
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("key"),
			entsql.ResolveWithNewValues(),
		))
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (r *kvRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]driver.Value, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if err := exec(ctx, r.drv, builder().Delete("kv").Where(entsql.InValues("key", args...))); err != nil {
		return fmt.Errorf("delete %v: %w", keys, err)
	}
	return nil
}
