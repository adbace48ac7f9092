package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atmx/storefront-engine/internal/metrics"
)

// Validator is implemented by snapshots whose invariants go beyond their
// JSON shape.
type Validator interface {
	Validate() error
}

// Load reads the snapshot stored under key and decodes it into T.
// Missing, unreadable, corrupt or invalid data yields def; Load never fails.
func Load[T any](ctx context.Context, kv KV, key string, def T, log zerolog.Logger) T {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot read failed, using default")
		metrics.SnapshotFallbacks.WithLabelValues(key, "read_error").Inc()
		return def
	}
	if !ok || raw == "" {
		metrics.SnapshotFallbacks.WithLabelValues(key, "missing").Inc()
		return def
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt snapshot, using default")
		metrics.SnapshotFallbacks.WithLabelValues(key, "corrupt").Inc()
		return def
	}
	if vd, ok := any(v).(Validator); ok {
		if err := vd.Validate(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("snapshot breaks invariants, using default")
			metrics.SnapshotFallbacks.WithLabelValues(key, "corrupt").Inc()
			return def
		}
	}
	return v
}

// Save encodes v and writes it under key.
func Save[T any](ctx context.Context, kv KV, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return kv.Set(ctx, key, string(data))
}
