package cache

import (
	"strings"
	"time"

	"candles-api/pkg/candles"
)

// Namespace is the Redis key prefix for the candle history service.
const Namespace = "candles"

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.ToLower(strings.TrimSpace(part))
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// WindowKey identifies one in-memory cache window.
func WindowKey(assetPair string, priceType candles.PriceType, interval candles.Interval) string {
	return strings.ToLower(assetPair) + "_" + string(priceType) + "_" + string(interval)
}

// LatestCandleKey is the Redis mirror key for the freshest candle of a
// series, consumed by the external read API.
func LatestCandleKey(assetPair string, priceType candles.PriceType, interval candles.Interval) string {
	return formatKey("latest", assetPair, string(priceType), string(interval))
}

// FailedWritesKey is the Redis list carrying undeliverable persistence
// batches for operator alerting.
func FailedWritesKey() string {
	return formatKey("failed_writes")
}

// SnapshotContainer groups all recovery snapshots.
func SnapshotContainer() string {
	return formatKey("snapshot")
}

// CacheSnapshotKey names the cache-window snapshot blob.
func CacheSnapshotKey() string { return "cache_state" }

// QueueSnapshotKey names the persistence-queue snapshot blob.
func QueueSnapshotKey() string { return "queue_state" }

// MigrationSnapshotKey names the migration generator snapshot blob.
func MigrationSnapshotKey() string { return "migration_state" }

// LegacyCacheSnapshotKey is the pre-msgpack cache snapshot location, kept
// readable so restarts across the format upgrade lose nothing.
func LegacyCacheSnapshotKey() string { return "cache_state_v0" }

// LegacyQueueSnapshotKey is the pre-msgpack queue snapshot location.
func LegacyQueueSnapshotKey() string { return "queue_state_v0" }

// LegacyMigrationSnapshotKey is the pre-msgpack migration snapshot location.
func LegacyMigrationSnapshotKey() string { return "migration_state_v0" }

// LatestCandleTTL bounds staleness of the mirrored latest candle.
func LatestCandleTTL(interval candles.Interval) time.Duration {
	d := interval.Duration()
	if d <= 0 || d > time.Hour {
		return time.Hour
	}
	if d < 10*time.Second {
		return 10 * time.Second
	}
	return d
}
