package svc

import (
	"log"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"candles-api/internal/cache"
	"candles-api/internal/config"
	"candles-api/internal/feed"
	"candles-api/internal/queue"
	"candles-api/internal/snapshot"
	"candles-api/internal/storage"
	"candles-api/pkg/candles"
	migrationpkg "candles-api/pkg/migration"
	_ "candles-api/pkg/migration/ticksource"
)

type ServiceContext struct {
	Config config.Config

	DBConn sqlx.SqlConn
	Redis  *redis.Redis

	RowStore storage.RowStore
	History  storage.HistoryRepository
	Cache    *cache.CandleCache
	Queue    *queue.PersistenceQueue
	Feed     *feed.Service

	Blobs              snapshot.BlobStore
	CacheSnapshots     *snapshot.Repository[snapshot.CacheState]
	QueueSnapshots     *snapshot.Repository[snapshot.QueueState]
	MigrationSnapshots *snapshot.Repository[snapshot.MigrationState]

	MigrationConfig    *migrationpkg.Config
	MigrationProviders map[string]migrationpkg.HistoryProvider
	MigrationProgress  migrationpkg.ProgressStore
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	svc.DBConn = sqlx.NewSqlConn("pgx", c.Postgres.DSN)
	svc.RowStore = storage.NewPostgresRowStore(svc.DBConn)
	svc.History = storage.NewMultiplexedRepository(func(assetPair string, interval candles.Interval) storage.PairRepository {
		return storage.NewAssetPairRepository(svc.RowStore, assetPair, interval)
	})

	if strings.TrimSpace(c.Redis.Host) != "" {
		svc.Redis = redis.MustNewRedis(c.Redis)
	}

	svc.Cache = cache.NewCandleCache(c.Cache.WindowSize, svc.Redis)

	var notifier queue.Notifier
	if svc.Redis != nil {
		notifier = queue.NewRedisNotifier(svc.Redis)
	}
	svc.Queue = queue.NewPersistenceQueue(svc.History, notifier)

	svc.Feed = feed.NewService(svc.Cache, svc.Queue, svc.History,
		c.StoredIntervals(), c.PriceAccuracy, c.DefaultAccuracy)

	if svc.Redis != nil {
		svc.Blobs = snapshot.NewRedisBlobStore(svc.Redis)
		svc.CacheSnapshots = snapshot.NewCacheSnapshots(svc.Blobs)
		svc.QueueSnapshots = snapshot.NewQueueSnapshots(svc.Blobs)
		svc.MigrationSnapshots = snapshot.NewMigrationSnapshots(svc.Blobs)
	}

	if c.Migration.Value != nil {
		svc.MigrationConfig = c.Migration.Value
		providers, err := svc.MigrationConfig.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build migration providers: %v", err)
		}
		svc.MigrationProviders = providers
		svc.MigrationProgress = migrationpkg.NewPostgresProgressStore(svc.DBConn)
	}

	return svc
}
