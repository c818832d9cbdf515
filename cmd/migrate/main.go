package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candles-api/internal/cli"
	"candles-api/internal/config"
	"candles-api/internal/svc"
	migrationpkg "candles-api/pkg/migration"
)

const snapshotPeriod = 30 * time.Second

var configFile = flag.String("f", "etc/candles.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting candle history migration...")

	cfg := config.MustLoad(*configFile)
	cfg.MustSetUp()
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg)
	if svcCtx.MigrationConfig == nil {
		log.Fatal("[main] No migration section configured, nothing to do")
	}

	engine, err := migrationpkg.NewEngine(svcCtx.MigrationConfig, svcCtx.MigrationProviders, svcCtx.MigrationProgress, svcCtx.History)
	if err != nil {
		log.Fatalf("[main] Failed to build migration engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if svcCtx.MigrationSnapshots != nil {
		if state, ok, err := svcCtx.MigrationSnapshots.TryGet(ctx); err != nil {
			log.Printf("[main] Warning: restore generator snapshot: %v", err)
		} else if ok {
			engine.RestoreGeneratorState(state)
			log.Printf("[main] Restored generator state for %d instruments", len(state))
		}
	}

	// Snapshot generator state while the backfill runs so a kill mid-run
	// resumes with gap context intact.
	snapshotDone := make(chan struct{})
	if svcCtx.MigrationSnapshots != nil {
		go func() {
			defer close(snapshotDone)
			ticker := time.NewTicker(snapshotPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					saveGeneratorState(ctx, svcCtx, engine)
				}
			}
		}()
	} else {
		close(snapshotDone)
	}

	runErr := engine.Run(ctx)
	stop()
	<-snapshotDone

	if svcCtx.MigrationSnapshots != nil {
		saveGeneratorState(context.Background(), svcCtx, engine)
	}

	if runErr != nil {
		log.Fatalf("[main] Migration failed: %v", runErr)
	}
	log.Println("[main] Migration finished")
}

func saveGeneratorState(ctx context.Context, svcCtx *svc.ServiceContext, engine *migrationpkg.Engine) {
	if err := svcCtx.MigrationSnapshots.Save(ctx, engine.GeneratorState()); err != nil {
		logx.WithContext(ctx).Errorf("migrate: save generator snapshot: %v", err)
	}
}
