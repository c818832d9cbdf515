package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candles-api/internal/cli"
	"candles-api/internal/config"
	"candles-api/internal/svc"
)

const shutdownTimeout = 10 * time.Second // Grace period for shutdown

var configFile = flag.String("f", "etc/candles.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting candles service...")

	cfg := config.MustLoad(*configFile)
	cfg.MustSetUp()
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restoreState(ctx, svcCtx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDispatchLoop(ctx, svcCtx)
	}()

	if svcCtx.CacheSnapshots != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSnapshotLoop(ctx, svcCtx)
		}()
	}

	log.Println("[main] Candles service started. Press Ctrl+C to stop.")

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	// Final flush so pending candles and state survive the restart.
	flushOnShutdown(shutdownCtx, svcCtx)

	log.Println("[main] Candles service stopped")
}

// restoreState reloads cache windows and the pending queue from the last
// snapshot before any live traffic is accepted.
func restoreState(ctx context.Context, svcCtx *svc.ServiceContext) {
	if svcCtx.CacheSnapshots == nil {
		log.Println("[main] Snapshots disabled (no redis), starting cold")
		return
	}
	if state, ok, err := svcCtx.CacheSnapshots.TryGet(ctx); err != nil {
		log.Printf("[main] Warning: restore cache snapshot: %v", err)
	} else if ok {
		svcCtx.Cache.Restore(state)
		log.Printf("[main] Restored %d cache windows", len(state))
	}
	if state, ok, err := svcCtx.QueueSnapshots.TryGet(ctx); err != nil {
		log.Printf("[main] Warning: restore queue snapshot: %v", err)
	} else if ok {
		svcCtx.Queue.SetState(state)
		log.Printf("[main] Restored %d pending candles", len(state))
	}
}

// runDispatchLoop drains the persistence queue on a timer.
func runDispatchLoop(ctx context.Context, svcCtx *svc.ServiceContext) {
	period := time.Duration(svcCtx.Config.Dispatch.PeriodSeconds) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[dispatch] Stopping dispatch loop")
			return
		case <-ticker.C:
			if err := svcCtx.Queue.DispatchToPersist(ctx, svcCtx.Config.Dispatch.MaxBatch); err != nil {
				logx.WithContext(ctx).Errorf("dispatch: tick failed pending=%d err=%v", svcCtx.Queue.Len(), err)
			}
		}
	}
}

// runSnapshotLoop persists cache and queue state on a timer.
func runSnapshotLoop(ctx context.Context, svcCtx *svc.ServiceContext) {
	period := time.Duration(svcCtx.Config.Snapshot.PeriodSeconds) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[snapshot] Stopping snapshot loop")
			return
		case <-ticker.C:
			saveSnapshots(ctx, svcCtx)
		}
	}
}

func saveSnapshots(ctx context.Context, svcCtx *svc.ServiceContext) {
	if err := svcCtx.CacheSnapshots.Save(ctx, svcCtx.Cache.State()); err != nil {
		logx.WithContext(ctx).Errorf("snapshot: save cache state: %v", err)
	}
	if err := svcCtx.QueueSnapshots.Save(ctx, svcCtx.Queue.State()); err != nil {
		logx.WithContext(ctx).Errorf("snapshot: save queue state: %v", err)
	}
}

// flushOnShutdown makes a last attempt to drain the queue, then records
// whatever is left in the snapshot so nothing is lost across restarts.
func flushOnShutdown(ctx context.Context, svcCtx *svc.ServiceContext) {
	for svcCtx.Queue.Len() > 0 {
		if err := svcCtx.Queue.DispatchToPersist(ctx, svcCtx.Config.Dispatch.MaxBatch); err != nil {
			log.Printf("[main] Warning: final dispatch: %v", err)
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if svcCtx.CacheSnapshots != nil {
		saveSnapshots(ctx, svcCtx)
		log.Println("[main] Final snapshot saved")
	}
}
