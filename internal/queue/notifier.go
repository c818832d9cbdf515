package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	candlecache "candles-api/internal/cache"
	"candles-api/pkg/candles"
)

// Notifier is the outbound channel for persistence batches that could
// not be committed, so an operator-facing consumer can alert.
type Notifier interface {
	NotifyFailedWrites(ctx context.Context, batch []candles.Candle, cause error)
}

// RedisNotifier pushes undeliverable batches onto a Redis list consumed
// by the alerting pipeline. Notification is best effort; delivery of the
// candles themselves is still guaranteed by the queue's retry loop.
type RedisNotifier struct {
	client *redis.Redis
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier wraps a redis client into the notification channel.
func NewRedisNotifier(client *redis.Redis) *RedisNotifier {
	return &RedisNotifier{client: client}
}

type failedWriteEvent struct {
	At      time.Time        `json:"at"`
	Error   string           `json:"error"`
	Candles []candles.Candle `json:"candles"`
}

func (n *RedisNotifier) NotifyFailedWrites(ctx context.Context, batch []candles.Candle, cause error) {
	event := failedWriteEvent{At: time.Now().UTC(), Error: cause.Error(), Candles: batch}
	payload, err := json.Marshal(event)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistqueue: encode failed-write event: %v", err)
		return
	}
	if _, err := n.client.LpushCtx(ctx, candlecache.FailedWritesKey(), string(payload)); err != nil {
		logx.WithContext(ctx).Errorf("persistqueue: publish failed-write event: %v", err)
	}
}

// LogNotifier is the fallback channel when Redis is not configured.
type LogNotifier struct{}

func (LogNotifier) NotifyFailedWrites(ctx context.Context, batch []candles.Candle, cause error) {
	logx.WithContext(ctx).Errorf("persistqueue: %d candles undeliverable: %v", len(batch), cause)
}
