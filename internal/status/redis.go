package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/protocol"
)

const (
	redisQueueSize      = 256
	redisPublishTimeout = 2 * time.Second
)

// ChannelFor is the pub/sub channel carrying one call's status events.
func ChannelFor(callID string) string {
	return fmt.Sprintf("call:%s:status", callID)
}

// RedisSink republishes status events to Redis so observers attached to
// other instances receive them. Publishing happens on a background goroutine.
type RedisSink struct {
	client *redis.Client
	queue  chan protocol.StatusEvent
	log    *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedisSink(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisSink(client, logger), nil
}

func newRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RedisSink{
		client: client,
		queue:  make(chan protocol.StatusEvent, redisQueueSize),
		log:    logger.Named("status_redis"),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RedisSink) Send(ev protocol.StatusEvent) {
	select {
	case <-s.done:
	case s.queue <- ev:
	default:
		s.log.Warn("redis status queue full, event dropped", zap.String("call_id", ev.CallID))
	}
}

func (s *RedisSink) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.publish(ev)
		}
	}
}

func (s *RedisSink) publish(ev protocol.StatusEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("encode status event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := s.client.Publish(ctx, ChannelFor(ev.CallID), payload).Err(); err != nil {
		s.log.Warn("redis publish failed", zap.String("call_id", ev.CallID), zap.Error(err))
	}
}

func (s *RedisSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.client.Close()
}
