/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// AggregateKey holds the JSON aggregate; UpdatesChannel carries change
	// notifications.
	AggregateKey   string
	UpdatesChannel string

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:           "localhost:6379",
		AggregateKey:   "slotwatch:channel:" + Name,
		UpdatesChannel: "slotwatch:channel:" + Name + ":updates",
		PoolSize:       10,
		MinIdleConns:   2,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

// RedisChannel stores the aggregate under a key and announces every change
// over Redis pub/sub, so all instances sharing the key see the same
// schedule definition.
type RedisChannel struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
	nodeID string

	mu      sync.Mutex
	pubsubs []*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// redisMessage is the notification published on every aggregate change.
type redisMessage struct {
	NodeID    string    `json:"node_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Aggregate Snapshot  `json:"aggregate"`
}

// NewRedisChannel connects to Redis and verifies the connection.
func NewRedisChannel(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisChannel, error) {
	defaults := DefaultRedisConfig()
	if cfg.AggregateKey == "" {
		cfg.AggregateKey = defaults.AggregateKey
	}
	if cfg.UpdatesChannel == "" {
		cfg.UpdatesChannel = defaults.UpdatesChannel
	}
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc := &RedisChannel{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_channel").Logger(),
		nodeID: nodeID,
		ctx:    ctx,
		cancel: cancel,
	}

	rc.logger.Info().Str("addr", cfg.Addr).Str("key", cfg.AggregateKey).Msg("Redis schedule channel initialized")
	return rc, nil
}

// Subscribe registers h for change notifications and reads the current
// aggregate. A single receiver goroutine delivers the aggregate first and
// then every notification, so h never runs concurrently with itself.
func (rc *RedisChannel) Subscribe(ctx context.Context, h Handler) error {
	pubsub := rc.client.Subscribe(rc.ctx, rc.cfg.UpdatesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", rc.cfg.UpdatesChannel, err)
	}

	// Notifications published after this read queue up on the pubsub.
	current, err := rc.FetchAggregate(ctx)
	if err != nil {
		_ = pubsub.Close()
		return err
	}

	rc.mu.Lock()
	rc.pubsubs = append(rc.pubsubs, pubsub)
	rc.mu.Unlock()

	rc.wg.Add(1)
	go rc.receiveMessages(pubsub, current, h)
	return nil
}

func (rc *RedisChannel) receiveMessages(pubsub *redis.PubSub, initial Snapshot, h Handler) {
	defer rc.wg.Done()

	ch := pubsub.Channel()
	rc.logger.Debug().Str("channel", rc.cfg.UpdatesChannel).Msg("started Redis message receiver")

	if initial != nil {
		h(rc.ctx, initial)
	}

	for {
		select {
		case <-rc.ctx.Done():
			rc.logger.Debug().Msg("stopping Redis message receiver")
			return

		case msg, ok := <-ch:
			if !ok {
				rc.logger.Warn().Msg("Redis channel closed")
				return
			}

			var m redisMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				rc.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
				continue
			}

			rc.logger.Debug().
				Str("source_node", m.NodeID).
				Str("message_id", m.MessageID).
				Msg("schedule aggregate changed")
			h(rc.ctx, m.Aggregate)
		}
	}
}

// FetchAggregate reads the aggregate key. A missing key yields nil.
func (rc *RedisChannel) FetchAggregate(ctx context.Context) (Snapshot, error) {
	data, err := rc.client.Get(ctx, rc.cfg.AggregateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	return Decode(data)
}

// Publish merges snap into the aggregate inside a WATCH transaction and
// announces the result.
func (rc *RedisChannel) Publish(ctx context.Context, snap Snapshot) error {
	var merged Snapshot
	txf := func(tx *redis.Tx) error {
		var base Snapshot
		data, err := tx.Get(ctx, rc.cfg.AggregateKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if base, err = Decode(data); err != nil {
				return err
			}
		}

		merged = Merge(base, snap)
		encoded, err := Encode(merged)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rc.cfg.AggregateKey, encoded, 0)
			return nil
		})
		return err
	}

	err := rc.client.Watch(ctx, txf, rc.cfg.AggregateKey)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("update aggregate: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}

	data, err := json.Marshal(redisMessage{
		NodeID:    rc.nodeID,
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
		Aggregate: merged,
	})
	if err != nil {
		return fmt.Errorf("marshal redis message: %w", err)
	}
	if err := rc.client.Publish(ctx, rc.cfg.UpdatesChannel, data).Err(); err != nil {
		return fmt.Errorf("announce aggregate: %w", err)
	}

	rc.logger.Debug().Str("node_id", rc.nodeID).Msg("published schedule aggregate to Redis")
	return nil
}

// Close stops receivers and closes the Redis client.
func (rc *RedisChannel) Close() error {
	rc.logger.Info().Msg("closing Redis schedule channel")
	rc.cancel()

	rc.mu.Lock()
	for _, ps := range rc.pubsubs {
		_ = ps.Close()
	}
	rc.pubsubs = nil
	rc.mu.Unlock()

	rc.wg.Wait()
	return rc.client.Close()
}
