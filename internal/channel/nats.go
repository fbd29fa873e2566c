/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Bucket is the JetStream key-value bucket; the aggregate lives under
	// the key Name.
	Bucket string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Bucket:        "SLOTWATCH",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSChannel stores the aggregate in a JetStream key-value bucket and
// turns KV watch updates into subscription deliveries.
type NATSChannel struct {
	conn   *nats.Conn
	kv     nats.KeyValue
	logger zerolog.Logger

	mu       sync.Mutex
	watchers []nats.KeyWatcher
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewNATSChannel connects to NATS and opens (or creates) the bucket.
func NewNATSChannel(cfg NATSConfig, logger zerolog.Logger) (*NATSChannel, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSConfig().Bucket
	}
	logger = logger.With().Str("component", "nats_channel").Logger()

	opts := []nats.Option{
		nats.Name("slotwatch"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "slotwatch schedule aggregate",
			History:     1,
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open kv bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("NATS schedule channel initialized")

	return &NATSChannel{
		conn:   conn,
		kv:     kv,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Subscribe watches the aggregate key. The watcher replays the current
// value first, which serves as the initial delivery.
func (nc *NATSChannel) Subscribe(ctx context.Context, h Handler) error {
	w, err := nc.kv.Watch(Name)
	if err != nil {
		return fmt.Errorf("watch %s: %w", Name, err)
	}

	nc.mu.Lock()
	nc.watchers = append(nc.watchers, w)
	nc.mu.Unlock()

	nc.wg.Add(1)
	go nc.receiveUpdates(w, h)
	return nil
}

func (nc *NATSChannel) receiveUpdates(w nats.KeyWatcher, h Handler) {
	defer nc.wg.Done()

	for {
		select {
		case <-nc.done:
			return
		case entry, ok := <-w.Updates():
			if !ok {
				return
			}
			// nil marks the end of the initial replay.
			if entry == nil {
				continue
			}
			snap, err := decodeEntry(entry)
			if err != nil {
				nc.logger.Error().Err(err).Uint64("revision", entry.Revision()).Msg("failed to decode aggregate")
				continue
			}
			h(context.Background(), snap)
		}
	}
}

func decodeEntry(entry nats.KeyValueEntry) (Snapshot, error) {
	switch entry.Operation() {
	case nats.KeyValueDelete, nats.KeyValuePurge:
		return nil, nil
	}
	return Decode(entry.Value())
}

// FetchAggregate reads the aggregate key. A missing key yields nil.
func (nc *NATSChannel) FetchAggregate(ctx context.Context) (Snapshot, error) {
	entry, err := nc.kv.Get(Name)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	return decodeEntry(entry)
}

// Publish merges snap into the aggregate. The write is conditional on the
// revision read; a concurrent writer yields ErrConflict.
func (nc *NATSChannel) Publish(ctx context.Context, snap Snapshot) error {
	base, revision, err := nc.load()
	if err != nil {
		return err
	}
	return nc.store(Merge(base, snap), revision)
}

// load returns the aggregate and its revision; zero when the key is absent.
func (nc *NATSChannel) load() (Snapshot, uint64, error) {
	entry, err := nc.kv.Get(Name)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get aggregate: %w", err)
	}
	base, err := decodeEntry(entry)
	if err != nil {
		return nil, 0, err
	}
	return base, entry.Revision(), nil
}

func (nc *NATSChannel) store(snap Snapshot, revision uint64) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	if revision == 0 {
		_, err = nc.kv.Create(Name, data)
	} else {
		_, err = nc.kv.Update(Name, data, revision)
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return fmt.Errorf("update aggregate at revision %d: %w", revision, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	nc.logger.Debug().Uint64("previous_revision", revision).Msg("published schedule aggregate to NATS")
	return nil
}

// Close stops watchers and drains the connection.
func (nc *NATSChannel) Close() error {
	nc.logger.Info().Msg("closing NATS schedule channel")
	close(nc.done)

	nc.mu.Lock()
	for _, w := range nc.watchers {
		_ = w.Stop()
	}
	nc.watchers = nil
	nc.mu.Unlock()

	nc.wg.Wait()
	return nc.conn.Drain()
}
