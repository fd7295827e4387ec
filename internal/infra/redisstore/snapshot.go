package redisstore

// Published holder snapshot kept in Redis under one key
// A single SET replaces the whole snapshot so readers never see a partial one

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rune-holders/internal/features/holders"
	logging "rune-holders/internal/infra/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultKeyPrefix = "rune-holders"

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type SnapshotStore struct {
	client *redis.Client
	key    string
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, opts Options, runeName string) (*SnapshotStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logging.LogInfo("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return NewSnapshotStore(rdb, opts.KeyPrefix, runeName), nil
}

func NewSnapshotStore(client *redis.Client, prefix, runeName string) *SnapshotStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SnapshotStore{client: client, key: fmt.Sprintf("%s:snapshot:%s", prefix, runeName)}
}

func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (*holders.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, holders.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot [%s]: %w", s.key, err)
	}

	var snap holders.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot [%s]: %w", s.key, err)
	}
	return &snap, nil
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *holders.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("setting snapshot [%s]: %w", s.key, err)
	}
	return nil
}

func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
