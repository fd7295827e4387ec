package pebbledb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"rune-holders/internal/features/holders"
	logging "rune-holders/internal/infra/log"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

const progressKeyPrefix = "progress:"

// ProgressStore keeps the collector checkpoint in a local pebble database, one key per rune.
type ProgressStore struct {
	db  *pebble.DB
	key []byte
}

func NewProgressStore(storeDir, runeName string) (*ProgressStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "rune-holders-progress"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %w", err)
	}
	return &ProgressStore{db: db, key: []byte(progressKeyPrefix + runeName)}, nil
}

func (ps *ProgressStore) Load(_ context.Context) (*holders.Progress, error) {
	value, closer, err := ps.db.Get(ps.key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting value for key [%s]: %w", ps.key, err)
	}
	defer closer.Close()

	var p holders.Progress
	if err := json.Unmarshal(value, &p); err != nil {
		return nil, fmt.Errorf("decoding progress for key [%s]: %w", ps.key, err)
	}
	return &p, nil
}

func (ps *ProgressStore) Save(_ context.Context, p *holders.Progress) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	// sync so a crash right after a page does not lose it
	if err := ps.db.Set(ps.key, value, pebble.Sync); err != nil {
		return fmt.Errorf("setting key [%s]: %w", ps.key, err)
	}
	return nil
}

func (ps *ProgressStore) Clear(_ context.Context) error {
	if err := ps.db.Delete(ps.key, pebble.Sync); err != nil {
		return fmt.Errorf("deleting key [%s]: %w", ps.key, err)
	}
	return nil
}

func (ps *ProgressStore) Close() error {
	if err := ps.db.Close(); err != nil {
		logging.LogWarn("Failed to close pebble store", zap.Error(err))
		return err
	}
	return nil
}
