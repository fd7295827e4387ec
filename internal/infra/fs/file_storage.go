package fs

// JSON files under the data directory (data_out by default)
// progress.json - collector checkpoint
// non_zero_holders.json - last published snapshot
// output.json, rune_metadata.json - dumps of the last run for operators
// Writes go to a temp file and are renamed into place

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rune-holders/internal/features/holders"
)

const (
	DefaultDataDir = "data_out"

	ProgressFile = "progress.json"
	SnapshotFile = "non_zero_holders.json"
	HoldersFile  = "output.json"
	MetadataFile = "rune_metadata.json"
)

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDataDir
	}
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) writeJSON(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

// readJSON returns os.ErrNotExist (wrapped) when the file is missing or empty.
func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty: %w", name, os.ErrNotExist)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// Progress implements holders.ProgressStore.
func (s *Store) Load(_ context.Context) (*holders.Progress, error) {
	var p holders.Progress
	if err := s.readJSON(ProgressFile, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) Save(_ context.Context, p *holders.Progress) error {
	return s.writeJSON(ProgressFile, p)
}

func (s *Store) Clear(_ context.Context) error {
	if err := os.Remove(s.path(ProgressFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", ProgressFile, err)
	}
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context) (*holders.Snapshot, error) {
	var snap holders.Snapshot
	if err := s.readJSON(SnapshotFile, &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, holders.ErrNoSnapshot
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap *holders.Snapshot) error {
	return s.writeJSON(SnapshotFile, snap)
}

// SaveHolders dumps every collected holder, zero balances included.
func (s *Store) SaveHolders(all []holders.HolderRecord) error {
	if all == nil {
		all = []holders.HolderRecord{}
	}
	return s.writeJSON(HoldersFile, all)
}

func (s *Store) SaveMetadata(raw json.RawMessage) error {
	return s.writeJSON(MetadataFile, raw)
}
