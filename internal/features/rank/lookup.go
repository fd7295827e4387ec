package rank

// Rank lookup over the last published non-zero holder set
// Snapshot sources, in order: in-memory TTL cache, snapshot store, document-store bins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rune-holders/internal/features/holders"
	logging "rune-holders/internal/infra/log"
	"rune-holders/internal/infra/metrics"

	sdkmath "cosmossdk.io/math"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	snapshotKey     = "snapshot"
)

type Rank struct {
	Rank           int // 1-based
	Balance        sdkmath.Int
	NonZeroHolders int
}

type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*holders.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *holders.Snapshot) error
}

type BinReader interface {
	ReadBin(ctx context.Context, key string, out any) error
}

type Lookup struct {
	cache   *ttlcache.Cache[string, *holders.Snapshot]
	store   SnapshotStore
	reader  BinReader
	keys    []string
	runeKey string
	metrics *metrics.Metrics

	loadMu sync.Mutex
}

type Options struct {
	Store    SnapshotStore
	Reader   BinReader // optional, enables reconstruction from bins
	Keys     []string
	Rune     string
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

func NewLookup(opts Options) *Lookup {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Lookup{
		cache:   ttlcache.New[string, *holders.Snapshot](ttlcache.WithTTL[string, *holders.Snapshot](ttl)),
		store:   opts.Store,
		reader:  opts.Reader,
		keys:    opts.Keys,
		runeKey: opts.Rune,
		metrics: opts.Metrics,
	}
}

// FindRank scans nonZero for address (exact, case-sensitive) and returns its 1-based position.
func FindRank(nonZero []holders.HolderRecord, address string) (Rank, bool) {
	for i, h := range nonZero {
		if h.Address == address {
			return Rank{Rank: i + 1, Balance: h.Balance, NonZeroHolders: len(nonZero)}, true
		}
	}
	return Rank{}, false
}

func (l *Lookup) RankOf(ctx context.Context, address string) (Rank, bool, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		l.metrics.IncLookup("error")
		return Rank{}, false, err
	}

	r, ok := FindRank(snap.Holders, address)
	if !ok {
		l.metrics.IncLookup("not_found")
		logging.LogInfo("Address not in non-zero holders", zap.String("address", address))
		return Rank{}, false, nil
	}
	l.metrics.IncLookup("found")
	return r, true, nil
}

// Snapshot returns the current published set, loading it when the cache is cold.
func (l *Lookup) Snapshot(ctx context.Context) (*holders.Snapshot, error) {
	if item := l.cache.Get(snapshotKey); item != nil {
		l.metrics.IncSnapshotSource("cache")
		return item.Value(), nil
	}

	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if item := l.cache.Get(snapshotKey); item != nil {
		l.metrics.IncSnapshotSource("cache")
		return item.Value(), nil
	}

	snap, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	l.cache.Set(snapshotKey, snap, ttlcache.DefaultTTL)
	return snap, nil
}

func (l *Lookup) Invalidate() {
	l.cache.Delete(snapshotKey)
}

func (l *Lookup) load(ctx context.Context) (*holders.Snapshot, error) {
	if l.store != nil {
		snap, err := l.store.LoadSnapshot(ctx)
		if err == nil {
			l.metrics.IncSnapshotSource("store")
			return snap, nil
		}
		if !errors.Is(err, holders.ErrNoSnapshot) {
			return nil, fmt.Errorf("loading holder snapshot: %w", err)
		}
	}

	if l.reader == nil || len(l.keys) == 0 {
		return nil, holders.ErrNoSnapshot
	}

	snap, err := l.reconstruct(ctx)
	if err != nil {
		return nil, err
	}
	l.metrics.IncSnapshotSource("document_store")

	if l.store != nil {
		if err := l.store.SaveSnapshot(ctx, snap); err != nil {
			logging.LogWarn("Failed to save reconstructed snapshot", zap.Error(err))
		}
	}
	return snap, nil
}

// reconstruct concatenates every bin in key order.
func (l *Lookup) reconstruct(ctx context.Context) (*holders.Snapshot, error) {
	var all []holders.HolderRecord
	for _, key := range l.keys {
		var chunk []holders.HolderRecord
		if err := l.reader.ReadBin(ctx, key, &chunk); err != nil {
			return nil, fmt.Errorf("reconstructing snapshot: %w", err)
		}
		all = append(all, chunk...)
	}

	nonZero := holders.NonZero(all)
	if len(nonZero) == 0 {
		return nil, holders.ErrNoSnapshot
	}

	logging.LogInfo("Snapshot reconstructed from document store",
		zap.Int("keys", len(l.keys)),
		zap.Int("holders", len(nonZero)))
	return &holders.Snapshot{
		Rune:        l.runeKey,
		PublishedAt: time.Now().UTC(),
		Holders:     nonZero,
	}, nil
}
