package holders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	records []HolderRecord
	total   int
	failAt  map[int]error
	calls   []int
}

func newFakeFetcher(records []HolderRecord) *fakeFetcher {
	return &fakeFetcher{records: records, total: len(records)}
}

func (f *fakeFetcher) FetchPage(_ context.Context, offset, limit int) (*Page, error) {
	f.calls = append(f.calls, offset)
	if err, ok := f.failAt[offset]; ok {
		return nil, err
	}
	page := &Page{Total: f.total, Offset: offset, Limit: limit}
	if offset < len(f.records) {
		end := min(offset+limit, len(f.records))
		page.Results = append([]HolderRecord(nil), f.records[offset:end]...)
	}
	return page, nil
}

// descendingHolders returns nonZero holders with strictly decreasing balances followed by zero holders.
func descendingHolders(nonZero, zero int) []HolderRecord {
	out := make([]HolderRecord, 0, nonZero+zero)
	for i := 0; i < nonZero; i++ {
		out = append(out, NewHolderRecord(fmt.Sprintf("bc1q-holder-%03d", i), sdkmath.NewInt(int64(1000+nonZero-i))))
	}
	for i := 0; i < zero; i++ {
		out = append(out, NewHolderRecord(fmt.Sprintf("bc1q-empty-%03d", i), sdkmath.ZeroInt()))
	}
	return out
}

func collectorConfig() CollectorConfig {
	return CollectorConfig{Rune: "WISHYWASHYMACHINE", PageSize: 60}
}

func TestHolderRecord_JSON(t *testing.T) {
	t.Run("string balance keeps extra fields", func(t *testing.T) {
		in := `{"address":"bc1qabc","balance":"340282366920938463463374607431768211455","extra":{"a":1}}`
		var h HolderRecord
		require.NoError(t, json.Unmarshal([]byte(in), &h))
		assert.Equal(t, "bc1qabc", h.Address)
		assert.Equal(t, "340282366920938463463374607431768211455", h.Balance.String())
		assert.True(t, h.NonZero())

		out, err := json.Marshal(h)
		require.NoError(t, err)
		assert.JSONEq(t, in, string(out))
	})

	t.Run("numeric balance", func(t *testing.T) {
		var h HolderRecord
		require.NoError(t, json.Unmarshal([]byte(`{"address":"x","balance":42}`), &h))
		assert.Equal(t, int64(42), h.Balance.Int64())
	})

	t.Run("zero and missing balance", func(t *testing.T) {
		var h HolderRecord
		require.NoError(t, json.Unmarshal([]byte(`{"address":"x","balance":"0"}`), &h))
		assert.False(t, h.NonZero())
		require.NoError(t, json.Unmarshal([]byte(`{"address":"y"}`), &h))
		assert.False(t, h.NonZero())
	})

	t.Run("invalid balance", func(t *testing.T) {
		var h HolderRecord
		assert.Error(t, json.Unmarshal([]byte(`{"address":"x","balance":"-5"}`), &h))
		assert.Error(t, json.Unmarshal([]byte(`{"address":"x","balance":"1.5"}`), &h))
	})

	t.Run("constructed record", func(t *testing.T) {
		out, err := json.Marshal(NewHolderRecord("bc1qxyz", sdkmath.NewInt(7)))
		require.NoError(t, err)
		assert.JSONEq(t, `{"address":"bc1qxyz","balance":"7"}`, string(out))
	})
}

func TestFindBoundary_AllK(t *testing.T) {
	for _, tc := range []struct{ length, limit int }{{125, 60}, {7, 2}, {60, 60}, {1, 60}} {
		for k := 0; k <= tc.length; k++ {
			fetcher := newFakeFetcher(descendingHolders(k, tc.length-k))
			got, probes, err := FindBoundary(context.Background(), fetcher, tc.length, tc.limit)
			require.NoError(t, err)

			want := 0
			if k > 0 {
				want = (k - 1) / tc.limit * tc.limit
			}
			assert.Equal(t, want, got, "L=%d limit=%d k=%d", tc.length, tc.limit, k)
			assert.Equal(t, len(fetcher.calls), probes)
			for _, off := range fetcher.calls {
				assert.Zero(t, off%tc.limit, "probe %d not page aligned", off)
			}
		}
	}
}

func TestFindBoundary_EmptyList(t *testing.T) {
	got, probes, err := FindBoundary(context.Background(), newFakeFetcher(nil), 0, 60)
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Zero(t, probes)
}

func TestCollect_ExampleScenario(t *testing.T) {
	// total=125: page0 all non-zero, page1 first 5 non-zero, page2 (offset 120) all zero.
	fetcher := newFakeFetcher(descendingHolders(65, 60))
	store := &MemoryProgressStore{}

	col, err := NewCollector(fetcher, store, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 125, col.Total)
	assert.Len(t, col.NonZero, 65)
	assert.Len(t, col.Holders, 120)
	assert.Equal(t, StopAllZero, col.StopReason)
	assert.False(t, col.Truncated)
	assert.Equal(t, []int{0, 60, 120}, fetcher.calls)

	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p, "progress is cleared after a completed collection")
}

func TestCollect_AllZeroPageNotAppended(t *testing.T) {
	fetcher := newFakeFetcher(descendingHolders(120, 200))
	col, err := NewCollector(fetcher, nil, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)

	assert.Len(t, col.Holders, 120)
	for _, h := range col.Holders {
		assert.True(t, h.NonZero())
	}
	assert.Equal(t, []int{0, 60, 120}, fetcher.calls)
}

func TestCollect_NoHolders(t *testing.T) {
	_, err := NewCollector(newFakeFetcher(nil), nil, collectorConfig(), nil).Collect(context.Background())
	assert.ErrorIs(t, err, ErrNoHolders)
}

func TestCollect_AllBalancesZero(t *testing.T) {
	fetcher := newFakeFetcher(descendingHolders(0, 30))
	col, err := NewCollector(fetcher, nil, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, col.NonZero)
	assert.Equal(t, StopAllZero, col.StopReason)
}

func TestCollect_StopsAtTotal(t *testing.T) {
	fetcher := newFakeFetcher(descendingHolders(100, 0))
	col, err := NewCollector(fetcher, nil, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, col.NonZero, 100)
	assert.Equal(t, StopTotal, col.StopReason)
	assert.Equal(t, []int{0, 60}, fetcher.calls)
}

func TestCollect_EmptyPageStops(t *testing.T) {
	fetcher := newFakeFetcher(descendingHolders(70, 0))
	fetcher.total = 500 // upstream overstates total
	col, err := NewCollector(fetcher, nil, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, col.NonZero, 70)
	assert.Equal(t, StopEmptyPage, col.StopReason)
}

func TestCollect_MaxHolders(t *testing.T) {
	cfg := collectorConfig()
	cfg.MaxHolders = 100
	fetcher := newFakeFetcher(descendingHolders(300, 0))

	col, err := NewCollector(fetcher, nil, cfg, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, col.Truncated)
	assert.Len(t, col.Holders, 100)
	assert.Equal(t, StopMaxHolders, col.StopReason)
	assert.Equal(t, []int{0, 60}, fetcher.calls)
}

func TestCollect_MaxHoldersOnPageBoundary(t *testing.T) {
	tests := []struct {
		name          string
		records       []HolderRecord
		wantTruncated bool
	}{
		{"zero page after cap", descendingHolders(120, 60), false},
		{"non-zero page after cap", descendingHolders(180, 0), true},
		{"empty page after cap", descendingHolders(120, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := collectorConfig()
			cfg.MaxHolders = 120
			fetcher := newFakeFetcher(tt.records)
			fetcher.total = 180

			col, err := NewCollector(fetcher, nil, cfg, nil).Collect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantTruncated, col.Truncated)
			assert.Len(t, col.Holders, 120)
			assert.Equal(t, StopMaxHolders, col.StopReason)
			assert.Equal(t, []int{0, 60, 120}, fetcher.calls)
		})
	}
}

func TestCollect_MaxHoldersDropsOnlyZeros(t *testing.T) {
	cfg := collectorConfig()
	cfg.MaxHolders = 100
	fetcher := newFakeFetcher(descendingHolders(100, 200))

	col, err := NewCollector(fetcher, nil, cfg, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, col.Truncated)
	assert.Len(t, col.NonZero, 100)
	assert.Equal(t, StopMaxHolders, col.StopReason)
	assert.Equal(t, []int{0, 60}, fetcher.calls)
}

func TestCollect_FailurePreservesProgress(t *testing.T) {
	fetcher := newFakeFetcher(descendingHolders(200, 0))
	boom := errors.New("upstream down")
	fetcher.failAt = map[int]error{120: boom}
	store := &MemoryProgressStore{}

	_, err := NewCollector(fetcher, store, collectorConfig(), nil).Collect(context.Background())
	require.ErrorIs(t, err, boom)

	p, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 120, p.NextOffset)
	assert.Equal(t, 200, p.Total)
	assert.Equal(t, 120, p.NonZeroCount)
	assert.Len(t, p.Holders, 120)
	assert.Equal(t, ProgressVersion, p.Version)
}

func TestCollect_ResumesFromProgress(t *testing.T) {
	records := descendingHolders(65, 60)
	store := &MemoryProgressStore{}
	require.NoError(t, store.Save(context.Background(), &Progress{
		Version:      ProgressVersion,
		Rune:         "WISHYWASHYMACHINE",
		Holders:      records[:60],
		NextOffset:   60,
		Total:        125,
		NonZeroCount: 60,
	}))

	fetcher := newFakeFetcher(records)
	col, err := NewCollector(fetcher, store, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)

	assert.True(t, col.Resumed)
	assert.Len(t, col.NonZero, 65)
	assert.Equal(t, records[:65], col.NonZero)
	assert.Equal(t, []int{0, 60, 120}, fetcher.calls)
}

func TestCollect_DiscardsStaleProgress(t *testing.T) {
	stale := []*Progress{
		{Version: ProgressVersion, Rune: "WISHYWASHYMACHINE", NextOffset: 60, Total: 999},
		{Version: ProgressVersion + 1, Rune: "WISHYWASHYMACHINE", NextOffset: 60, Total: 125},
		{Version: ProgressVersion, Rune: "OTHER", NextOffset: 60, Total: 125},
	}
	for i, p := range stale {
		records := descendingHolders(65, 60)
		p.Holders = records[:60]
		store := &MemoryProgressStore{}
		require.NoError(t, store.Save(context.Background(), p))

		col, err := NewCollector(newFakeFetcher(records), store, collectorConfig(), nil).Collect(context.Background())
		require.NoError(t, err, "case %d", i)
		assert.False(t, col.Resumed, "case %d", i)
		assert.Len(t, col.NonZero, 65, "case %d", i)
	}
}

func TestCollect_WithBoundarySearch(t *testing.T) {
	cfg := collectorConfig()
	cfg.UseBoundarySearch = true
	fetcher := newFakeFetcher(descendingHolders(65, 600))

	col, err := NewCollector(fetcher, nil, cfg, nil).Collect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, col.BoundaryOffset)
	assert.Equal(t, 60, *col.BoundaryOffset)
	assert.Len(t, col.NonZero, 65)
	assert.Equal(t, StopBoundary, col.StopReason)

	for _, off := range fetcher.calls {
		assert.NotEqual(t, 180, off, "walk must not go past the boundary page")
	}
}

func TestCollect_OrderViolationGoesExhaustive(t *testing.T) {
	records := descendingHolders(60, 60)
	// a late non-zero holder after an all-zero page
	records = append(records, NewHolderRecord("bc1q-late", sdkmath.NewInt(5)))
	fetcher := newFakeFetcher(records)

	col, err := NewCollector(fetcher, nil, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)
	// page1 is all zero, so the default walk stops before the late holder
	assert.Len(t, col.NonZero, 60)
	assert.False(t, col.OrderViolated)

	cfg := collectorConfig()
	cfg.Exhaustive = true
	fetcher = newFakeFetcher(records)
	col, err = NewCollector(fetcher, nil, cfg, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, col.NonZero, 61)
	assert.True(t, col.OrderViolated)
	assert.Equal(t, "bc1q-late", col.NonZero[60].Address)
}

func TestCollect_OrderViolationInsidePage(t *testing.T) {
	records := descendingHolders(60, 0)
	records = append(records,
		NewHolderRecord("bc1q-a", sdkmath.NewInt(1)),
		NewHolderRecord("bc1q-b", sdkmath.ZeroInt()),
		NewHolderRecord("bc1q-c", sdkmath.NewInt(9)),
	)
	records = append(records, descendingHolders(0, 60)...)
	records = append(records, NewHolderRecord("bc1q-d", sdkmath.NewInt(3)))

	col, err := NewCollector(newFakeFetcher(records), nil, collectorConfig(), nil).Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, col.OrderViolated)
	assert.Len(t, col.NonZero, 63)
	assert.Equal(t, "bc1q-d", col.NonZero[len(col.NonZero)-1].Address)
}
