package pebbledb

import (
	"context"
	"os"
	"testing"
	"time"

	"rune-holders/internal/features/holders"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStore_NotSet(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "progress_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewProgressStore(tempDir, "WISHYWASHYMACHINE")
	require.NoError(t, err)
	defer store.Close()

	p, err := store.Load(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestProgressStore_SaveLoadClear(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "progress_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewProgressStore(tempDir, "WISHYWASHYMACHINE")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	in := &holders.Progress{
		Version: holders.ProgressVersion,
		Rune:    "WISHYWASHYMACHINE",
		Holders: []holders.HolderRecord{
			holders.NewHolderRecord("bc1qa", sdkmath.NewInt(100)),
			holders.NewHolderRecord("bc1qb", sdkmath.NewInt(50)),
		},
		NextOffset:   60,
		Total:        300,
		NonZeroCount: 2,
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, in))

	in.NextOffset = 120
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 120, out.NextOffset)
	assert.Equal(t, 300, out.Total)
	require.Len(t, out.Holders, 2)
	assert.Equal(t, "50", out.Holders[1].Balance.String())

	require.NoError(t, store.Clear(ctx))
	out, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestProgressStore_SurvivesReopen(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "progress_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	ctx := context.Background()
	store, err := NewProgressStore(tempDir, "WISHYWASHYMACHINE")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &holders.Progress{Version: holders.ProgressVersion, NextOffset: 60, Total: 61}))
	require.NoError(t, store.Close())

	store, err = NewProgressStore(tempDir, "WISHYWASHYMACHINE")
	require.NoError(t, err)
	defer store.Close()

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 60, out.NextOffset)
}
