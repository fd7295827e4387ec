package tg_charts

import (
	"bytes"
	"fmt"
	"image/png"
	"testing"

	"rune-holders/internal/features/holders"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTopHolders(t *testing.T) {
	var hs []holders.HolderRecord
	for i := 0; i < 25; i++ {
		hs = append(hs, holders.NewHolderRecord(fmt.Sprintf("bc1qholderaddress%02dxyz", i), sdkmath.NewInt(int64(25-i)*1_000_000)))
	}

	data, err := RenderTopHolders("WISHYWASHYMACHINE top holders", hs, 10)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, chartWidth, img.Bounds().Dx())
	assert.Equal(t, chartHeight, img.Bounds().Dy())
}

func TestRenderTopHolders_Empty(t *testing.T) {
	_, err := RenderTopHolders("x", nil, 10)
	assert.Error(t, err)
}

func TestRatio_U128(t *testing.T) {
	top, ok := sdkmath.NewIntFromString("340282366920938463463374607431768211455")
	require.True(t, ok)
	half := top.QuoRaw(2)
	assert.InDelta(t, 0.5, ratio(half, top), 1e-9)
	assert.Equal(t, 1.0, ratio(top, top))
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "bc1qshort", shortAddress("bc1qshort"))
	assert.Equal(t, "bc1qabcd...uvwxyz", shortAddress("bc1qabcdefghijklmnopqrstuvwxyz"))
}
