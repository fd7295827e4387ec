package tg_charts

import (
	"bytes"
	"fmt"
	"image/color"
	"math/big"
	"os"
	"path/filepath"

	"rune-holders/internal/features/holders"
	logging "rune-holders/internal/infra/log"

	sdkmath "cosmossdk.io/math"
	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

const (
	chartWidth  = 1600
	chartHeight = 1000

	titleX = 80.0
	titleY = 90.0

	chartAreaLeft   = 80.0
	chartAreaRight  = 1300.0
	chartAreaTop    = 160.0
	chartAreaBottom = 940.0

	barSpacing = 12.0

	titleFontSize = 44.0
	labelFontSize = 24.0

	labelOffsetX = 16.0

	DefaultTopN = 10
)

var (
	backgroundColor = color.Black
	barColor        = color.RGBA{247, 147, 26, 255} // bitcoin orange
	textColor       = color.White
	mutedColor      = color.RGBA{160, 160, 160, 255}
)

// fontPaths are tried in order; gg falls back to its built-in face when none loads.
var fontPaths = []string{
	"etc/fonts/InterVariable.ttf",
	"etc/fonts/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/inter/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
}

// RenderTopHolders draws a horizontal bar chart of the first topN holders and returns PNG bytes.
func RenderTopHolders(title string, nonZero []holders.HolderRecord, topN int) ([]byte, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if len(nonZero) == 0 {
		return nil, fmt.Errorf("no holders to chart")
	}
	top := nonZero[:min(topN, len(nonZero))]

	maxBalance := sdkmath.ZeroInt()
	for _, h := range top {
		if h.Balance.GT(maxBalance) {
			maxBalance = h.Balance
		}
	}
	if !maxBalance.IsPositive() {
		return nil, fmt.Errorf("no positive balances to chart")
	}

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetColor(backgroundColor)
	dc.Clear()

	fontPath := findFont()
	setFont(dc, fontPath, titleFontSize)
	dc.SetColor(textColor)
	dc.DrawString(title, titleX, titleY)

	setFont(dc, fontPath, labelFontSize)

	rowHeight := (chartAreaBottom - chartAreaTop) / float64(len(top))
	barHeight := rowHeight - barSpacing
	maxWidth := chartAreaRight - chartAreaLeft

	for i, h := range top {
		y := chartAreaTop + float64(i)*rowHeight
		width := maxWidth * ratio(h.Balance, maxBalance)
		if width < 2 {
			width = 2
		}

		dc.SetColor(barColor)
		dc.DrawRectangle(chartAreaLeft, y, width, barHeight)
		dc.Fill()

		label := fmt.Sprintf("#%d %s", i+1, shortAddress(h.Address))
		dc.SetColor(textColor)
		dc.DrawStringAnchored(label, chartAreaLeft+labelOffsetX, y+barHeight/2, 0, 0.5)

		dc.SetColor(mutedColor)
		dc.DrawStringAnchored(h.Balance.String(), chartAreaLeft+width+labelOffsetX, y+barHeight/2, 0, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("chart is empty after rendering")
	}

	logging.LogInfo("Holders chart generated",
		zap.Int("bars", len(top)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// ratio returns a/b in [0, 1]; balances are u128 so the division is done in big.Float.
func ratio(a, b sdkmath.Int) float64 {
	r := new(big.Float).Quo(new(big.Float).SetInt(a.BigInt()), new(big.Float).SetInt(b.BigInt()))
	f, _ := r.Float64()
	return f
}

func shortAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}

func findFont() string {
	for _, p := range fontPaths {
		if !filepath.IsAbs(p) {
			if wd, err := os.Getwd(); err == nil {
				p = filepath.Join(wd, p)
			}
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	logging.LogDebug("No TTF font found, using built-in face", zap.Int("paths_checked", len(fontPaths)))
	return ""
}

func setFont(dc *gg.Context, path string, size float64) {
	if path == "" {
		return
	}
	if err := dc.LoadFontFace(path, size); err != nil {
		logging.LogWarn("Font file exists but failed to load", zap.String("path", path), zap.Error(err))
	}
}
