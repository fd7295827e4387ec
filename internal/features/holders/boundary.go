package holders

import (
	"context"
	"fmt"

	logging "rune-holders/internal/infra/log"

	"go.uber.org/zap"
)

type PageFetcher interface {
	FetchPage(ctx context.Context, offset, limit int) (*Page, error)
}

// FindBoundary binary-searches page-aligned offsets in [0, total) for the last page
// holding at least one non-zero balance. Holders must be balance-descending.
// Returns 0 when no page has a non-zero record, plus the number of pages probed.
func FindBoundary(ctx context.Context, fetcher PageFetcher, total, limit int) (int, int, error) {
	if limit <= 0 {
		return 0, 0, fmt.Errorf("invalid page size %d", limit)
	}
	if total <= 0 {
		return 0, 0, nil
	}

	lo, hi := 0, total-1
	best := 0
	probes := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		offset := mid / limit * limit

		page, err := fetcher.FetchPage(ctx, offset, limit)
		if err != nil {
			return 0, probes, fmt.Errorf("boundary probe at offset %d: %w", offset, err)
		}
		probes++

		if page.NonZeroCount() > 0 {
			best = offset
			lo = offset + limit
		} else {
			hi = offset - 1
		}
	}

	logging.LogInfo("Boundary search finished",
		zap.Int("boundary_offset", best),
		zap.Int("probes", probes),
		zap.Int("total", total))
	return best, probes, nil
}
