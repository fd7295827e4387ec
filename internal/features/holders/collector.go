package holders

// Sequential walk over the holders endpoint
// Stops on an empty page, on the first page without non-zero balances, at the boundary page,
// at max_holders, or at total. Progress is checkpointed after every page.
// A balance increase means upstream is not balance-descending: the walk then goes exhaustive.

import (
	"context"
	"fmt"
	"time"

	logging "rune-holders/internal/infra/log"
	"rune-holders/internal/infra/metrics"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"
)

const DefaultPageSize = 60

type CollectorConfig struct {
	Rune              string
	PageSize          int
	MaxHolders        int // 0 means no cap
	UseBoundarySearch bool
	Exhaustive        bool
}

type StopReason string

const (
	StopEmptyPage  StopReason = "empty_page"
	StopAllZero    StopReason = "all_zero_page"
	StopBoundary   StopReason = "boundary_reached"
	StopMaxHolders StopReason = "max_holders"
	StopTotal      StopReason = "total_reached"
)

type Collection struct {
	Holders        []HolderRecord
	NonZero        []HolderRecord
	Total          int
	BoundaryOffset *int
	Truncated      bool
	OrderViolated  bool
	Resumed        bool
	Pages          int
	StopReason     StopReason
}

type Collector struct {
	fetcher PageFetcher
	store   ProgressStore
	cfg     CollectorConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCollector(fetcher PageFetcher, store ProgressStore, cfg CollectorConfig, m *metrics.Metrics) *Collector {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if store == nil {
		store = &MemoryProgressStore{}
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

type walkState struct {
	holders       []HolderRecord
	offset        int
	nonZero       int
	last          *sdkmath.Int
	orderViolated bool
}

func (c *Collector) Collect(ctx context.Context) (*Collection, error) {
	limit := c.cfg.PageSize

	first, err := c.fetcher.FetchPage(ctx, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching first holders page: %w", err)
	}
	if first.Total == 0 {
		return nil, ErrNoHolders
	}
	total := first.Total

	var boundary *int
	if c.cfg.UseBoundarySearch && !c.cfg.Exhaustive {
		b, probes, err := FindBoundary(ctx, c.fetcher, total, limit)
		c.metrics.AddBoundaryProbes(probes)
		if err != nil {
			return nil, err
		}
		boundary = &b
	}

	col := &Collection{Total: total, BoundaryOffset: boundary}
	st := &walkState{}
	if p := c.resume(ctx, total, boundary); p != nil {
		st.holders = p.Holders
		st.offset = p.NextOffset
		st.nonZero = p.NonZeroCount
		st.orderViolated = p.OrderViolated
		if n := len(p.Holders); n > 0 {
			b := p.Holders[n-1].Balance
			st.last = &b
		}
		col.Resumed = true
		logging.LogInfo("Resuming holder collection",
			zap.String("rune", c.cfg.Rune),
			zap.Int("next_offset", st.offset),
			zap.Int("holders", len(st.holders)))
	}

	for {
		if st.offset >= total {
			col.StopReason = StopTotal
			break
		}
		if boundary != nil && !st.orderViolated && st.offset > *boundary {
			col.StopReason = StopBoundary
			break
		}
		if c.cfg.MaxHolders > 0 && len(st.holders) >= c.cfg.MaxHolders {
			col.StopReason = StopMaxHolders
			more, err := c.holdersBeyondCap(ctx, col, st.offset, limit)
			if err != nil {
				return nil, err
			}
			col.Truncated = more
			break
		}

		page := first
		if st.offset != 0 {
			page, err = c.fetcher.FetchPage(ctx, st.offset, limit)
			if err != nil {
				return nil, fmt.Errorf("fetching holders at offset %d: %w", st.offset, err)
			}
		}
		col.Pages++
		c.metrics.IncPages()

		if len(page.Results) == 0 {
			col.StopReason = StopEmptyPage
			break
		}

		c.verifyOrder(st, page.Results)

		pageNonZero := page.NonZeroCount()
		if pageNonZero == 0 && !c.cfg.Exhaustive && !st.orderViolated {
			col.StopReason = StopAllZero
			break
		}

		records := page.Results
		capped := false
		if c.cfg.MaxHolders > 0 && len(st.holders)+len(records) > c.cfg.MaxHolders {
			keep := c.cfg.MaxHolders - len(st.holders)
			col.Truncated = countNonZero(records[keep:]) > 0
			records = records[:keep]
			capped = true
		}
		for _, r := range records {
			if r.NonZero() {
				st.nonZero++
			}
		}
		st.holders = append(st.holders, records...)
		st.offset += limit

		logging.LogDebug("Holders page collected",
			zap.Int("offset", st.offset-limit),
			zap.Int("records", len(records)),
			zap.Int("non_zero_in_page", pageNonZero),
			zap.Int("non_zero_total", st.nonZero))

		c.checkpoint(ctx, st, total, boundary)

		if capped {
			col.StopReason = StopMaxHolders
			break
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		logging.LogWarn("Failed to clear holder progress", zap.Error(err))
	}

	col.Holders = st.holders
	col.NonZero = NonZero(st.holders)
	col.OrderViolated = st.orderViolated

	logging.LogSuccess("Holders collected",
		zap.String("rune", c.cfg.Rune),
		zap.Int("total", total),
		zap.Int("holders", len(col.Holders)),
		zap.Int("non_zero", len(col.NonZero)),
		zap.Int("pages", col.Pages),
		zap.String("stop_reason", string(col.StopReason)),
		zap.Bool("truncated", col.Truncated))
	return col, nil
}

// holdersBeyondCap fetches the page after the cap and reports whether it still has non-zero holders.
func (c *Collector) holdersBeyondCap(ctx context.Context, col *Collection, offset, limit int) (bool, error) {
	page, err := c.fetcher.FetchPage(ctx, offset, limit)
	if err != nil {
		return false, fmt.Errorf("fetching holders at offset %d: %w", offset, err)
	}
	col.Pages++
	c.metrics.IncPages()
	return page.NonZeroCount() > 0, nil
}

// resume loads saved progress and returns it only if it still matches upstream.
func (c *Collector) resume(ctx context.Context, total int, boundary *int) *Progress {
	p, err := c.store.Load(ctx)
	if err != nil {
		logging.LogWarn("Failed to load holder progress, starting from zero", zap.Error(err))
		return nil
	}
	if p == nil {
		return nil
	}
	if reason := p.staleReason(c.cfg.Rune, total, c.cfg.PageSize, boundary); reason != "" {
		logging.LogInfo("Discarding stale holder progress",
			zap.String("reason", reason),
			zap.Int("saved_total", p.Total),
			zap.Int("total", total))
		if err := c.store.Clear(ctx); err != nil {
			logging.LogWarn("Failed to clear stale holder progress", zap.Error(err))
		}
		return nil
	}
	return p
}

func (c *Collector) verifyOrder(st *walkState, records []HolderRecord) {
	for _, r := range records {
		if st.last != nil && r.Balance.GT(*st.last) && !st.orderViolated {
			st.orderViolated = true
			logging.LogWarn("Holders are not balance-descending, switching to exhaustive pagination",
				zap.String("address", r.Address),
				zap.String("balance", r.Balance.String()),
				zap.String("previous_balance", st.last.String()))
		}
		b := r.Balance
		st.last = &b
	}
}

func (c *Collector) checkpoint(ctx context.Context, st *walkState, total int, boundary *int) {
	p := &Progress{
		Version:        ProgressVersion,
		Rune:           c.cfg.Rune,
		Holders:        st.holders,
		NextOffset:     st.offset,
		Total:          total,
		NonZeroCount:   st.nonZero,
		BoundaryOffset: boundary,
		OrderViolated:  st.orderViolated,
		UpdatedAt:      c.now().UTC(),
	}
	if err := c.store.Save(ctx, p); err != nil {
		logging.LogError("Failed to save holder progress",
			zap.Int("next_offset", st.offset),
			zap.Error(err))
	}
}
