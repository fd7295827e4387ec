package holders

import (
	"context"
	"time"
)

// ProgressVersion is bumped whenever the Progress layout changes; older documents are discarded.
const ProgressVersion = 1

// Progress is the checkpoint written after every page so an interrupted walk can resume.
type Progress struct {
	Version        int            `json:"version"`
	Rune           string         `json:"rune"`
	Holders        []HolderRecord `json:"holders"`
	NextOffset     int            `json:"next_offset"`
	Total          int            `json:"total"`
	NonZeroCount   int            `json:"non_zero_count"`
	BoundaryOffset *int           `json:"boundary_offset,omitempty"`
	OrderViolated  bool           `json:"order_violated,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProgressStore persists a single Progress document.
// Load returns (nil, nil) when nothing is stored.
type ProgressStore interface {
	Load(ctx context.Context) (*Progress, error)
	Save(ctx context.Context, p *Progress) error
	Clear(ctx context.Context) error
}

// staleReason reports why p cannot be resumed against the current upstream state, or "" if it can.
func (p *Progress) staleReason(runeName string, total, pageSize int, boundary *int) string {
	switch {
	case p.Version != ProgressVersion:
		return "version mismatch"
	case p.Rune != runeName:
		return "different rune"
	case p.Total != total:
		return "holder total changed"
	case !sameBoundary(p.BoundaryOffset, boundary):
		return "boundary changed"
	case p.NextOffset < 0 || p.NextOffset%pageSize != 0:
		return "offset not page aligned"
	case p.NextOffset != len(p.Holders):
		return "holder count does not match offset"
	}
	return ""
}

func sameBoundary(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MemoryProgressStore keeps progress in process memory.
type MemoryProgressStore struct {
	p *Progress
}

func (m *MemoryProgressStore) Load(context.Context) (*Progress, error) {
	return m.p, nil
}

func (m *MemoryProgressStore) Save(_ context.Context, p *Progress) error {
	cp := *p
	cp.Holders = append([]HolderRecord(nil), p.Holders...)
	m.p = &cp
	return nil
}

func (m *MemoryProgressStore) Clear(context.Context) error {
	m.p = nil
	return nil
}
