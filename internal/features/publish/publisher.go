package publish

// Splits the non-zero holder set into fixed-size chunks, one document key per chunk
// Keys are used in configured order, so concatenating bins in that order rebuilds the set
// Uploads are sequential and stop at the first failing chunk

import (
	"context"
	"errors"
	"fmt"

	"rune-holders/internal/features/holders"
	logging "rune-holders/internal/infra/log"
	"rune-holders/internal/infra/metrics"

	"go.uber.org/zap"
)

const DefaultChunkSize = 600

var ErrCapacityExceeded = errors.New("holders exceed document store capacity")

type ChunkStatus string

const (
	StatusSuccess ChunkStatus = "success"
	StatusError   ChunkStatus = "error"
	StatusSkipped ChunkStatus = "skipped"
)

type ChunkResult struct {
	Key     string      `json:"key"`
	Status  ChunkStatus `json:"status"`
	Count   int         `json:"count"`
	Message string      `json:"message,omitempty"`
}

// PublishError reports the chunk that stopped the upload.
type PublishError struct {
	Key string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing chunk %s: %v", e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DocumentStore replaces the whole document stored under key.
type DocumentStore interface {
	PutBin(ctx context.Context, key string, payload any) error
}

type Config struct {
	Keys         []string
	ChunkSize    int
	ClearSkipped bool // write [] to keys with no holders
}

type Publisher struct {
	store   DocumentStore
	cfg     Config
	metrics *metrics.Metrics
}

func NewPublisher(store DocumentStore, cfg Config, m *metrics.Metrics) *Publisher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Publisher{store: store, cfg: cfg, metrics: m}
}

func (p *Publisher) Capacity() int {
	return len(p.cfg.Keys) * p.cfg.ChunkSize
}

// Partition splits items into consecutive chunks of at most size elements.
func Partition(items []holders.HolderRecord, size int) [][]holders.HolderRecord {
	if size <= 0 {
		return nil
	}
	var chunks [][]holders.HolderRecord
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Publish uploads nonZero to the configured keys and returns one result per key.
// On the first failing chunk later keys are reported skipped and a *PublishError is returned.
func (p *Publisher) Publish(ctx context.Context, nonZero []holders.HolderRecord) ([]ChunkResult, error) {
	if len(p.cfg.Keys) == 0 {
		return nil, errors.New("no document keys configured")
	}
	if len(nonZero) > p.Capacity() {
		return nil, fmt.Errorf("%w: %d holders, %d keys of %d", ErrCapacityExceeded, len(nonZero), len(p.cfg.Keys), p.cfg.ChunkSize)
	}

	chunks := Partition(nonZero, p.cfg.ChunkSize)
	results := make([]ChunkResult, 0, len(p.cfg.Keys))
	var failed *PublishError

	for i, key := range p.cfg.Keys {
		var chunk []holders.HolderRecord
		if i < len(chunks) {
			chunk = chunks[i]
		}

		if failed != nil {
			results = append(results, ChunkResult{Key: key, Status: StatusSkipped, Count: len(chunk), Message: "not attempted after earlier failure"})
			p.metrics.IncChunk(string(StatusSkipped))
			continue
		}

		if len(chunk) == 0 {
			res := ChunkResult{Key: key, Status: StatusSkipped}
			if p.cfg.ClearSkipped {
				if err := p.store.PutBin(ctx, key, []holders.HolderRecord{}); err != nil {
					res = ChunkResult{Key: key, Status: StatusError, Message: err.Error()}
					failed = &PublishError{Key: key, Err: err}
				}
			}
			results = append(results, res)
			p.metrics.IncChunk(string(res.Status))
			continue
		}

		if err := p.store.PutBin(ctx, key, chunk); err != nil {
			logging.LogError("Failed to upload holders chunk",
				zap.String("key", key),
				zap.Int("chunk", i),
				zap.Int("count", len(chunk)),
				zap.Error(err))
			results = append(results, ChunkResult{Key: key, Status: StatusError, Count: len(chunk), Message: err.Error()})
			p.metrics.IncChunk(string(StatusError))
			failed = &PublishError{Key: key, Err: err}
			continue
		}

		logging.LogInfo("Holders chunk uploaded",
			zap.String("key", key),
			zap.Int("chunk", i),
			zap.Int("count", len(chunk)))
		results = append(results, ChunkResult{Key: key, Status: StatusSuccess, Count: len(chunk)})
		p.metrics.IncChunk(string(StatusSuccess))
	}

	if failed != nil {
		return results, failed
	}
	logging.LogSuccess("Holders published",
		zap.Int("holders", len(nonZero)),
		zap.Int("chunks", len(chunks)),
		zap.Int("keys", len(p.cfg.Keys)))
	return results, nil
}
