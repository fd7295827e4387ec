package run

// Supervisor owns the single fetch-and-publish run
// State machine: idle -> running -> success | error, then running again on the next trigger
// The busy check and the state change happen under one mutex; runs execute on a one-worker pool
// Readers get copies of the status, never the live record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rune-holders/internal/features/holders"
	"rune-holders/internal/features/notify"
	"rune-holders/internal/features/publish"
	logging "rune-holders/internal/infra/log"
	"rune-holders/internal/infra/metrics"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
)

var (
	ErrAlreadyRunning = errors.New("holders update already running")
	ErrStopped        = errors.New("supervisor stopped")
)

type Result struct {
	Status              string                `json:"status"`
	RunID               string                `json:"run_id"`
	HoldersCount        int                   `json:"holders_count"`
	NonZeroHoldersCount int                   `json:"non_zero_holders_count"`
	Truncated           bool                  `json:"truncated"`
	OrderViolated       bool                  `json:"order_violated,omitempty"`
	BoundaryOffset      *int                  `json:"boundary_offset,omitempty"`
	UploadResult        []publish.ChunkResult `json:"upload_result"`
}

type Status struct {
	State      State      `json:"status"`
	RunID      string     `json:"run_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type Collector interface {
	Collect(ctx context.Context) (*holders.Collection, error)
}

type MetadataFetcher interface {
	FetchEtching(ctx context.Context) (json.RawMessage, error)
}

type Publisher interface {
	Publish(ctx context.Context, nonZero []holders.HolderRecord) ([]publish.ChunkResult, error)
}

type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *holders.Snapshot) error
}

type CacheInvalidator interface {
	Invalidate()
}

// Archive keeps operator-facing dumps of the last run.
type Archive interface {
	SaveHolders(all []holders.HolderRecord) error
	SaveMetadata(raw json.RawMessage) error
}

// Deps wires the pipeline. Metadata, Cache, Archive, Notifier and Metrics are optional.
type Deps struct {
	Rune      string
	Collector Collector
	Metadata  MetadataFetcher
	Publisher Publisher
	Snapshots SnapshotSaver
	Cache     CacheInvalidator
	Archive   Archive
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
}

type Supervisor struct {
	deps    Deps
	baseCtx context.Context
	cancel  context.CancelFunc
	pool    pond.Pool
	cron    *cron.Cron

	mu      sync.RWMutex
	status  Status
	stopped bool

	newID func() string
	now   func() time.Time
}

// NewSupervisor creates an idle supervisor. Every run is cancelled when ctx is done or Stop is called.
func NewSupervisor(ctx context.Context, deps Deps) *Supervisor {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	baseCtx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		deps:    deps,
		baseCtx: baseCtx,
		cancel:  cancel,
		pool:    pond.NewPool(1, pond.WithQueueSize(1)),
		status:  Status{State: StateIdle},
		newID:   func() string { return uuid.NewString() },
		now:     time.Now,
	}
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStatus(s.status)
}

// Trigger starts a background run unless one is already running.
// The returned status is the running one unless the pool refused the run.
func (s *Supervisor) Trigger() (Status, bool) {
	st, err := s.begin()
	if err != nil {
		return st, false
	}

	err = s.pool.Go(func() {
		_, _ = s.execute(s.baseCtx, st.RunID)
	})
	if err != nil {
		s.finish(st.RunID, nil, fmt.Errorf("scheduling holders update: %w", err))
		return s.Status(), false
	}
	return st, true
}

// RunNow runs synchronously on the worker and returns the outcome.
// The run stops when either ctx or the supervisor is cancelled.
func (s *Supervisor) RunNow(ctx context.Context) (*Result, error) {
	st, err := s.begin()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	stopAfter := context.AfterFunc(ctx, cancel)
	defer stopAfter()

	var res *Result
	var runErr error
	task := s.pool.Submit(func() {
		res, runErr = s.execute(runCtx, st.RunID)
	})
	if err := task.Wait(); err != nil {
		err = fmt.Errorf("scheduling holders update: %w", err)
		s.finish(st.RunID, nil, err)
		return nil, err
	}
	return res, runErr
}

// Schedule calls Trigger on a cron spec with a seconds field.
func (s *Supervisor) Schedule(spec string) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{})))
	_, err := c.AddFunc(spec, func() {
		st, started := s.Trigger()
		if !started {
			logging.LogInfo("Scheduled holders update skipped", zap.String("state", string(st.State)), zap.String("run_id", st.RunID))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	logging.LogSuccess("Holders update scheduled", zap.String("cron", spec))
	return nil
}

// Stop halts the schedule, cancels the current run and waits for it to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.cancel()
	s.pool.StopAndWait()
}

func (s *Supervisor) begin() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return copyStatus(s.status), ErrStopped
	}
	if s.status.State == StateRunning {
		return copyStatus(s.status), ErrAlreadyRunning
	}

	started := s.now().UTC()
	s.status = Status{
		State:     StateRunning,
		RunID:     s.newID(),
		StartedAt: &started,
	}
	return copyStatus(s.status), nil
}

func (s *Supervisor) finish(runID string, res *Result, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.RunID != runID {
		return
	}
	finished := s.now().UTC()
	s.status.FinishedAt = &finished
	s.status.Result = res
	if runErr != nil {
		s.status.State = StateError
		s.status.Message = runErr.Error()
		return
	}
	s.status.State = StateSuccess
	s.status.Message = ""
}

func (s *Supervisor) execute(ctx context.Context, runID string) (res *Result, err error) {
	start := s.now()
	logger := logging.RunLogger(runID)
	logger.Info("Holders update started", zap.String("rune", s.deps.Rune))

	var col *holders.Collection
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("holders update panicked: %v", r)
			res = nil
		}

		took := s.now().Sub(start)
		s.finish(runID, res, err)

		report := notify.Report{RunID: runID, Rune: s.deps.Rune, Duration: took}
		if err != nil {
			s.deps.Metrics.ObserveRun("error", took, 0, 0)
			logging.LogError("Holders update failed", zap.String("run_id", runID), zap.Error(err))
			report.Message = err.Error()
		} else {
			s.deps.Metrics.ObserveRun("success", took, res.HoldersCount, res.NonZeroHoldersCount)
			logging.LogSuccess("Holders update finished",
				zap.String("run_id", runID),
				zap.Int("holders", res.HoldersCount),
				zap.Int("non_zero", res.NonZeroHoldersCount),
				zap.Int64("duration_ms", took.Milliseconds()))
			report.Success = true
			report.HoldersCount = res.HoldersCount
			report.NonZeroCount = res.NonZeroHoldersCount
			report.Truncated = res.Truncated
			report.TopHolders = col.NonZero
		}
		if res != nil {
			report.Chunks = res.UploadResult
		}
		if nerr := s.deps.Notifier.NotifyRun(ctx, report); nerr != nil {
			logging.LogWarn("Failed to send run notification", zap.String("run_id", runID), zap.Error(nerr))
		}
	}()

	s.fetchMetadata(ctx, logger)

	col, err = s.deps.Collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting holders: %w", err)
	}
	if s.deps.Archive != nil {
		if aerr := s.deps.Archive.SaveHolders(col.Holders); aerr != nil {
			logger.Warn("Failed to save holders dump", zap.Error(aerr))
		}
	}

	res = &Result{
		Status:              string(StateSuccess),
		RunID:               runID,
		HoldersCount:        len(col.Holders),
		NonZeroHoldersCount: len(col.NonZero),
		Truncated:           col.Truncated,
		OrderViolated:       col.OrderViolated,
		BoundaryOffset:      col.BoundaryOffset,
	}

	chunks, err := s.deps.Publisher.Publish(ctx, col.NonZero)
	res.UploadResult = chunks
	if err != nil {
		res.Status = string(StateError)
		return res, fmt.Errorf("publishing holders: %w", err)
	}

	snap := &holders.Snapshot{
		Rune:        s.deps.Rune,
		RunID:       runID,
		PublishedAt: s.now().UTC(),
		Holders:     col.NonZero,
	}
	if err := s.deps.Snapshots.SaveSnapshot(ctx, snap); err != nil {
		res.Status = string(StateError)
		return res, fmt.Errorf("saving holder snapshot: %w", err)
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Invalidate()
	}
	return res, nil
}

func (s *Supervisor) fetchMetadata(ctx context.Context, logger *zap.Logger) {
	if s.deps.Metadata == nil {
		return
	}
	raw, err := s.deps.Metadata.FetchEtching(ctx)
	if err != nil {
		logger.Warn("Failed to fetch rune metadata", zap.Error(err))
		return
	}
	logger.Info("Rune metadata fetched", zap.Int("bytes", len(raw)))
	if s.deps.Archive != nil {
		if err := s.deps.Archive.SaveMetadata(raw); err != nil {
			logger.Warn("Failed to save rune metadata", zap.Error(err))
		}
	}
}

func copyStatus(st Status) Status {
	out := st
	if st.StartedAt != nil {
		t := *st.StartedAt
		out.StartedAt = &t
	}
	if st.FinishedAt != nil {
		t := *st.FinishedAt
		out.FinishedAt = &t
	}
	if st.Result != nil {
		r := *st.Result
		r.UploadResult = append([]publish.ChunkResult(nil), st.Result.UploadResult...)
		if st.Result.BoundaryOffset != nil {
			b := *st.Result.BoundaryOffset
			r.BoundaryOffset = &b
		}
		out.Result = &r
	}
	return out
}

// cronLogger routes robfig/cron messages to the service log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.LogDebug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.LogError("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
