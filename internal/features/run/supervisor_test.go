package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rune-holders/internal/features/holders"
	"rune-holders/internal/features/notify"
	"rune-holders/internal/features/publish"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeCollector struct {
	rec   *recorder
	col   *holders.Collection
	err   error
	block chan struct{}
	panic bool

	// untilCancel makes Collect wait for ctx and signal entered first
	untilCancel bool
	entered     chan struct{}
}

func (f *fakeCollector) Collect(ctx context.Context) (*holders.Collection, error) {
	f.rec.add("collect")
	if f.untilCancel {
		close(f.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.block != nil {
		<-f.block
	}
	if f.panic {
		panic("boom")
	}
	return f.col, f.err
}

type fakeMetadata struct{ rec *recorder }

func (f *fakeMetadata) FetchEtching(ctx context.Context) (json.RawMessage, error) {
	f.rec.add("metadata")
	return json.RawMessage(`{"name":"X"}`), nil
}

type fakePublisher struct {
	rec    *recorder
	chunks []publish.ChunkResult
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, nonZero []holders.HolderRecord) ([]publish.ChunkResult, error) {
	f.rec.add("publish")
	return f.chunks, f.err
}

type fakeSnapshots struct {
	rec   *recorder
	saved *holders.Snapshot
}

func (f *fakeSnapshots) SaveSnapshot(ctx context.Context, snap *holders.Snapshot) error {
	f.rec.add("snapshot")
	f.saved = snap
	return nil
}

type fakeCache struct{ rec *recorder }

func (f *fakeCache) Invalidate() { f.rec.add("invalidate") }

type fakeNotifier struct {
	rec     *recorder
	mu      sync.Mutex
	reports []notify.Report
}

func (f *fakeNotifier) NotifyRun(ctx context.Context, r notify.Report) error {
	f.rec.add("notify")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

type fixture struct {
	rec       *recorder
	collector *fakeCollector
	publisher *fakePublisher
	snapshots *fakeSnapshots
	notifier  *fakeNotifier
	sup       *Supervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	all := []holders.HolderRecord{
		holders.NewHolderRecord("bc1qa", sdkmath.NewInt(100)),
		holders.NewHolderRecord("bc1qb", sdkmath.NewInt(42)),
		holders.NewHolderRecord("bc1qc", sdkmath.ZeroInt()),
	}
	boundary := 2
	f := &fixture{
		rec: rec,
		collector: &fakeCollector{rec: rec, col: &holders.Collection{
			Holders:        all,
			NonZero:        holders.NonZero(all),
			Total:          3,
			BoundaryOffset: &boundary,
		}},
		publisher: &fakePublisher{rec: rec, chunks: []publish.ChunkResult{
			{Key: "k1", Status: publish.StatusSuccess, Count: 2},
			{Key: "k2", Status: publish.StatusSkipped},
		}},
		snapshots: &fakeSnapshots{rec: rec},
		notifier:  &fakeNotifier{rec: rec},
	}
	f.sup = NewSupervisor(context.Background(), Deps{
		Rune:      "X",
		Collector: f.collector,
		Metadata:  &fakeMetadata{rec: rec},
		Publisher: f.publisher,
		Snapshots: f.snapshots,
		Cache:     &fakeCache{rec: rec},
		Notifier:  f.notifier,
	})
	ids := 0
	f.sup.newID = func() string {
		ids++
		return fmt.Sprintf("run-%d", ids)
	}
	t.Cleanup(f.sup.Stop)
	return f
}

func TestSupervisor_InitialStatusIdle(t *testing.T) {
	f := newFixture(t)
	st := f.sup.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.Result)
}

func TestSupervisor_RunNowSuccess(t *testing.T) {
	f := newFixture(t)

	res, err := f.sup.RunNow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.HoldersCount)
	assert.Equal(t, 2, res.NonZeroHoldersCount)
	require.NotNil(t, res.BoundaryOffset)
	assert.Equal(t, 2, *res.BoundaryOffset)
	assert.Len(t, res.UploadResult, 2)

	assert.Equal(t, []string{"metadata", "collect", "publish", "snapshot", "invalidate", "notify"}, f.rec.list())

	require.NotNil(t, f.snapshots.saved)
	assert.Equal(t, "run-1", f.snapshots.saved.RunID)
	assert.Len(t, f.snapshots.saved.Holders, 2)

	st := f.sup.Status()
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, "run-1", st.RunID)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.FinishedAt)
	require.NotNil(t, st.Result)
	assert.Equal(t, 2, st.Result.NonZeroHoldersCount)

	require.Len(t, f.notifier.reports, 1)
	assert.True(t, f.notifier.reports[0].Success)
	assert.Len(t, f.notifier.reports[0].TopHolders, 2)
}

func TestSupervisor_CollectFailure(t *testing.T) {
	f := newFixture(t)
	f.collector.err = errors.New("hiro unavailable")

	res, err := f.sup.RunNow(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "hiro unavailable")

	st := f.sup.Status()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Message, "hiro unavailable")
	assert.Nil(t, f.snapshots.saved)
	assert.NotContains(t, f.rec.list(), "publish")

	require.Len(t, f.notifier.reports, 1)
	assert.False(t, f.notifier.reports[0].Success)
}

func TestSupervisor_PublishFailureKeepsChunkResults(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("bin k2 rejected")
	f.publisher.chunks = []publish.ChunkResult{
		{Key: "k1", Status: publish.StatusSuccess, Count: 2},
		{Key: "k2", Status: publish.StatusError, Message: "rejected"},
	}

	res, err := f.sup.RunNow(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "error", res.Status)
	assert.Len(t, res.UploadResult, 2)

	st := f.sup.Status()
	assert.Equal(t, StateError, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, publish.StatusError, st.Result.UploadResult[1].Status)

	assert.Nil(t, f.snapshots.saved)
	assert.NotContains(t, f.rec.list(), "invalidate")
}

func TestSupervisor_PanicBecomesError(t *testing.T) {
	f := newFixture(t)
	f.collector.panic = true

	_, err := f.sup.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, StateError, f.sup.Status().State)
}

func TestSupervisor_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.collector.block = make(chan struct{})

	st, started := f.sup.Trigger()
	require.True(t, started)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, "run-1", st.RunID)

	again, started := f.sup.Trigger()
	assert.False(t, started)
	assert.Equal(t, StateRunning, again.State)
	assert.Equal(t, "run-1", again.RunID)

	_, err := f.sup.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(f.collector.block)
	require.Eventually(t, func() bool {
		return f.sup.Status().State == StateSuccess
	}, 5*time.Second, 10*time.Millisecond)

	res, err := f.sup.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-2", res.RunID)
}

func TestSupervisor_StatusIsACopy(t *testing.T) {
	f := newFixture(t)
	_, err := f.sup.RunNow(context.Background())
	require.NoError(t, err)

	st := f.sup.Status()
	st.Result.UploadResult[0].Key = "mutated"
	*st.Result.BoundaryOffset = 99

	fresh := f.sup.Status()
	assert.Equal(t, "k1", fresh.Result.UploadResult[0].Key)
	assert.Equal(t, 2, *fresh.Result.BoundaryOffset)
}

func TestSupervisor_Schedule(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.sup.Schedule("not a cron"))

	require.NoError(t, f.sup.Schedule("* * * * * *"))
	require.Eventually(t, func() bool {
		return f.sup.Status().State == StateSuccess
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSupervisor_StoppedRejectsRuns(t *testing.T) {
	f := newFixture(t)
	f.sup.Stop()

	_, started := f.sup.Trigger()
	assert.False(t, started)
	_, err := f.sup.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSupervisor_StopCancelsSyncRun(t *testing.T) {
	f := newFixture(t)
	f.collector.untilCancel = true
	f.collector.entered = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		// a hung-up client must not cancel the run, shutdown must
		_, err := f.sup.RunNow(context.WithoutCancel(context.Background()))
		errCh <- err
	}()
	<-f.collector.entered

	stopped := make(chan struct{})
	go func() {
		f.sup.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a sync run was in flight")
	}
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateError, f.sup.Status().State)
}

func TestSupervisor_ParentCancelStopsSyncRun(t *testing.T) {
	rec := &recorder{}
	collector := &fakeCollector{rec: rec, untilCancel: true, entered: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(ctx, Deps{
		Rune:      "X",
		Collector: collector,
		Publisher: &fakePublisher{rec: rec},
		Snapshots: &fakeSnapshots{rec: rec},
	})
	t.Cleanup(sup.Stop)

	errCh := make(chan error, 1)
	go func() {
		_, err := sup.RunNow(context.Background())
		errCh <- err
	}()
	<-collector.entered
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sync run ignored parent cancellation")
	}
	assert.Equal(t, StateError, sup.Status().State)
}

func TestSupervisor_SubmitFailureLeavesNoRunningState(t *testing.T) {
	f := newFixture(t)
	// pool stopped between the busy check and the submit
	f.sup.pool.StopAndWait()

	st, started := f.sup.Trigger()
	assert.False(t, started)
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Message, "pool stopped")

	_, err := f.sup.RunNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, f.sup.Status().State)
	assert.NotContains(t, f.rec.list(), "collect")
}
