package scheduler_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/groupage/pkg/importer/core/config"
	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/metrics"
	"github.com/quayside/groupage/pkg/importer/engine/scheduler"
	"github.com/quayside/groupage/pkg/importer/infrastructure/repository/inmemory"
	sqlrepo "github.com/quayside/groupage/pkg/importer/infrastructure/repository/sql"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

// stubProcessor settles every group successfully while tracking how many
// invocations are unresolved at the same time.
type stubProcessor struct {
	inFlight    int32
	maxInFlight int32
	processed   int32
	delay       time.Duration
	fail        map[string]error
	onProcess   func(key string)
}

func (s *stubProcessor) Process(ctx context.Context, g *model.Group) *model.WriteOutcome {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		observed := atomic.LoadInt32(&s.maxInFlight)
		if current <= observed || atomic.CompareAndSwapInt32(&s.maxInFlight, observed, current) {
			break
		}
	}
	atomic.AddInt32(&s.processed, 1)

	if s.onProcess != nil {
		s.onProcess(g.BusinessKey)
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err, ok := s.fail[g.BusinessKey]; ok {
		return &model.WriteOutcome{GroupKey: g.BusinessKey, Success: false, Err: err, RowCount: 1}
	}
	return &model.WriteOutcome{GroupKey: g.BusinessKey, Success: true, Action: model.ActionCreated, RowCount: 1}
}

func makeGroups(n int) []*model.Group {
	groups := make([]*model.Group, 0, n)
	for i := 0; i < n; i++ {
		groups = append(groups, &model.Group{
			BusinessKey: fmt.Sprintf("1|%04d", i),
			Header:      map[string]interface{}{},
			SourceRows:  []model.Row{{Number: i + 1}},
		})
	}
	return groups
}

func newRunningJob(t *testing.T, jobs *inmemory.InMemoryJobRepository, total int) *model.ImportJob {
	t.Helper()
	job := model.NewImportJob("test-import", "order", total)
	require.NoError(t, jobs.SaveJob(context.Background(), job))
	return job
}

func TestRunBoundsConcurrencyToWaveSize(t *testing.T) {
	jobs := inmemory.NewInMemoryJobRepository()
	proc := &stubProcessor{delay: 5 * time.Millisecond}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 5, time.Millisecond)
	job := newRunningJob(t, jobs, 17)

	result, err := sched.Run(context.Background(), job, makeGroups(17), model.Totals{})

	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Len(t, result.Outcomes, 17)
	assert.Equal(t, int32(17), atomic.LoadInt32(&proc.processed))
	assert.LessOrEqual(t, atomic.LoadInt32(&proc.maxInFlight), int32(5))
}

func TestRunAggregatesTotalsOverSeed(t *testing.T) {
	jobs := inmemory.NewInMemoryJobRepository()
	proc := &stubProcessor{fail: map[string]error{
		"1|0001": exception.NewWriteError("test", "boom", nil),
		"1|0004": exception.NewWriteError("test", "boom", nil),
	}}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 3, time.Millisecond)
	job := newRunningJob(t, jobs, 8)

	// Two groups were already rejected by validation before scheduling.
	seed := model.Totals{Processed: 2, Failed: 2}
	result, err := sched.Run(context.Background(), job, makeGroups(6), seed)

	require.NoError(t, err)
	assert.Equal(t, 8, result.Totals.Processed)
	assert.Equal(t, 4, result.Totals.Success)
	assert.Equal(t, 4, result.Totals.Failed)
}

func TestRunUpdatesJobAfterEveryWave(t *testing.T) {
	jobs := inmemory.NewInMemoryJobRepository()
	proc := &stubProcessor{}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 5, time.Millisecond)
	job := newRunningJob(t, jobs, 12)

	var events []model.ProgressEvent
	sched.OnProgress(func(e model.ProgressEvent) { events = append(events, e) })

	_, err := sched.Run(context.Background(), job, makeGroups(12), model.Totals{})
	require.NoError(t, err)

	// 12 groups in waves of 5 is three waves.
	require.Len(t, events, 3)
	assert.Equal(t, 5, events[0].Current)
	assert.Equal(t, 10, events[1].Current)
	assert.Equal(t, 12, events[2].Current)

	persisted, err := jobs.FindJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, persisted.ProcessedCount)
	assert.Equal(t, 12, persisted.SuccessCount)
}

func TestRunObservesCancellationAtWaveBoundary(t *testing.T) {
	jobs := inmemory.NewInMemoryJobRepository()
	var once sync.Once
	proc := &stubProcessor{}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 4, time.Millisecond)
	job := newRunningJob(t, jobs, 12)

	// Cancel while the first wave is in flight; the wave must finish and no
	// later wave may start.
	proc.onProcess = func(string) {
		once.Do(func() {
			if cancelErr := jobs.RequestCancel(context.Background(), job.ID); cancelErr != nil {
				t.Errorf("RequestCancel failed: %v", cancelErr)
			}
		})
	}

	result, err := sched.Run(context.Background(), job, makeGroups(12), model.Totals{})

	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Len(t, result.Outcomes, 4)
	assert.Equal(t, int32(4), atomic.LoadInt32(&proc.processed))
}

func TestRunSurvivesExternalCancelVersionBumpOnSQLTracker(t *testing.T) {
	jobs, err := sqlrepo.NewSQLJobRepository(config.SQLConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	var once sync.Once
	proc := &stubProcessor{}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 4, time.Millisecond)

	job := model.NewImportJob("test-import", "order", 12)
	require.NoError(t, jobs.SaveJob(context.Background(), job))

	// The cancel request advances the persisted version while wave one is in
	// flight, so the wave-one progress write runs against a stale version. The
	// scheduler must absorb the bump instead of dropping every later write,
	// and the retried progress write must not flip CANCELLING back to RUNNING.
	proc.onProcess = func(string) {
		once.Do(func() {
			if cancelErr := jobs.RequestCancel(context.Background(), job.ID); cancelErr != nil {
				t.Errorf("RequestCancel failed: %v", cancelErr)
			}
		})
	}

	result, err := sched.Run(context.Background(), job, makeGroups(12), model.Totals{})

	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Len(t, result.Outcomes, 4)

	persisted, err := jobs.FindJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelling, persisted.Status)
	assert.Equal(t, 4, persisted.ProcessedCount)
	assert.Equal(t, 4, persisted.SuccessCount)

	// The caller can still finalize the record with the version the scheduler
	// carried out of the run.
	job.MarkFinished(model.JobStatusCancelled)
	require.NoError(t, jobs.UpdateJob(context.Background(), job))
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	jobs := inmemory.NewInMemoryJobRepository()
	proc := &stubProcessor{}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 4, time.Millisecond)
	job := newRunningJob(t, jobs, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := sched.Run(ctx, job, makeGroups(8), model.Totals{})

	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Empty(t, result.Outcomes)
	assert.Equal(t, int32(0), atomic.LoadInt32(&proc.processed))
}

func TestRunResumesFromPause(t *testing.T) {
	jobs := inmemory.NewInMemoryJobRepository()
	proc := &stubProcessor{}
	sched := scheduler.NewScheduler(proc, jobs, metrics.NewNoOpMetricRecorder(), "order", 4, time.Millisecond)
	job := newRunningJob(t, jobs, 4)

	// Pause before the run starts, resume shortly after; the wave boundary
	// polls until the job leaves PAUSED.
	paused, err := jobs.FindJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	paused.Status = model.JobStatusPaused
	require.NoError(t, jobs.UpdateJob(context.Background(), paused))

	go func() {
		time.Sleep(10 * time.Millisecond)
		resumed, findErr := jobs.FindJobByID(context.Background(), job.ID)
		if findErr != nil {
			return
		}
		resumed.Status = model.JobStatusRunning
		_ = jobs.UpdateJob(context.Background(), resumed)
	}()

	result, err := sched.Run(context.Background(), job, makeGroups(4), model.Totals{})

	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Len(t, result.Outcomes, 4)
}
