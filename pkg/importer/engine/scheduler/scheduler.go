// Package scheduler drives groups through a group processor in consecutive
// waves of bounded size. Within a wave all invocations run concurrently and
// the scheduler awaits the whole wave before aggregating outcomes, updating
// the persisted job record and checking for cancellation. Cancellation is
// cooperative and polled only at wave boundaries; groups already in flight
// are allowed to finish so no half-written group is left without an owner.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/domain/repository"
	"github.com/quayside/groupage/pkg/importer/core/metrics"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// GroupProcessor settles one group and returns its outcome.
type GroupProcessor interface {
	Process(ctx context.Context, g *model.Group) *model.WriteOutcome
}

// ProgressFunc consumes the structured progress event emitted after each wave.
type ProgressFunc func(event model.ProgressEvent)

// Result is the aggregate of one scheduler run.
type Result struct {
	Outcomes  []*model.WriteOutcome
	Totals    model.Totals
	Cancelled bool
}

// Scheduler fans groups out to a processor with bounded concurrency.
type Scheduler struct {
	processor  GroupProcessor
	jobs       repository.JobRepository
	recorder   metrics.MetricRecorder
	entityKind string
	waveSize   int
	pausePoll  time.Duration
	progress   ProgressFunc
}

// NewScheduler creates a Scheduler.
//
// waveSize: The bounded concurrency B; at most this many processor invocations
// are unresolved at any point.
// pausePoll: How often a paused job is re-checked at a wave boundary.
func NewScheduler(
	processor GroupProcessor,
	jobs repository.JobRepository,
	recorder metrics.MetricRecorder,
	entityKind string,
	waveSize int,
	pausePoll time.Duration,
) *Scheduler {
	if waveSize < 1 {
		waveSize = 1
	}
	if pausePoll <= 0 {
		pausePoll = time.Second
	}
	return &Scheduler{
		processor:  processor,
		jobs:       jobs,
		recorder:   recorder,
		entityKind: entityKind,
		waveSize:   waveSize,
		pausePoll:  pausePoll,
	}
}

// OnProgress registers the single progress consumer. It must be called before
// Run; the callback is invoked once per completed wave.
func (s *Scheduler) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// Run processes the groups in first-seen order in waves of the configured
// size. seed carries the running totals accumulated before scheduling started
// (groups rejected by validation). The job record is updated after every wave.
func (s *Scheduler) Run(ctx context.Context, job *model.ImportJob, groups []*model.Group, seed model.Totals) (*Result, error) {
	totals := seed
	outcomes := make([]*model.WriteOutcome, 0, len(groups))

	for start := 0; start < len(groups); start += s.waveSize {
		stop, err := s.waveGate(ctx, job)
		if err != nil {
			return nil, err
		}
		if stop {
			logger.Infof("Cancellation observed for job '%s'; %d group(s) left unscheduled.", job.ID, len(groups)-start)
			return &Result{Outcomes: outcomes, Totals: totals, Cancelled: true}, nil
		}

		end := start + s.waveSize
		if end > len(groups) {
			end = len(groups)
		}
		wave := groups[start:end]

		waveStart := time.Now()
		results := make([]*model.WriteOutcome, len(wave))

		var wg sync.WaitGroup
		for i, g := range wave {
			wg.Add(1)
			go func(i int, g *model.Group) {
				defer wg.Done()
				results[i] = s.processor.Process(ctx, g)
			}(i, g)
		}
		wg.Wait()

		// Single aggregation point: counters and the outcome list are only
		// touched here, after every group of the wave has settled.
		messages := make([]string, 0, len(results))
		for _, o := range results {
			outcomes = append(outcomes, o)
			totals.Add(o)
			messages = append(messages, o.Message())
			s.recorder.RecordGroupOutcome(ctx, s.entityKind, o)
			if o.ErrorKind() == exception.KindRollback {
				logger.Warnf("MANUAL REVIEW REQUIRED: group '%s' compensation failed: %v", o.GroupKey, o.Err)
			}
		}
		s.recorder.RecordWave(ctx, s.entityKind, len(wave), time.Since(waveStart))

		s.publishProgress(ctx, job, totals, strings.Join(messages, "\n"))
	}

	return &Result{Outcomes: outcomes, Totals: totals, Cancelled: false}, nil
}

// publishProgress updates the persisted job record and notifies the progress
// consumer. A tracker update failure is logged, not fatal: losing one progress
// heartbeat must not abort an otherwise healthy run.
func (s *Scheduler) publishProgress(ctx context.Context, job *model.ImportJob, totals model.Totals, message string) {
	job.MarkProgress(totals.Processed, totals.Success, totals.Failed, message)
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrStaleJobVersion) {
			err = s.retryStaleUpdate(ctx, job)
		}
		if err != nil {
			logger.Errorf("Failed to update job '%s' after wave: %v", job.ID, err)
		}
	}

	if s.progress != nil {
		s.progress(model.ProgressEvent{
			Phase:        "write",
			Current:      totals.Processed,
			Total:        job.TotalCount,
			SuccessCount: totals.Success,
			FailCount:    totals.Failed,
			Message:      message,
		})
	}
}

// retryStaleUpdate re-reads the job after an optimistic-lock rejection and
// retries the write once under the externally advanced version. A concurrent
// cancel request must keep its status: a progress heartbeat is never allowed
// to flip CANCELLING back to RUNNING.
func (s *Scheduler) retryStaleUpdate(ctx context.Context, job *model.ImportJob) error {
	latest, err := s.jobs.FindJobByID(ctx, job.ID)
	if err != nil {
		return err
	}
	job.Version = latest.Version
	if latest.Status == model.JobStatusCancelling && job.Status == model.JobStatusRunning {
		job.Status = model.JobStatusCancelling
	}
	return s.jobs.UpdateJob(ctx, job)
}

// waveGate is the wave-boundary checkpoint. It re-reads the persisted job
// record (cancellation is written by a separate process, there is no in-memory
// handle) and reports whether scheduling must stop. A paused job is polled
// until it resumes or is cancelled.
func (s *Scheduler) waveGate(ctx context.Context, job *model.ImportJob) (stop bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		default:
		}

		latest, findErr := s.jobs.FindJobByID(ctx, job.ID)
		if findErr != nil {
			// A tracker read failure is not a cancellation signal.
			logger.Warnf("Failed to read job '%s' at wave boundary: %v", job.ID, findErr)
			return false, nil
		}

		// External writers (cancel and pause requests) advance the persisted
		// version. Adopt it so later optimistic-lock writes are not rejected.
		job.Version = latest.Version

		switch latest.Status {
		case model.JobStatusCancelling:
			return true, nil
		case model.JobStatusPaused:
			logger.Debugf("Job '%s' is paused; polling again in %v.", job.ID, s.pausePoll)
			select {
			case <-ctx.Done():
				return true, nil
			case <-time.After(s.pausePoll):
			}
		default:
			return false, nil
		}
	}
}
