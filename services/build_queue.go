package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sitepress-engine/lib/metrics"
	"github.com/sitepress-engine/models"
)

const (
	highQueueKey = "build:queue:high"
	lowQueueKey  = "build:queue:low"

	// Abandoned queue entries expire with their metadata
	jobMetadataTTL = time.Hour
)

// BuildFunc runs one dequeued build job to completion
type BuildFunc func(job models.BuildJob)

// BuildQueue arbitrates which queued build may start. Two priority tiers,
// FIFO within each, high always drained before low, and at most
// `concurrency` builds hold a slot at any instant.
type BuildQueue struct {
	store       QueueStore
	concurrency int
}

// NewBuildQueue creates a queue over the given store with the cluster-wide
// concurrency cap
func NewBuildQueue(store QueueStore, concurrency int) *BuildQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BuildQueue{store: store, concurrency: concurrency}
}

// Concurrency returns the configured build slot cap
func (q *BuildQueue) Concurrency() int {
	return q.concurrency
}

func queueKeyFor(priority models.BuildPriority) string {
	if priority == models.BuildPriorityHigh {
		return highQueueKey
	}
	return lowQueueKey
}

// EnqueueBuild persists job metadata with a TTL and appends the deployment ID
// to the tail of the chosen priority list. This is the sole entry point
// callers use to request a build.
func (q *BuildQueue) EnqueueBuild(ctx context.Context, deploymentID, projectID string, priority models.BuildPriority) error {
	job := models.BuildJob{
		DeploymentID: deploymentID,
		ProjectID:    projectID,
		Priority:     priority,
		EnqueuedAt:   time.Now(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal build job: %w", err)
	}

	// Metadata first: a list entry without metadata is treated as stale and
	// skipped, so this ordering can never strand a job
	if err := q.store.PutJob(ctx, deploymentID, payload, jobMetadataTTL); err != nil {
		return fmt.Errorf("persist job metadata: %w", err)
	}
	if err := q.store.PushRight(ctx, queueKeyFor(priority), deploymentID); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	q.refreshMetrics(ctx)
	return nil
}

// DequeueBuild returns the next admissible job, or nil when the queue is
// empty or every concurrency slot is taken. High priority drains before low;
// entries whose metadata expired are skipped so dequeue never blocks on
// stale entries.
func (q *BuildQueue) DequeueBuild(ctx context.Context) (*models.BuildJob, error) {
	active, err := q.store.ActiveCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read active set: %w", err)
	}
	if active >= int64(q.concurrency) {
		return nil, nil
	}

	for {
		id, err := q.store.PopLeft(ctx, highQueueKey)
		if err != nil {
			return nil, fmt.Errorf("pop high queue: %w", err)
		}
		if id == "" {
			id, err = q.store.PopLeft(ctx, lowQueueKey)
			if err != nil {
				return nil, fmt.Errorf("pop low queue: %w", err)
			}
		}
		if id == "" {
			return nil, nil
		}

		payload, err := q.store.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read job metadata: %w", err)
		}
		if payload == nil {
			log.Printf("Warning: skipping stale queue entry %s (metadata expired)", id)
			continue
		}

		var job models.BuildJob
		if err := json.Unmarshal(payload, &job); err != nil {
			log.Printf("Warning: skipping undecodable queue entry %s: %v", id, err)
			_ = q.store.DeleteJob(ctx, id)
			continue
		}

		if err := q.store.AddActive(ctx, id); err != nil {
			return nil, fmt.Errorf("claim concurrency slot: %w", err)
		}

		q.refreshMetrics(ctx)
		return &job, nil
	}
}

// CompleteBuild frees the concurrency slot and deletes job metadata. Called
// exactly once per dequeued job on every exit path; a second call for the
// same ID is a no-op.
func (q *BuildQueue) CompleteBuild(ctx context.Context, deploymentID string) error {
	if _, err := q.store.RemoveActive(ctx, deploymentID); err != nil {
		return fmt.Errorf("release concurrency slot: %w", err)
	}
	if err := q.store.DeleteJob(ctx, deploymentID); err != nil {
		return fmt.Errorf("delete job metadata: %w", err)
	}
	q.refreshMetrics(ctx)
	return nil
}

// RemoveFromQueue cancels a job that has not started: the ID is pulled from
// both lists and its metadata deleted. Returns true when the job was still
// queued; a job that already began running is left untouched.
func (q *BuildQueue) RemoveFromQueue(ctx context.Context, deploymentID string) (bool, error) {
	removedHigh, err := q.store.RemoveItem(ctx, highQueueKey, deploymentID)
	if err != nil {
		return false, err
	}
	removedLow, err := q.store.RemoveItem(ctx, lowQueueKey, deploymentID)
	if err != nil {
		return false, err
	}
	if removedHigh+removedLow == 0 {
		return false, nil
	}
	if err := q.store.DeleteJob(ctx, deploymentID); err != nil {
		return true, err
	}
	q.refreshMetrics(ctx)
	return true, nil
}

// GetQueueLength returns the number of queued (not yet started) jobs
func (q *BuildQueue) GetQueueLength(ctx context.Context) (int64, error) {
	high, err := q.store.ListLen(ctx, highQueueKey)
	if err != nil {
		return 0, err
	}
	low, err := q.store.ListLen(ctx, lowQueueKey)
	if err != nil {
		return 0, err
	}
	return high + low, nil
}

// GetQueueLengthByPriority returns the queued job count for one tier
func (q *BuildQueue) GetQueueLengthByPriority(ctx context.Context, priority models.BuildPriority) (int64, error) {
	return q.store.ListLen(ctx, queueKeyFor(priority))
}

// GetActiveBuildCount returns the number of builds holding a slot
func (q *BuildQueue) GetActiveBuildCount(ctx context.Context) (int64, error) {
	return q.store.ActiveCount(ctx)
}

// Dispatcher supervises the continuous dispatch loop started by
// ProcessBuildQueue
type Dispatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	errs   chan error
}

// Stop ends the loop after the current iteration and waits for it to exit
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
}

// Errors surfaces queue-store failures: the orchestration substrate being
// degraded is the supervisor's problem, not an individual build defect
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// ProcessBuildQueue runs the dispatch loop: on a hit the build function is
// fired in its own goroutine with the slot release chained to its settlement,
// and the loop immediately tries another dequeue to use any remaining slots.
// On a miss it sleeps for the poll interval. In-flight builds are not awaited
// by Stop.
func (q *BuildQueue) ProcessBuildQueue(buildFn BuildFunc, pollInterval time.Duration) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cancel: cancel,
		done:   make(chan struct{}),
		errs:   make(chan error, 8),
	}

	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			job, err := q.DequeueBuild(ctx)
			if err != nil {
				select {
				case d.errs <- err:
				default:
				}
				q.sleep(ctx, pollInterval)
				continue
			}
			if job == nil {
				q.sleep(ctx, pollInterval)
				continue
			}

			go q.runBuild(*job, buildFn)
		}
	}()

	return d
}

// runBuild guarantees the slot is released exactly once, whatever the build
// function does
func (q *BuildQueue) runBuild(job models.BuildJob, buildFn BuildFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Build %s panicked: %v", job.DeploymentID, r)
		}
		if err := q.CompleteBuild(context.Background(), job.DeploymentID); err != nil {
			log.Printf("Warning: failed to release slot for %s: %v", job.DeploymentID, err)
		}
	}()
	buildFn(job)
}

func (q *BuildQueue) sleep(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (q *BuildQueue) refreshMetrics(ctx context.Context) {
	if high, err := q.store.ListLen(ctx, highQueueKey); err == nil {
		metrics.QueueDepth.WithLabelValues(string(models.BuildPriorityHigh)).Set(float64(high))
	}
	if low, err := q.store.ListLen(ctx, lowQueueKey); err == nil {
		metrics.QueueDepth.WithLabelValues(string(models.BuildPriorityLow)).Set(float64(low))
	}
	if active, err := q.store.ActiveCount(ctx); err == nil {
		metrics.ActiveBuilds.Set(float64(active))
	}
}
