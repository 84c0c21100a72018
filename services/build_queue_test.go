package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sitepress-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(concurrency int) *BuildQueue {
	return NewBuildQueue(NewMemoryQueueStore(), concurrency)
}

func TestDequeueReturnsNilWhenEmpty(t *testing.T) {
	queue := newTestQueue(3)

	job, err := queue.DequeueBuild(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueueIsFIFOWithinPriority(t *testing.T) {
	queue := newTestQueue(10)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueBuild(ctx, "d1", "p1", models.BuildPriorityLow))
	require.NoError(t, queue.EnqueueBuild(ctx, "d2", "p1", models.BuildPriorityLow))
	require.NoError(t, queue.EnqueueBuild(ctx, "d3", "p1", models.BuildPriorityLow))

	for _, want := range []string{"d1", "d2", "d3"} {
		job, err := queue.DequeueBuild(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.DeploymentID)
	}
}

func TestHighPriorityDrainsFirst(t *testing.T) {
	queue := newTestQueue(10)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueBuild(ctx, "low1", "p1", models.BuildPriorityLow))
	require.NoError(t, queue.EnqueueBuild(ctx, "low2", "p1", models.BuildPriorityLow))
	require.NoError(t, queue.EnqueueBuild(ctx, "high1", "p2", models.BuildPriorityHigh))

	job, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "high1", job.DeploymentID)

	// A high job enqueued while low jobs wait still goes first
	require.NoError(t, queue.EnqueueBuild(ctx, "high2", "p2", models.BuildPriorityHigh))
	job, err = queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "high2", job.DeploymentID)

	job, err = queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "low1", job.DeploymentID)
}

func TestConcurrencyCapBlocksDequeue(t *testing.T) {
	queue := newTestQueue(2)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, queue.EnqueueBuild(ctx, id, "p1", models.BuildPriorityHigh))
	}

	first, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)

	// Both slots taken: nothing more comes out even though d3 waits
	third, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)

	queued, err := queue.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)

	// Completing one frees a slot for d3
	require.NoError(t, queue.CompleteBuild(ctx, first.DeploymentID))
	third, err = queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "d3", third.DeploymentID)
}

func TestCompleteBuildIsIdempotent(t *testing.T) {
	queue := newTestQueue(1)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueBuild(ctx, "d1", "p1", models.BuildPriorityHigh))
	job, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, queue.CompleteBuild(ctx, "d1"))
	require.NoError(t, queue.CompleteBuild(ctx, "d1"))

	active, err := queue.GetActiveBuildCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestRemoveFromQueueOnlyAffectsQueuedJobs(t *testing.T) {
	queue := newTestQueue(1)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueBuild(ctx, "queued", "p1", models.BuildPriorityLow))
	require.NoError(t, queue.EnqueueBuild(ctx, "running", "p1", models.BuildPriorityHigh))

	job, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.Equal(t, "running", job.DeploymentID)

	removed, err := queue.RemoveFromQueue(ctx, "queued")
	require.NoError(t, err)
	assert.True(t, removed)

	// The running job is no longer in a list, so removal reports false
	removed, err = queue.RemoveFromQueue(ctx, "running")
	require.NoError(t, err)
	assert.False(t, removed)

	// Removing twice reports false the second time
	removed, err = queue.RemoveFromQueue(ctx, "queued")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDequeueSkipsEntriesWithoutMetadata(t *testing.T) {
	store := NewMemoryQueueStore()
	queue := NewBuildQueue(store, 5)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueBuild(ctx, "stale", "p1", models.BuildPriorityHigh))
	require.NoError(t, queue.EnqueueBuild(ctx, "fresh", "p1", models.BuildPriorityHigh))

	// Simulate metadata expiry for the first entry
	require.NoError(t, store.DeleteJob(ctx, "stale"))

	job, err := queue.DequeueBuild(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "fresh", job.DeploymentID)
}

func TestQueueLengthByPriority(t *testing.T) {
	queue := newTestQueue(5)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueBuild(ctx, "h1", "p1", models.BuildPriorityHigh))
	require.NoError(t, queue.EnqueueBuild(ctx, "l1", "p1", models.BuildPriorityLow))
	require.NoError(t, queue.EnqueueBuild(ctx, "l2", "p1", models.BuildPriorityLow))

	high, err := queue.GetQueueLengthByPriority(ctx, models.BuildPriorityHigh)
	require.NoError(t, err)
	low, err := queue.GetQueueLengthByPriority(ctx, models.BuildPriorityLow)
	require.NoError(t, err)

	assert.Equal(t, int64(1), high)
	assert.Equal(t, int64(2), low)
}

// With one slot, a second submission must wait for the first to settle and
// then start, preserving submission order.
func TestDispatcherSerializesBuildsWithSingleSlot(t *testing.T) {
	queue := newTestQueue(1)
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})
	started := make(chan string, 2)

	buildFn := func(job models.BuildJob) {
		mu.Lock()
		order = append(order, job.DeploymentID)
		mu.Unlock()
		started <- job.DeploymentID
		<-release
	}

	require.NoError(t, queue.EnqueueBuild(ctx, "d1", "p1", models.BuildPriorityHigh))
	require.NoError(t, queue.EnqueueBuild(ctx, "d2", "p1", models.BuildPriorityHigh))

	dispatcher := queue.ProcessBuildQueue(buildFn, 10*time.Millisecond)
	defer dispatcher.Stop()

	select {
	case id := <-started:
		assert.Equal(t, "d1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("first build never started")
	}

	// d2 must not start while d1 holds the only slot
	select {
	case id := <-started:
		t.Fatalf("build %s started while the slot was held", id)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case id := <-started:
		assert.Equal(t, "d2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("second build never started")
	}

	mu.Lock()
	assert.Equal(t, []string{"d1", "d2"}, order)
	mu.Unlock()
}

// A panicking build function still releases its slot
func TestDispatcherSurvivesPanickingBuild(t *testing.T) {
	queue := newTestQueue(1)
	ctx := context.Background()

	ran := make(chan string, 2)
	buildFn := func(job models.BuildJob) {
		ran <- job.DeploymentID
		if job.DeploymentID == "boom" {
			panic("exploded")
		}
	}

	require.NoError(t, queue.EnqueueBuild(ctx, "boom", "p1", models.BuildPriorityHigh))
	require.NoError(t, queue.EnqueueBuild(ctx, "after", "p1", models.BuildPriorityHigh))

	dispatcher := queue.ProcessBuildQueue(buildFn, 10*time.Millisecond)
	defer dispatcher.Stop()

	assert.Equal(t, "boom", <-ran)
	select {
	case id := <-ran:
		assert.Equal(t, "after", id)
	case <-time.After(2 * time.Second):
		t.Fatal("slot was never released after panic")
	}
}

func TestDispatcherStops(t *testing.T) {
	queue := newTestQueue(1)
	dispatcher := queue.ProcessBuildQueue(func(models.BuildJob) {}, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestMemoryStoreJobTTL(t *testing.T) {
	store := NewMemoryQueueStore()
	ctx := context.Background()

	require.NoError(t, store.PutJob(ctx, "d1", []byte("{}"), -time.Second))
	payload, err := store.GetJob(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, payload)

	require.NoError(t, store.PutJob(ctx, "d2", []byte("{}"), time.Hour))
	payload, err = store.GetJob(ctx, "d2")
	require.NoError(t, err)
	assert.NotNil(t, payload)
}
