package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/pipeline/internal/jobs"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueueDeliversJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	var seen []string
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.GetID())
		return nil
	}

	ctx := context.Background()
	require.NoError(t, q.Start(ctx, handler))

	for i := 0; i < 3; i++ {
		err := q.PublishImportFile(ctx, &jobs.ImportFileJob{URI: fmt.Sprintf("f%d.csv", i)})
		require.NoError(t, err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})

	listed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var mu sync.Mutex
	attempts := 0
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient failure")
		}
		return nil
	}

	ctx := context.Background()
	require.NoError(t, q.Start(ctx, handler))

	job := &jobs.ImportFileJob{URI: "flaky.csv", MaxRetries: 3}
	require.NoError(t, q.PublishImportFile(ctx, job))

	waitFor(t, func() bool {
		saved, err := store.GetJob(ctx, job.JobID)
		return err == nil && saved.Status == jobs.JobStatusCompleted
	})

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.RetryCount)
	assert.Empty(t, saved.Error)
}

func TestQueueExhaustsRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return fmt.Errorf("permanent failure")
	}

	ctx := context.Background()
	require.NoError(t, q.Start(ctx, handler))

	job := &jobs.ImportFileJob{URI: "broken.csv", MaxRetries: 1}
	require.NoError(t, q.PublishImportFile(ctx, job))

	waitFor(t, func() bool {
		saved, err := store.GetJob(ctx, job.JobID)
		return err == nil && saved.Status == jobs.JobStatusFailed
	})

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "permanent failure", saved.Error)
}

func TestQueueRejectsPublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())

	err := q.PublishImportFile(context.Background(), &jobs.ImportFileJob{URI: "late.csv"})
	require.Error(t, err)
}
