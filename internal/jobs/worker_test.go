package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_SweepResetsStuckJobAndDropsStaleResult(t *testing.T) {
	q := NewQueue(2, nil, WithStuckTimeout(30*time.Millisecond))
	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, q.Start(func(context.Context, *Job) (Result, error) {
		if calls.Add(1) == 1 {
			<-release
			return Result{}, assert.AnError
		}
		return DoneResult(), nil
	}))
	defer q.Stop()

	job, _ := q.Enqueue(EnqueueRequest{Kind: KindTranslateGroup, RunID: "run-1", GroupID: 1})
	waitStatus(t, q, job.ID, StatusRunning)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, q.SweepStuck())

	waitStatus(t, q, job.ID, StatusSuccess)
	close(release)

	time.Sleep(20 * time.Millisecond)
	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, got.Status, "late result of the reclaimed run is ignored")
	assert.Empty(t, got.Error)
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	q := NewQueue(1, nil)
	require.NoError(t, q.Start(func(context.Context, *Job) (Result, error) { return DoneResult(), nil }))
	q.Enqueue(EnqueueRequest{Kind: KindTranslateGroup, RunID: "run-1", Delay: time.Hour})

	q.Stop()
	q.Stop()
}
