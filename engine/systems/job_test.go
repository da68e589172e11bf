package systems

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsEveryJob(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)

	var mu sync.Mutex
	var completed []int
	var finished atomic.Int32
	for i := 0; i < 20; i++ {
		job := metadata.NewJobTask(metadata.JOB_TYPE_GENERAL, i, func(params interface{}, results chan<- interface{}) error {
			results <- params.(int) * 2
			return nil
		})
		job.OnComplete = func(results <-chan interface{}) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, (<-results).(int))
		}
		job.OnCompletionCallback = func() { finished.Add(1) }
		require.NoError(t, js.Submit(context.Background(), job))
	}
	js.Wait()

	assert.Len(t, completed, 20)
	assert.Equal(t, int32(20), finished.Load())
	require.NoError(t, js.Shutdown())
}

func TestJobSystemReportsFailures(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	boom := errors.New("boom")
	var failed error
	job := metadata.NewJobTask(metadata.JOB_TYPE_GENERAL, nil, func(interface{}, chan<- interface{}) error {
		return boom
	})
	job.OnComplete = func(<-chan interface{}) { t.Error("a failed job must not complete") }
	job.OnFailure = func(err error) { failed = err }
	require.NoError(t, js.Submit(context.Background(), job))
	js.Wait()

	assert.ErrorIs(t, failed, boom)
}

func TestJobSystemSubmitBlocksWhenFull(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	release := make(chan struct{})
	blocking := metadata.NewJobTask(metadata.JOB_TYPE_GENERAL, nil, func(interface{}, chan<- interface{}) error {
		<-release
		return nil
	})
	require.NoError(t, js.Submit(context.Background(), blocking))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = js.Submit(ctx, metadata.NewJobTask(metadata.JOB_TYPE_GENERAL, nil, func(interface{}, chan<- interface{}) error {
		return nil
	}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	js.Wait()
}

func TestJobSystemRejectsAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(2, 2)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown(), "shutdown is idempotent")

	err = js.Submit(context.Background(), metadata.NewJobTask(metadata.JOB_TYPE_GENERAL, nil, func(interface{}, chan<- interface{}) error {
		return nil
	}))
	assert.ErrorIs(t, err, ErrJobSystemClosed)
}

func TestJobSystemRejectsJobWithoutStart(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)
	defer js.Shutdown()

	assert.Error(t, js.Submit(context.Background(), metadata.JobTask{}))
}
