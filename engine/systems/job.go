package systems

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"golang.org/x/sync/semaphore"
)

/**
 * @brief A fixed pool of workers. Submissions beyond the queue capacity
 * block the caller, so a slow consumer throttles the producer instead of
 * growing memory.
 */
type JobSystem struct {
	numWorkers int
	jobQueue   chan metadata.JobTask
	wg         sync.WaitGroup
	// Jobs submitted but not yet finished.
	pending sync.WaitGroup
	slots   *semaphore.Weighted
	closed  bool
	mu      sync.Mutex
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = fmt.Errorf("job system has been shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan metadata.JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
		slots:      semaphore.NewWeighted(int64(numWorkers + channelSize)),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job metadata.JobTask) {
	defer js.pending.Done()
	defer js.slots.Release(1)

	results := make(chan interface{}, 1)
	// Run the job and handle potential errors
	if err := job.OnStart(job.InputParams, results); err != nil {
		core.LogWith("job", job.ID).Error(err.Error())
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete(results)
	}

	// Call the completion callback if set
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down after every queued job has run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	js.mu.Unlock()

	js.pending.Wait()
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}

/**
 * @brief Blocks until every job submitted so far has finished.
 */
func (js *JobSystem) Wait() {
	js.pending.Wait()
}

// AddWorkNonBlocking queues the job from a new goroutine and returns immediately.
func (js *JobSystem) AddWorkNonBlocking(jt metadata.JobTask) {
	go func() {
		if err := js.Submit(context.Background(), jt); err != nil {
			core.LogError("failed to queue job %s: %s", jt.ID, err)
		}
	}()
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the pool and its queue are full.
 * @param info The description of the job to be executed.
 */
func (js *JobSystem) Submit(ctx context.Context, jt metadata.JobTask) error {
	if jt.OnStart == nil {
		return fmt.Errorf("job %s has no start function", jt.ID)
	}
	if err := js.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		js.slots.Release(1)
		return ErrJobSystemClosed
	}
	js.pending.Add(1)
	js.jobQueue <- jt
	return nil
}
