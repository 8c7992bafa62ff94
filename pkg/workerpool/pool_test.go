package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoWorker(ctx context.Context, task *Task) *Result {
	return &Result{TaskID: task.ID, Success: true, Data: task.Payload}
}

func TestDoReturnsOwnResult(t *testing.T) {
	pool, err := New(Config{Workers: 4, QueueSize: 32}, echoWorker, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("task-%d", i)
			result, err := pool.Do(context.Background(), &Task{ID: id, Payload: i})
			require.NoError(t, err)
			// Each caller gets its own task back, never a sibling's.
			assert.Equal(t, id, result.TaskID)
			assert.Equal(t, i, result.Data)
		}(i)
	}
	wg.Wait()
}

func TestDoRespectsContext(t *testing.T) {
	blocker := func(ctx context.Context, task *Task) *Result {
		<-ctx.Done()
		return &Result{TaskID: task.ID, Success: false, Error: ctx.Err()}
	}
	pool, err := New(Config{Workers: 1, QueueSize: 1}, blocker, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pool.Do(ctx, &Task{ID: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetriesExhausted(t *testing.T) {
	boom := errors.New("boom")
	var attempts int
	var mu sync.Mutex
	failing := func(ctx context.Context, task *Task) *Result {
		mu.Lock()
		attempts++
		mu.Unlock()
		return &Result{TaskID: task.ID, Success: false, Error: boom}
	}

	pool, err := New(Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond}, failing, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	result, err := pool.Do(context.Background(), &Task{ID: "fails"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestTrySubmitQueueFull(t *testing.T) {
	release := make(chan struct{})
	blocker := func(ctx context.Context, task *Task) *Result {
		<-release
		return &Result{TaskID: task.ID, Success: true}
	}

	pool, err := New(Config{Workers: 1, QueueSize: 1}, blocker, nil)
	require.NoError(t, err)
	pool.Start()
	defer func() {
		close(release)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue.
	require.NoError(t, pool.TrySubmit(&Task{ID: "a"}))
	// Give the worker a moment to pick up the first task.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pool.TrySubmit(&Task{ID: "b"}))

	err = pool.TrySubmit(&Task{ID: "c"})
	assert.Error(t, err)
}

func TestStopConcurrentSubmitDoesNotPanic(t *testing.T) {
	pool, err := New(Config{Workers: 2, QueueSize: 4}, echoWorker, nil)
	require.NoError(t, err)
	pool.Start()

	// Hammer Submit from several goroutines while Stop runs. A submit that
	// races the shutdown must either enqueue or return an error, never
	// panic on a closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; ; j++ {
				task := &Task{ID: fmt.Sprintf("s%d-%d", i, j)}
				if err := pool.Submit(context.Background(), task); err != nil {
					return
				}
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pool.Stop())
	wg.Wait()

	_, err = pool.Do(context.Background(), &Task{ID: "late"})
	assert.Error(t, err)
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var processed []string
	slow := func(ctx context.Context, task *Task) *Result {
		<-release
		mu.Lock()
		processed = append(processed, task.ID)
		mu.Unlock()
		return &Result{TaskID: task.ID, Success: true}
	}

	pool, err := New(Config{Workers: 1, QueueSize: 4}, slow, nil)
	require.NoError(t, err)
	pool.Start()

	// Tasks carry their own context so shutdown does not cancel them.
	require.NoError(t, pool.Submit(context.Background(), &Task{ID: "a", Context: context.Background()}))
	require.NoError(t, pool.Submit(context.Background(), &Task{ID: "b", Context: context.Background()}))
	time.Sleep(10 * time.Millisecond)

	close(release)
	require.NoError(t, pool.Stop())

	mu.Lock()
	defer mu.Unlock()
	// Both the in-flight task and the one still queued at shutdown finish.
	assert.ElementsMatch(t, []string{"a", "b"}, processed)
}

func TestStats(t *testing.T) {
	pool, err := New(Config{Workers: 2, QueueSize: 8}, echoWorker, nil)
	require.NoError(t, err)
	pool.Start()

	for i := 0; i < 5; i++ {
		_, err := pool.Do(context.Background(), &Task{ID: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, pool.Stop())

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.TasksSubmitted)
	assert.Equal(t, int64(5), stats.TasksCompleted)
	assert.Equal(t, int64(0), stats.TasksFailed)
}
