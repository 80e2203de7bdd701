package exec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedExecutor(t *testing.T) *Executor {
	t.Helper()
	e := New(nil)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(time.Second) })
	return e
}

func TestRunTaskResolvesFuture(t *testing.T) {
	e := startedExecutor(t)

	f := RunTask(e, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	val, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.True(t, f.Done())
}

func TestRunTaskPanicBecomesError(t *testing.T) {
	e := startedExecutor(t)

	f := RunTask(e, func(ctx context.Context) (int, error) {
		panic("boom")
	})

	_, err := f.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRunTasksGathersByName(t *testing.T) {
	e := startedExecutor(t)

	results, err := RunTasks(context.Background(), e, map[string]Task[string]{
		"analysis": func(ctx context.Context) (string, error) { return "a", nil },
		"indices":  func(ctx context.Context) (string, error) { return "b", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"analysis": "a", "indices": "b"}, results)
}

func TestRunTasksCapturesPerTaskError(t *testing.T) {
	e := startedExecutor(t)

	results, err := RunTasks(context.Background(), e, map[string]Task[string]{
		"ok":  func(ctx context.Context) (string, error) { return "fine", nil },
		"bad": func(ctx context.Context) (string, error) { return "", errors.New("nope") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, "fine", results["ok"], "sibling results survive one failure")
	_, present := results["bad"]
	assert.False(t, present)
}

func TestRunBackgroundReportsException(t *testing.T) {
	e := startedExecutor(t)

	e.RunBackground("flaky", func(ctx context.Context) error {
		return errors.New("disk full")
	})

	select {
	case err := <-e.Exceptions():
		assert.Contains(t, err.Error(), "flaky")
		assert.Contains(t, err.Error(), "disk full")
	case <-time.After(2 * time.Second):
		t.Fatal("no exception reported")
	}
}

func TestStopWaitsForWork(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.Start(context.Background()))

	var finished atomic.Bool
	e.RunBackground("slow", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	require.NoError(t, e.Stop(time.Second))
	assert.True(t, finished.Load())
}

func TestRunTaskAfterStop(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop(time.Second))

	f := RunTask(e, func(ctx context.Context) (int, error) { return 1, nil })
	_, err := f.Wait(context.Background())
	require.Error(t, err)
}
