package a2a

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkerPoolDrivesTaskToSucceeded(t *testing.T) {
	store := NewTaskStore()
	task := store.Create("task_1", "agent_a", "query.execute", map[string]interface{}{"chain_id": 1})

	var wg sync.WaitGroup
	wg.Add(1)
	pool := NewWorkerPool(store, func(ctx context.Context, tsk Task) (map[string]interface{}, error) {
		defer wg.Done()
		return map[string]interface{}{"rows": 0}, nil
	}, WithWorkerCount(1), WithQueueCapacity(4), WithTaskTimeout(time.Second))
	pool.Start()
	defer pool.Stop()

	pool.Submit(task.TaskID)
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Get(task.TaskID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == StatusSucceeded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach succeeded state in time")
}

func TestWorkerPoolDrivesTaskToFailed(t *testing.T) {
	store := NewTaskStore()
	task := store.Create("task_1", "agent_a", "query.execute", nil)

	pool := NewWorkerPool(store, func(ctx context.Context, tsk Task) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}, WithWorkerCount(1))
	pool.Start()
	defer pool.Stop()

	pool.Submit(task.TaskID)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Get(task.TaskID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == StatusFailed {
			if got.Error != "boom" {
				t.Fatalf("expected error message boom, got %s", got.Error)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach failed state in time")
}

func TestTaskRingDropsOldestOnOverflow(t *testing.T) {
	ring := newTaskRing(2)
	ring.push("a")
	ring.push("b")
	dropped, overflowed := ring.push("c")
	if !overflowed || dropped != "a" {
		t.Fatalf("expected overflow dropping a, got dropped=%s overflowed=%v", dropped, overflowed)
	}
	first, ok := ring.pop()
	if !ok || first != "b" {
		t.Fatalf("expected b first, got %s ok=%v", first, ok)
	}
}
