package a2a

import "testing"

func TestTaskStoreCreateAndTransition(t *testing.T) {
	store := NewTaskStore()
	task := store.Create("task_1", "agent_a", "query.execute", map[string]interface{}{"x": 1})
	if task.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", task.Status)
	}

	if err := store.Transition("task_1", StatusRunning); err != nil {
		t.Fatalf("transition to running: %v", err)
	}
	got, err := store.Get("task_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
}

func TestTaskStoreRejectsSkippingRunning(t *testing.T) {
	store := NewTaskStore()
	store.Create("task_1", "agent_a", "query.execute", nil)
	if err := store.Transition("task_1", StatusSucceeded); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTaskStoreRejectsTransitionOutOfTerminal(t *testing.T) {
	store := NewTaskStore()
	store.Create("task_1", "agent_a", "query.execute", nil)
	if err := store.Transition("task_1", StatusRunning); err != nil {
		t.Fatalf("transition to running: %v", err)
	}
	if err := store.Complete("task_1", map[string]interface{}{"ok": true}, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Transition("task_1", StatusRunning); err != ErrTaskTerminal {
		t.Fatalf("expected ErrTaskTerminal, got %v", err)
	}
}

func TestTaskStoreCompleteFailed(t *testing.T) {
	store := NewTaskStore()
	store.Create("task_1", "agent_a", "query.execute", nil)
	_ = store.Transition("task_1", StatusRunning)
	if err := store.Complete("task_1", nil, "boom"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := store.Get("task_1")
	if got.Status != StatusFailed || got.Error != "boom" {
		t.Fatalf("expected failed with error, got %+v", got)
	}
}

func TestTaskStoreListFiltersByStatus(t *testing.T) {
	store := NewTaskStore()
	store.Create("task_1", "agent_a", "query.execute", nil)
	store.Create("task_2", "agent_a", "query.execute", nil)
	_ = store.Transition("task_2", StatusRunning)

	accepted := store.List(StatusAccepted, 10)
	if len(accepted) != 1 || accepted[0].TaskID != "task_1" {
		t.Fatalf("expected one accepted task, got %+v", accepted)
	}

	running := store.List(StatusRunning, 10)
	if len(running) != 1 || running[0].TaskID != "task_2" {
		t.Fatalf("expected one running task, got %+v", running)
	}
}

func TestTaskStoreGetMissing(t *testing.T) {
	store := NewTaskStore()
	if _, err := store.Get("missing"); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
