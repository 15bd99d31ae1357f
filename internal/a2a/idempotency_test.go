package a2a

import "testing"

func TestIdempotencyStoreFirstLookupMisses(t *testing.T) {
	store := NewIdempotencyStore()
	rec, err := store.Lookup("agent_a", "key_1", "hash_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec != nil {
		t.Fatal("expected nil record before reservation")
	}
}

func TestIdempotencyStoreReplayReturnsStoredTaskID(t *testing.T) {
	store := NewIdempotencyStore()
	store.Reserve("agent_a", "key_1", "hash_1", "task_1")

	rec, err := store.Lookup("agent_a", "key_1", "hash_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec == nil || rec.TaskID != "task_1" {
		t.Fatalf("expected replay to surface task_1, got %+v", rec)
	}
}

func TestIdempotencyStoreMismatchedBodyRejected(t *testing.T) {
	store := NewIdempotencyStore()
	store.Reserve("agent_a", "key_1", "hash_1", "task_1")

	_, err := store.Lookup("agent_a", "key_1", "hash_2")
	if err != ErrIdempotencyMismatch {
		t.Fatalf("expected ErrIdempotencyMismatch, got %v", err)
	}
}

func TestIdempotencyStoreSetTerminal(t *testing.T) {
	store := NewIdempotencyStore()
	store.Reserve("agent_a", "key_1", "hash_1", "task_1")
	store.SetTerminal("agent_a", "key_1", map[string]interface{}{"status": "succeeded"})

	rec, err := store.Lookup("agent_a", "key_1", "hash_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.Terminal == nil || rec.Terminal["status"] != "succeeded" {
		t.Fatalf("expected terminal envelope recorded, got %+v", rec)
	}
}

func TestIdempotencyStoreDistinctAgentsDoNotCollide(t *testing.T) {
	store := NewIdempotencyStore()
	store.Reserve("agent_a", "key_1", "hash_1", "task_1")
	store.Reserve("agent_b", "key_1", "hash_1", "task_2")

	recA, _ := store.Lookup("agent_a", "key_1", "hash_1")
	recB, _ := store.Lookup("agent_b", "key_1", "hash_1")
	if recA.TaskID != "task_1" || recB.TaskID != "task_2" {
		t.Fatalf("expected independent records per agent, got %+v / %+v", recA, recB)
	}
}

func TestIdempotencyStoreEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	store := NewIdempotencyStore()
	store.capacity = 2
	store.Reserve("agent_a", "key_1", "hash_1", "task_1")
	store.Reserve("agent_a", "key_2", "hash_1", "task_2")
	store.Reserve("agent_a", "key_3", "hash_1", "task_3")

	if _, ok := store.entries[recordKey("agent_a", "key_1")]; ok {
		t.Fatal("expected least-recently-used key_1 to be evicted")
	}
	if _, ok := store.entries[recordKey("agent_a", "key_3")]; !ok {
		t.Fatal("expected most recent key_3 to remain")
	}
}
