package queue

import (
	"errors"
	"testing"
)

func TestReady_FIFO(t *testing.T) {
	q := NewReady()
	for _, pid := range []int{10, 20, 30} {
		if err := q.Enqueue(pid); err != nil {
			t.Fatalf("Enqueue(%d): %v", pid, err)
		}
	}
	for _, want := range []int{10, 20, 30} {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Fatalf("Dequeue() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue returned ok")
	}
}

func TestReady_EmptyDequeue(t *testing.T) {
	q := NewReady()
	pid, ok := q.Dequeue()
	if ok || pid != 0 {
		t.Errorf("Dequeue() = %d, %v; want 0, false", pid, ok)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestReady_RejectsDuplicate(t *testing.T) {
	q := NewReady()
	q.Enqueue(5)
	err := q.Enqueue(5)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Enqueue error = %v, want ErrDuplicate", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}

	// Once dequeued the PID may be queued again (preempt and re-enqueue).
	q.Dequeue()
	if err := q.Enqueue(5); err != nil {
		t.Errorf("re-enqueue after dequeue: %v", err)
	}
}

func TestReady_Remove(t *testing.T) {
	q := NewReady()
	for _, pid := range []int{1, 2, 3, 4} {
		q.Enqueue(pid)
	}
	if !q.Remove(3) {
		t.Fatal("Remove(3) = false")
	}
	if q.Remove(3) {
		t.Error("second Remove(3) = true")
	}
	got := q.Snapshot()
	want := []int{1, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
}

func TestReady_RotationKeepsOrder(t *testing.T) {
	// Simulates many scheduler cycles with NCPU=1: the front job is dequeued
	// and put back, so the order rotates but never reorders.
	q := NewReady()
	for _, pid := range []int{1, 2, 3} {
		q.Enqueue(pid)
	}
	var order []int
	for i := 0; i < 300; i++ {
		pid, ok := q.Dequeue()
		if !ok {
			t.Fatal("queue unexpectedly empty")
		}
		order = append(order, pid)
		q.Enqueue(pid)
	}
	for i, pid := range order {
		if want := i%3 + 1; pid != want {
			t.Fatalf("cycle %d admitted %d, want %d", i, pid, want)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
}
