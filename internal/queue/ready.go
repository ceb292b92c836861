// Package queue holds the scheduler's ready queue.
package queue

import (
	"errors"
	"fmt"
)

// ErrDuplicate is returned when a PID is enqueued while already queued.
var ErrDuplicate = errors.New("already queued")

// Ready is an unbounded FIFO of job PIDs. A PID is present at most once.
//
// Ready is not safe for concurrent use; callers serialize access.
type Ready struct {
	items  []int
	head   int
	queued map[int]struct{}
}

// NewReady creates an empty queue.
func NewReady() *Ready {
	return &Ready{queued: make(map[int]struct{})}
}

// Enqueue appends pid at the back.
func (q *Ready) Enqueue(pid int) error {
	if _, ok := q.queued[pid]; ok {
		return fmt.Errorf("pid %d: %w", pid, ErrDuplicate)
	}
	q.queued[pid] = struct{}{}
	q.items = append(q.items, pid)
	return nil
}

// Dequeue removes and returns the front PID. ok is false when the queue is
// empty, which means there is nothing to schedule this round.
func (q *Ready) Dequeue() (pid int, ok bool) {
	if q.head == len(q.items) {
		return 0, false
	}
	pid = q.items[q.head]
	q.head++
	delete(q.queued, pid)
	q.compact()
	return pid, true
}

// Remove drops pid from wherever it sits. It reports whether pid was queued.
func (q *Ready) Remove(pid int) bool {
	if _, ok := q.queued[pid]; !ok {
		return false
	}
	delete(q.queued, pid)
	for i := q.head; i < len(q.items); i++ {
		if q.items[i] == pid {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.compact()
	return true
}

// Len returns the number of queued PIDs.
func (q *Ready) Len() int {
	return len(q.items) - q.head
}

// Snapshot returns the queued PIDs front to back.
func (q *Ready) Snapshot() []int {
	return append([]int(nil), q.items[q.head:]...)
}

// compact reclaims the consumed prefix once it dominates the backing array.
func (q *Ready) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 32 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}
