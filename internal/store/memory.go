package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/me/rrsched/pkg/model"
)

// MemoryStore implements Store with a mutex-guarded slice. Records are
// cloned on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs []*model.Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make([]*model.Job, 0, 64)}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Seq = len(m.jobs) + 1
	m.jobs = append(m.jobs, job.Clone())
	return nil
}

func (m *MemoryStore) FindJob(_ context.Context, pid int) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.jobs) - 1; i >= 0; i-- {
		if m.jobs[i].PID == pid {
			return m.jobs[i].Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindLiveJob(_ context.Context, pid int) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first: a reused PID belongs to the latest submission.
	for i := len(m.jobs) - 1; i >= 0; i-- {
		if j := m.jobs[i]; j.PID == pid && !j.Completed {
			return j.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListJobs(_ context.Context) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Seq < 1 || job.Seq > len(m.jobs) {
		return fmt.Errorf("job %d not found", job.Seq)
	}
	m.jobs[job.Seq-1] = job.Clone()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Migrate(context.Context) error { return nil }
