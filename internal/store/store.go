package store

import (
	"context"

	"github.com/me/rrsched/pkg/model"
)

// Store defines the persistence layer for job records. Records are scoped
// to one scheduling session and listed in submission order.
type Store interface {
	// CreateJob appends a record and assigns job.Seq (1-based).
	CreateJob(ctx context.Context, job *model.Job) error
	// FindJob returns the newest record for pid, completed or not, or nil.
	FindJob(ctx context.Context, pid int) (*model.Job, error)
	// FindLiveJob returns the not-yet-completed record for pid, or nil.
	FindLiveJob(ctx context.Context, pid int) (*model.Job, error)
	// ListJobs returns every record in submission order.
	ListJobs(ctx context.Context) ([]*model.Job, error)
	// UpdateJob overwrites the mutable fields of an existing record.
	UpdateJob(ctx context.Context, job *model.Job) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
