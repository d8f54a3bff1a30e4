// Package store defines the task collection contract shared by every
// backend, plus an in-memory implementation.
package store

import (
	"context"
	"time"

	"taskplanner/models"
)

// DefaultCollection is the remote collection that holds the tasks.
const DefaultCollection = "tasks"

// NewTask carries the caller-supplied fields of a task being created.
type NewTask struct {
	Title       string
	Description string
	Deadline    models.Deadline
}

// Snapshot is the full content of the collection at one point in time.
// Subscribers replace their view with it; it is never a diff.
type Snapshot struct {
	Tasks    []models.Task
	ReadTime time.Time
}

// Listener receives snapshots, or a read error when delivery failed. A
// read error does not end the subscription.
type Listener func(snap Snapshot, err error)

// TaskStore is the task collection. Implementations are safe for
// concurrent use.
type TaskStore interface {
	// Create allocates an id, writes an incomplete task and returns it once
	// the store has acknowledged the write.
	Create(ctx context.Context, task NewTask) (models.Task, error)

	Get(ctx context.Context, id string) (models.Task, error)

	List(ctx context.Context) ([]models.Task, error)

	// Update overwrites every user-editable field of an existing task.
	// The creation timestamp is kept. It returns ErrTaskNotFound when the
	// id is absent.
	Update(ctx context.Context, task models.Task) error

	// Patch writes only the fields set in patch and returns the merged
	// task. It returns ErrTaskNotFound when the id is absent.
	Patch(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error)

	// Delete removes the task. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Subscribe calls listener with the current snapshot and again after
	// every change until the subscription is cancelled or ctx is done.
	Subscribe(ctx context.Context, listener Listener) (*Subscription, error)

	Close() error
}
