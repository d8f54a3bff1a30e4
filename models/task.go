package models

import (
	"time"
)

// Task is a single to-do item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    Deadline  `json:"deadline"`
	Completed   bool      `json:"completed"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewTask builds an incomplete task stamped with the current time.
// The id stays empty until a store assigns one.
func NewTask(title, description string, deadline Deadline) Task {
	return Task{
		Title:       title,
		Description: description,
		Deadline:    deadline,
		Completed:   false,
		Timestamp:   time.Now(),
	}
}

// TaskPatch carries the fields of a merge update. Nil fields are left as
// they are in the store.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Deadline    *Deadline `json:"deadline,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Deadline == nil && p.Completed == nil
}

// Apply returns a copy of t with the patch fields written over it.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Deadline != nil {
		t.Deadline = *p.Deadline
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t
}

// TaskRecord is the flattened form of a task as it lives in the remote
// collection. Every backend reads and writes this shape.
type TaskRecord struct {
	ID          string `json:"id" firestore:"id"`
	Title       string `json:"title" firestore:"title"`
	Description string `json:"description" firestore:"description"`
	Deadline    string `json:"deadline" firestore:"deadline"`
	Completed   bool   `json:"completed" firestore:"completed"`
	Timestamp   int64  `json:"timestamp,omitempty" firestore:"timestamp,omitempty"`
}

// Record flattens the task for storage.
func (t Task) Record() TaskRecord {
	var ts int64
	if !t.Timestamp.IsZero() {
		ts = t.Timestamp.UnixMilli()
	}
	return TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Deadline:    t.Deadline.String(),
		Completed:   t.Completed,
		Timestamp:   ts,
	}
}

// Task rebuilds a task from its stored form. Other clients share the
// collection, so a deadline that does not parse becomes the zero deadline
// instead of an error.
func (r TaskRecord) Task() Task {
	var ts time.Time
	if r.Timestamp != 0 {
		ts = time.UnixMilli(r.Timestamp)
	}
	return Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Deadline:    DeadlineOrZero(r.Deadline),
		Completed:   r.Completed,
		Timestamp:   ts,
	}
}
