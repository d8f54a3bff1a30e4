package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskplanner/models"
)

// Compile-time check to ensure MemoryTaskStore implements TaskStore
var _ TaskStore = (*MemoryTaskStore)(nil)

// MemoryTaskStore keeps the collection in process memory. It backs local
// runs and tests.
type MemoryTaskStore struct {
	mu     sync.RWMutex
	tasks  map[string]models.Task
	hub    *Hub
	closed bool
	now    func() time.Time
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]models.Task),
		hub:   NewHub(),
		now:   time.Now,
	}
}

func (s *MemoryTaskStore) Create(ctx context.Context, in NewTask) (models.Task, error) {
	if err := ctx.Err(); err != nil {
		return models.Task{}, WriteError("create", "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Task{}, WriteError("create", "", ErrStoreClosed)
	}

	task := models.NewTask(in.Title, in.Description, in.Deadline)
	task.ID = uuid.NewString()
	task.Timestamp = s.now()
	s.tasks[task.ID] = task
	s.publishLocked()
	return task, nil
}

func (s *MemoryTaskStore) Get(ctx context.Context, id string) (models.Task, error) {
	if err := ctx.Err(); err != nil {
		return models.Task{}, ReadError("get", id, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ReadError("get", id, ErrTaskNotFound)
	}
	return task, nil
}

func (s *MemoryTaskStore) List(ctx context.Context) ([]models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, ReadError("list", "", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(), nil
}

func (s *MemoryTaskStore) Update(ctx context.Context, task models.Task) error {
	if err := ctx.Err(); err != nil {
		return WriteError("update", task.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return WriteError("update", task.ID, ErrStoreClosed)
	}

	current, ok := s.tasks[task.ID]
	if !ok {
		return WriteError("update", task.ID, ErrTaskNotFound)
	}
	task.Timestamp = current.Timestamp
	s.tasks[task.ID] = task
	s.publishLocked()
	return nil
}

func (s *MemoryTaskStore) Patch(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if err := ctx.Err(); err != nil {
		return models.Task{}, WriteError("patch", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Task{}, WriteError("patch", id, ErrStoreClosed)
	}

	current, ok := s.tasks[id]
	if !ok {
		return models.Task{}, WriteError("patch", id, ErrTaskNotFound)
	}
	if patch.IsEmpty() {
		return current, nil
	}
	merged := patch.Apply(current)
	s.tasks[id] = merged
	s.publishLocked()
	return merged, nil
}

func (s *MemoryTaskStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return WriteError("delete", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return WriteError("delete", id, ErrStoreClosed)
	}

	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	delete(s.tasks, id)
	s.publishLocked()
	return nil
}

func (s *MemoryTaskStore) Subscribe(ctx context.Context, listener Listener) (*Subscription, error) {
	// The read lock keeps writers from publishing between the initial
	// snapshot and the registration.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ReadError("subscribe", "", ErrStoreClosed)
	}

	initial := Snapshot{Tasks: s.listLocked(), ReadTime: s.now()}
	sub, err := s.hub.Add(ctx, listener, &initial)
	if err != nil {
		return nil, ReadError("subscribe", "", err)
	}
	return sub, nil
}

func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.hub.Close()
	return nil
}

func (s *MemoryTaskStore) listLocked() []models.Task {
	tasks := make([]models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

func (s *MemoryTaskStore) publishLocked() {
	s.hub.Publish(Snapshot{Tasks: s.listLocked(), ReadTime: s.now()})
}
