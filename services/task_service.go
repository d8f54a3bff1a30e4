package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskplanner/models"
	"taskplanner/store"
)

type CreateTaskParams struct {
	Title       string
	Description string
	Deadline    string
}

// UpdateTaskParams is a full overwrite: every field must carry its
// current value.
type UpdateTaskParams struct {
	ID          string
	Title       string
	Description string
	Deadline    string
	Completed   bool
}

// PatchTaskParams is a merge update: nil fields are left untouched.
type PatchTaskParams struct {
	Title       *string
	Description *string
	Deadline    *string
	Completed   *bool
}

// TaskService validates caller input and forwards it to the task store.
// Every store call is bounded by the write timeout; failures are logged
// once and returned without retry.
type TaskService struct {
	logger       zerolog.Logger
	store        store.TaskStore
	writeTimeout time.Duration
}

func NewTaskService(logger zerolog.Logger, taskStore store.TaskStore, writeTimeout time.Duration) *TaskService {
	return &TaskService{
		logger:       logger,
		store:        taskStore,
		writeTimeout: writeTimeout,
	}
}

func (s *TaskService) CreateTask(ctx context.Context, params CreateTaskParams) (models.Task, error) {
	title, err := validateTitle(params.Title)
	if err != nil {
		return models.Task{}, err
	}
	deadline, err := validateDeadline(params.Deadline)
	if err != nil {
		return models.Task{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	task, err := s.store.Create(ctx, store.NewTask{
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Deadline:    deadline,
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("title", title).
			Msg("failed to create task")
		return models.Task{}, err
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Msg("created task")
	return task, nil
}

func (s *TaskService) GetTask(ctx context.Context, id string) (models.Task, error) {
	if err := validateID(id); err != nil {
		return models.Task{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		s.logFailure(err, id, "failed to get task")
		return models.Task{}, err
	}
	return task, nil
}

// ListTasks returns every task in display order.
func (s *TaskService) ListTasks(ctx context.Context) ([]models.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tasks, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to list tasks")
		return nil, err
	}

	s.logger.Debug().
		Int("count", len(tasks)).
		Msg("listed tasks")
	return models.SortForDisplay(tasks), nil
}

// UpdateTask overwrites the title, description, deadline and completion
// flag of an existing task.
func (s *TaskService) UpdateTask(ctx context.Context, params UpdateTaskParams) error {
	if err := validateID(params.ID); err != nil {
		return err
	}
	title, err := validateTitle(params.Title)
	if err != nil {
		return err
	}
	deadline, err := validateDeadline(params.Deadline)
	if err != nil {
		return err
	}

	task := models.Task{
		ID:          params.ID,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Deadline:    deadline,
		Completed:   params.Completed,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Update(ctx, task); err != nil {
		s.logFailure(err, params.ID, "failed to update task")
		return err
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Bool("completed", task.Completed).
		Msg("updated task")
	return nil
}

func (s *TaskService) PatchTask(ctx context.Context, id string, params PatchTaskParams) (models.Task, error) {
	if err := validateID(id); err != nil {
		return models.Task{}, err
	}

	var patch models.TaskPatch
	if params.Title != nil {
		title, err := validateTitle(*params.Title)
		if err != nil {
			return models.Task{}, err
		}
		patch.Title = &title
	}
	if params.Description != nil {
		description := strings.TrimSpace(*params.Description)
		patch.Description = &description
	}
	if params.Deadline != nil {
		deadline, err := validateDeadline(*params.Deadline)
		if err != nil {
			return models.Task{}, err
		}
		patch.Deadline = &deadline
	}
	patch.Completed = params.Completed

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	task, err := s.store.Patch(ctx, id, patch)
	if err != nil {
		s.logFailure(err, id, "failed to patch task")
		return models.Task{}, err
	}

	s.logger.Info().
		Str("task_id", id).
		Msg("patched task")
	return task, nil
}

// SetCompleted flips the completion flag without touching other fields.
func (s *TaskService) SetCompleted(ctx context.Context, id string, completed bool) (models.Task, error) {
	return s.PatchTask(ctx, id, PatchTaskParams{Completed: &completed})
}

func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Delete(ctx, id); err != nil {
		s.logFailure(err, id, "failed to delete task")
		return err
	}

	s.logger.Info().
		Str("task_id", id).
		Msg("deleted task")
	return nil
}

// Subscribe relays store snapshots to listener in display order. The
// subscription lives until it is cancelled or ctx is done; the write
// timeout only bounds opening it.
func (s *TaskService) Subscribe(ctx context.Context, listener store.Listener) (*store.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, func(snap store.Snapshot, err error) {
		if err != nil {
			s.logger.Warn().
				Err(err).
				Msg("task snapshot delivery failed")
			listener(store.Snapshot{}, err)
			return
		}
		snap.Tasks = models.SortForDisplay(snap.Tasks)
		listener(snap, nil)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to subscribe to tasks")
		return nil, err
	}

	s.logger.Debug().Msg("subscribed to tasks")
	return sub, nil
}

func (s *TaskService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.writeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.writeTimeout)
}

func (s *TaskService) logFailure(err error, id, msg string) {
	if errors.Is(err, store.ErrTaskNotFound) {
		s.logger.Warn().
			Str("task_id", id).
			Msg("task not found")
		return
	}
	s.logger.Error().
		Err(err).
		Str("task_id", id).
		Msg(msg)
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return store.NewValidationError("id", "is required")
	}
	return nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", store.NewValidationError("title", "is required")
	}
	return title, nil
}

func validateDeadline(deadline string) (models.Deadline, error) {
	if strings.TrimSpace(deadline) == "" {
		return models.Deadline{}, store.NewValidationError("deadline", "is required")
	}
	d, err := models.ParseDeadline(deadline)
	if err != nil {
		return models.Deadline{}, store.NewValidationError("deadline", "must be a dd/MM/yyyy date")
	}
	return d, nil
}
