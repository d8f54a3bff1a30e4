package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"

	"taskplanner/models"
	"taskplanner/store"
)

func newTask(title, deadline string) store.NewTask {
	return store.NewTask{Title: title, Deadline: models.DeadlineOrZero(deadline)}
}

// collect returns a listener that forwards snapshots to a channel.
func collect(t *testing.T) (store.Listener, <-chan store.Snapshot) {
	t.Helper()
	ch := make(chan store.Snapshot, 64)
	return func(snap store.Snapshot, err error) {
		if err != nil {
			t.Errorf("unexpected delivery error: %v", err)
			return
		}
		ch <- snap
	}, ch
}

// waitFor drains snapshots until match accepts one.
func waitFor(t *testing.T, ch <-chan store.Snapshot, match func(store.Snapshot) bool) store.Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if match(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return store.Snapshot{}
		}
	}
}

func findTask(snap store.Snapshot, id string) []models.Task {
	var found []models.Task
	for _, task := range snap.Tasks {
		if task.ID == id {
			found = append(found, task)
		}
	}
	return found
}

func TestMemoryTaskStore_Create(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()
	defer s.Close()

	created, err := s.Create(context.Background(), newTask("Buy milk", "05/03/2024"))
	require.NoError(t, err)

	assert.Assert(t, created.ID != "")
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, "05/03/2024", created.Deadline.String())
	assert.Equal(t, false, created.Completed)
	assert.Assert(t, !created.Timestamp.IsZero())

	other, err := s.Create(context.Background(), newTask("Walk dog", "06/03/2024"))
	require.NoError(t, err)
	assert.Assert(t, other.ID != created.ID)

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestMemoryTaskStore_Update(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		setup     func(t *testing.T, s *store.MemoryTaskStore) string
		expectErr error
		postCheck func(t *testing.T, s *store.MemoryTaskStore, id string)
	}{
		{
			name: "overwrites every editable field",
			setup: func(t *testing.T, s *store.MemoryTaskStore) string {
				created, err := s.Create(context.Background(), store.NewTask{
					Title:       "Buy milk",
					Description: "old description",
					Deadline:    models.DeadlineOrZero("05/03/2024"),
				})
				require.NoError(t, err)
				return created.ID
			},
			postCheck: func(t *testing.T, s *store.MemoryTaskStore, id string) {
				got, err := s.Get(context.Background(), id)
				require.NoError(t, err)
				assert.Equal(t, "Buy milk and eggs", got.Title)
				assert.Equal(t, "", got.Description)
				assert.Equal(t, true, got.Completed)
				assert.Assert(t, !got.Timestamp.IsZero(), "creation timestamp must survive an update")

				all, err := s.List(context.Background())
				require.NoError(t, err)
				assert.Equal(t, 1, len(all))
			},
		},
		{
			name: "missing id",
			setup: func(t *testing.T, s *store.MemoryTaskStore) string {
				return "does-not-exist"
			},
			expectErr: store.ErrTaskNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := store.NewMemoryTaskStore()
			defer s.Close()

			id := tc.setup(t, s)
			err := s.Update(context.Background(), models.Task{
				ID:        id,
				Title:     "Buy milk and eggs",
				Deadline:  models.DeadlineOrZero("05/03/2024"),
				Completed: true,
			})
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.Assert(t, errors.Is(err, tc.expectErr))
				assert.Assert(t, store.IsKind(err, store.KindWrite))
				return
			}
			require.NoError(t, err)
			if tc.postCheck != nil {
				tc.postCheck(t, s, id)
			}
		})
	}
}

func TestMemoryTaskStore_Patch(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()
	defer s.Close()

	created, err := s.Create(context.Background(), store.NewTask{
		Title:       "Buy milk",
		Description: "semi-skimmed",
		Deadline:    models.DeadlineOrZero("05/03/2024"),
	})
	require.NoError(t, err)

	done := true
	merged, err := s.Patch(context.Background(), created.ID, models.TaskPatch{Completed: &done})
	require.NoError(t, err)
	assert.Equal(t, true, merged.Completed)
	assert.Equal(t, "Buy milk", merged.Title)
	assert.Equal(t, "semi-skimmed", merged.Description)
	assert.Equal(t, created.Deadline, merged.Deadline)

	unchanged, err := s.Patch(context.Background(), created.ID, models.TaskPatch{})
	require.NoError(t, err)
	assert.Equal(t, merged, unchanged)

	_, err = s.Patch(context.Background(), "missing", models.TaskPatch{Completed: &done})
	assert.Assert(t, errors.Is(err, store.ErrTaskNotFound))
}

func TestMemoryTaskStore_Delete(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()
	defer s.Close()

	created, err := s.Create(context.Background(), newTask("Buy milk", "05/03/2024"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), created.ID))
	_, err = s.Get(context.Background(), created.ID)
	assert.Assert(t, errors.Is(err, store.ErrTaskNotFound))

	require.NoError(t, s.Delete(context.Background(), created.ID), "deleting twice is not an error")
}

func TestMemoryTaskStore_CancelledContext(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, newTask("Buy milk", "05/03/2024"))
	require.Error(t, err)
	assert.Assert(t, errors.Is(err, context.Canceled))
}

func TestMemoryTaskStore_SubscribeSeesOwnWrites(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()
	defer s.Close()

	listener, snaps := collect(t)
	sub, err := s.Subscribe(context.Background(), listener)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	initial := waitFor(t, snaps, func(store.Snapshot) bool { return true })
	assert.Equal(t, 0, len(initial.Tasks))

	created, err := s.Create(context.Background(), newTask("Buy milk", "05/03/2024"))
	require.NoError(t, err)
	waitFor(t, snaps, func(snap store.Snapshot) bool { return len(findTask(snap, created.ID)) == 1 })

	err = s.Update(context.Background(), models.Task{
		ID:        created.ID,
		Title:     "Buy milk and eggs",
		Deadline:  created.Deadline,
		Completed: true,
	})
	require.NoError(t, err)
	snap := waitFor(t, snaps, func(snap store.Snapshot) bool {
		found := findTask(snap, created.ID)
		return len(found) == 1 && found[0].Completed
	})
	found := findTask(snap, created.ID)
	assert.Equal(t, "Buy milk and eggs", found[0].Title)
	assert.Equal(t, 1, len(snap.Tasks))

	require.NoError(t, s.Delete(context.Background(), created.ID))
	waitFor(t, snaps, func(snap store.Snapshot) bool { return len(findTask(snap, created.ID)) == 0 })
}

func TestMemoryTaskStore_SubscribeWithExistingTasks(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()
	defer s.Close()

	created, err := s.Create(context.Background(), newTask("Buy milk", "05/03/2024"))
	require.NoError(t, err)

	listener, snaps := collect(t)
	sub, err := s.Subscribe(context.Background(), listener)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	initial := waitFor(t, snaps, func(store.Snapshot) bool { return true })
	assert.Equal(t, 1, len(findTask(initial, created.ID)))
}

func TestMemoryTaskStore_CloseRejectsWork(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryTaskStore()

	listener, _ := collect(t)
	sub, err := s.Subscribe(context.Background(), listener)
	require.NoError(t, err)

	require.NoError(t, s.Close())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ended by Close")
	}

	_, err = s.Create(context.Background(), newTask("Buy milk", "05/03/2024"))
	assert.Assert(t, errors.Is(err, store.ErrStoreClosed))

	_, err = s.Subscribe(context.Background(), listener)
	assert.Assert(t, errors.Is(err, store.ErrStoreClosed))
}
