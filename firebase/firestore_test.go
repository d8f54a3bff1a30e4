package firebase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gotest.tools/v3/assert"

	"taskplanner/models"
	"taskplanner/store"
)

func TestMapError(t *testing.T) {
	notFound := mapError(status.Error(codes.NotFound, "no document"))
	assert.Assert(t, errors.Is(notFound, store.ErrTaskNotFound))

	denied := status.Error(codes.PermissionDenied, "denied")
	assert.Equal(t, denied, mapError(denied))
	assert.NilError(t, mapError(nil))
}

func TestPatchUpdates(t *testing.T) {
	title := "Buy eggs"
	done := true
	deadline := models.NewDeadline(2024, time.March, 5)

	updates := patchUpdates(models.TaskPatch{Title: &title, Deadline: &deadline, Completed: &done})
	require.Len(t, updates, 3)
	assert.Equal(t, "title", updates[0].Path)
	assert.Equal(t, "Buy eggs", updates[0].Value)
	assert.Equal(t, "deadline", updates[1].Path)
	assert.Equal(t, "05/03/2024", updates[1].Value)
	assert.Equal(t, "completed", updates[2].Path)
	assert.Equal(t, true, updates[2].Value)

	assert.Equal(t, 0, len(patchUpdates(models.TaskPatch{})))
}

func TestDecodeDocumentsSkipsAndLogsBadDocuments(t *testing.T) {
	var logs bytes.Buffer
	s := &FirestoreTaskStore{logger: zerolog.New(&logs)}

	// A snapshot without data cannot be decoded into a task.
	missing := &firestore.DocumentSnapshot{Ref: &firestore.DocumentRef{ID: "ghost"}}

	tasks := s.decodeDocuments([]*firestore.DocumentSnapshot{missing})
	assert.Equal(t, 0, len(tasks))
	assert.Assert(t, strings.Contains(logs.String(), `"task_id":"ghost"`), logs.String())
	assert.Assert(t, strings.Contains(logs.String(), "skipping undecodable task document"))
}

// newEmulatorStore talks to a local Firestore emulator and is skipped
// when FIRESTORE_EMULATOR_HOST is not set.
func newEmulatorStore(t *testing.T) *FirestoreTaskStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), "demo-taskplanner")
	require.NoError(t, err)

	collection := "tasks_" + t.Name()
	s := NewFirestoreTaskStore(client, collection, zerolog.New(io.Discard), 100*time.Millisecond)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFirestoreTaskStore_CRUD(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, store.NewTask{
		Title:    "Buy milk",
		Deadline: models.NewDeadline(2024, time.March, 5),
	})
	require.NoError(t, err)
	assert.Assert(t, created.ID != "")

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", got.Title)
	assert.Equal(t, created.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())

	got.Title = "Buy milk and eggs"
	got.Completed = true
	require.NoError(t, s.Update(ctx, got))

	desc := "semi-skimmed"
	patched, err := s.Patch(ctx, created.ID, models.TaskPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Buy milk and eggs", patched.Title)
	assert.Equal(t, "semi-skimmed", patched.Description)
	assert.Equal(t, true, patched.Completed)

	require.NoError(t, s.Delete(ctx, created.ID))
	_, err = s.Get(ctx, created.ID)
	assert.Assert(t, errors.Is(err, store.ErrTaskNotFound))

	err = s.Update(ctx, got)
	assert.Assert(t, errors.Is(err, store.ErrTaskNotFound))
	assert.Assert(t, store.IsKind(err, store.KindWrite))
}

func TestFirestoreTaskStore_Subscribe(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()

	snaps := make(chan store.Snapshot, 8)
	sub, err := s.Subscribe(ctx, func(snap store.Snapshot, err error) {
		if err == nil {
			snaps <- snap
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	created, err := s.Create(ctx, store.NewTask{Title: "Buy milk", Deadline: models.NewDeadline(2024, time.March, 5)})
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-snaps:
			for _, task := range snap.Tasks {
				if task.ID == created.ID {
					return
				}
			}
		case <-deadline:
			t.Fatal("created task never appeared in a snapshot")
		}
	}
}
