package firebase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskplanner/models"
	"taskplanner/store"
)

var _ store.TaskStore = (*FirestoreTaskStore)(nil)

// FirestoreTaskStore keeps one document per task, keyed by task id, in a
// single collection. Live updates come from Firestore realtime listeners.
type FirestoreTaskStore struct {
	client           *firestore.Client
	tasks            *firestore.CollectionRef
	logger           zerolog.Logger
	resubscribeDelay time.Duration

	mu     sync.Mutex
	subs   map[*store.Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewFirestoreTaskStore(client *firestore.Client, collection string, logger zerolog.Logger, resubscribeDelay time.Duration) *FirestoreTaskStore {
	if collection == "" {
		collection = store.DefaultCollection
	}
	return &FirestoreTaskStore{
		client:           client,
		tasks:            client.Collection(collection),
		logger:           logger,
		resubscribeDelay: resubscribeDelay,
		subs:             make(map[*store.Subscription]struct{}),
	}
}

func (s *FirestoreTaskStore) Create(ctx context.Context, in store.NewTask) (models.Task, error) {
	// NewDoc allocates a unique id client-side, like a realtime database push key.
	ref := s.tasks.NewDoc()
	task := models.NewTask(in.Title, in.Description, in.Deadline)
	task.ID = ref.ID

	if _, err := ref.Create(ctx, task.Record()); err != nil {
		return models.Task{}, store.WriteError("create", ref.ID, mapError(err))
	}

	s.logger.Debug().
		Str("task_id", task.ID).
		Msg("task document created")
	return task, nil
}

func (s *FirestoreTaskStore) Get(ctx context.Context, id string) (models.Task, error) {
	doc, err := s.tasks.Doc(id).Get(ctx)
	if err != nil {
		return models.Task{}, store.ReadError("get", id, mapError(err))
	}
	task, err := decodeTask(doc)
	if err != nil {
		return models.Task{}, store.ReadError("get", id, err)
	}
	return task, nil
}

func (s *FirestoreTaskStore) List(ctx context.Context) ([]models.Task, error) {
	docs, err := s.tasks.Documents(ctx).GetAll()
	if err != nil {
		return nil, store.ReadError("list", "", mapError(err))
	}
	return s.decodeDocuments(docs), nil
}

// Update writes every user-editable field. Firestore's Update carries an
// exists precondition, so a missing document fails with NotFound instead
// of being created.
func (s *FirestoreTaskStore) Update(ctx context.Context, task models.Task) error {
	record := task.Record()
	updates := []firestore.Update{
		{Path: "id", Value: record.ID},
		{Path: "title", Value: record.Title},
		{Path: "description", Value: record.Description},
		{Path: "deadline", Value: record.Deadline},
		{Path: "completed", Value: record.Completed},
	}
	if _, err := s.tasks.Doc(task.ID).Update(ctx, updates); err != nil {
		return store.WriteError("update", task.ID, mapError(err))
	}
	return nil
}

func (s *FirestoreTaskStore) Patch(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if patch.IsEmpty() {
		task, err := s.Get(ctx, id)
		if err != nil {
			return models.Task{}, store.WriteError("patch", id, err)
		}
		return task, nil
	}

	ref := s.tasks.Doc(id)
	var merged models.Task
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeTask(doc)
		if err != nil {
			return err
		}
		merged = patch.Apply(current)
		return tx.Update(ref, patchUpdates(patch))
	})
	if err != nil {
		return models.Task{}, store.WriteError("patch", id, mapError(err))
	}
	return merged, nil
}

func (s *FirestoreTaskStore) Delete(ctx context.Context, id string) error {
	if _, err := s.tasks.Doc(id).Delete(ctx); err != nil {
		return store.WriteError("delete", id, mapError(err))
	}
	return nil
}

// Subscribe opens a realtime listener on the collection. When the stream
// fails the error is handed to the listener and the stream is reopened
// after the resubscribe delay.
func (s *FirestoreTaskStore) Subscribe(ctx context.Context, listener store.Listener) (*store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ReadError("subscribe", "", store.ErrStoreClosed)
	}

	ctx, cancel := context.WithCancel(ctx)
	var sub *store.Subscription
	sub = store.NewSubscription(func() {
		cancel()
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	s.subs[sub] = struct{}{}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Unsubscribe()
		s.listen(ctx, listener)
	}()
	return sub, nil
}

func (s *FirestoreTaskStore) listen(ctx context.Context, listener store.Listener) {
	for {
		iter := s.tasks.Snapshots(ctx)
		for {
			qs, err := iter.Next()
			if err != nil {
				iter.Stop()
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn().
					Err(err).
					Dur("retry_in", s.resubscribeDelay).
					Msg("task listener failed")
				listener(store.Snapshot{}, store.ReadError("listen", "", mapError(err)))
				break
			}

			docs, err := qs.Documents.GetAll()
			if err != nil {
				listener(store.Snapshot{}, store.ReadError("listen", "", mapError(err)))
				continue
			}
			listener(store.Snapshot{Tasks: s.decodeDocuments(docs), ReadTime: qs.ReadTime}, nil)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.resubscribeDelay):
		}
	}
}

// Close stops every listener and closes the Firestore client.
func (s *FirestoreTaskStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*store.Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.wg.Wait()
	return s.client.Close()
}

// decodeDocuments decodes a query result, logging and skipping documents
// that do not hold a task.
func (s *FirestoreTaskStore) decodeDocuments(docs []*firestore.DocumentSnapshot) []models.Task {
	tasks := make([]models.Task, 0, len(docs))
	for _, doc := range docs {
		task, err := decodeTask(doc)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("task_id", doc.Ref.ID).
				Msg("skipping undecodable task document")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func decodeTask(doc *firestore.DocumentSnapshot) (models.Task, error) {
	var record models.TaskRecord
	if err := doc.DataTo(&record); err != nil {
		return models.Task{}, fmt.Errorf("decode task %s: %w", doc.Ref.ID, err)
	}
	// The document key is authoritative even if the id field is stale.
	record.ID = doc.Ref.ID
	return record.Task(), nil
}

func patchUpdates(patch models.TaskPatch) []firestore.Update {
	var updates []firestore.Update
	if patch.Title != nil {
		updates = append(updates, firestore.Update{Path: "title", Value: *patch.Title})
	}
	if patch.Description != nil {
		updates = append(updates, firestore.Update{Path: "description", Value: *patch.Description})
	}
	if patch.Deadline != nil {
		updates = append(updates, firestore.Update{Path: "deadline", Value: patch.Deadline.String()})
	}
	if patch.Completed != nil {
		updates = append(updates, firestore.Update{Path: "completed", Value: *patch.Completed})
	}
	return updates
}

// mapError turns Firestore NotFound into store.ErrTaskNotFound and keeps
// every other error as is.
func mapError(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, status.Convert(err).Message())
	}
	return err
}
