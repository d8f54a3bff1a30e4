// Package redisstore keeps the task collection in a Redis hash and fans
// changes out over Redis pub/sub.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskplanner/models"
	"taskplanner/store"
)

// mergeScript writes the JSON object in ARGV[3] over the record stored
// under ARGV[1] and publishes the id on ARGV[2]. It returns the merged
// record, or nil when the task does not exist. Running server side keeps
// the read and the write of one task atomic without locking the hash.
var mergeScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
	return false
end
local record = cjson.decode(raw)
for field, value in pairs(cjson.decode(ARGV[3])) do
	record[field] = value
end
record['id'] = ARGV[1]
local encoded = cjson.encode(record)
redis.call('HSET', KEYS[1], ARGV[1], encoded)
redis.call('PUBLISH', ARGV[2], ARGV[1])
return encoded
`)

var _ store.TaskStore = (*RedisTaskStore)(nil)

var errTaskExists = errors.New("task id already exists")

// RedisTaskStore stores each task as a JSON field of one hash. Every write
// publishes the task id on "<key>:changed" so that all processes sharing
// the hash refresh their subscribers.
type RedisTaskStore struct {
	client  *redis.Client
	key     string
	channel string
	logger  zerolog.Logger
	hub     *store.Hub
	pubsub  *redis.PubSub

	retryDelay time.Duration
	refreshMu  sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewRedisTaskStore(ctx context.Context, url, key string, logger zerolog.Logger, retryDelay time.Duration) (*RedisTaskStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if key == "" {
		key = store.DefaultCollection
	}
	s := &RedisTaskStore{
		client:     client,
		key:        key,
		channel:    key + ":changed",
		logger:     logger,
		hub:        store.NewHub(),
		retryDelay: retryDelay,
		done:       make(chan struct{}),
	}

	s.pubsub = client.Subscribe(ctx, s.channel)
	// Receive waits for the subscription confirmation.
	if _, err := s.pubsub.Receive(pingCtx); err != nil {
		s.pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	s.cancel = stop
	go s.watch(loopCtx)

	return s, nil
}

func (s *RedisTaskStore) Create(ctx context.Context, in store.NewTask) (models.Task, error) {
	task := models.NewTask(in.Title, in.Description, in.Deadline)
	task.ID = uuid.NewString()

	data, err := json.Marshal(task.Record())
	if err != nil {
		return models.Task{}, store.WriteError("create", task.ID, fmt.Errorf("failed to marshal task: %w", err))
	}

	var inserted *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		inserted = pipe.HSetNX(ctx, s.key, task.ID, data)
		pipe.Publish(ctx, s.channel, task.ID)
		return nil
	})
	if err != nil {
		return models.Task{}, store.WriteError("create", task.ID, err)
	}
	if !inserted.Val() {
		return models.Task{}, store.WriteError("create", task.ID, errTaskExists)
	}
	return task, nil
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (models.Task, error) {
	raw, err := s.client.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, store.ReadError("get", id, store.ErrTaskNotFound)
	}
	if err != nil {
		return models.Task{}, store.ReadError("get", id, err)
	}
	task, err := decodeTask(id, raw)
	if err != nil {
		return models.Task{}, store.ReadError("get", id, err)
	}
	return task, nil
}

func (s *RedisTaskStore) List(ctx context.Context) ([]models.Task, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, store.ReadError("list", "", err)
	}

	tasks := make([]models.Task, 0, len(fields))
	for id, raw := range fields {
		task, err := decodeTask(id, raw)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("task_id", id).
				Msg("skipping undecodable task")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Update overwrites the editable fields and keeps the stored timestamp.
func (s *RedisTaskStore) Update(ctx context.Context, task models.Task) error {
	_, err := s.merge(ctx, task.ID, overwritePatch(task))
	if err != nil {
		return store.WriteError("update", task.ID, err)
	}
	return nil
}

func (s *RedisTaskStore) Patch(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if patch.IsEmpty() {
		task, err := s.Get(ctx, id)
		if err != nil {
			return models.Task{}, store.WriteError("patch", id, err)
		}
		return task, nil
	}

	merged, err := s.merge(ctx, id, patch)
	if err != nil {
		return models.Task{}, store.WriteError("patch", id, err)
	}
	return merged, nil
}

func (s *RedisTaskStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.key, id)
		pipe.Publish(ctx, s.channel, id)
		return nil
	})
	if err != nil {
		return store.WriteError("delete", id, err)
	}
	return nil
}

func (s *RedisTaskStore) Subscribe(ctx context.Context, listener store.Listener) (*store.Subscription, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	tasks, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	initial := store.Snapshot{Tasks: tasks, ReadTime: time.Now()}
	sub, err := s.hub.Add(ctx, listener, &initial)
	if err != nil {
		return nil, store.ReadError("subscribe", "", err)
	}
	return sub, nil
}

func (s *RedisTaskStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.hub.Close()
		if perr := s.pubsub.Close(); perr != nil {
			err = perr
		}
		if cerr := s.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// merge applies patch to one stored task in a single script call. Writers
// of different tasks never contend, and writers of the same task are
// serialized by Redis, the last one winning field by field.
func (s *RedisTaskStore) merge(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	fields, err := json.Marshal(patch)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to marshal patch: %w", err)
	}

	raw, err := mergeScript.Run(ctx, s.client, []string{s.key}, id, s.channel, string(fields)).Text()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, store.ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return decodeTask(id, raw)
}

// overwritePatch sets every editable field of task.
func overwritePatch(task models.Task) models.TaskPatch {
	return models.TaskPatch{
		Title:       &task.Title,
		Description: &task.Description,
		Deadline:    &task.Deadline,
		Completed:   &task.Completed,
	}
}

func (s *RedisTaskStore) watch(ctx context.Context) {
	defer close(s.done)

	messages := s.pubsub.Channel()
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			s.drain(messages)
		case <-retry:
		}

		retry = nil
		if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
			retry = time.After(s.retryDelay)
		}
	}
}

// drain folds a burst of change messages into one refresh.
func (s *RedisTaskStore) drain(messages <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-messages:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *RedisTaskStore) refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.hub.Len() == 0 {
		return nil
	}
	tasks, err := s.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("failed to reload tasks after change")
			s.hub.PublishError(err)
		}
		return err
	}
	s.hub.Publish(store.Snapshot{Tasks: tasks, ReadTime: time.Now()})
	return nil
}

func decodeTask(id, raw string) (models.Task, error) {
	var record models.TaskRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return models.Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	record.ID = id
	return record.Task(), nil
}
