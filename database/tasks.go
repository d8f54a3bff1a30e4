package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"taskplanner/models"
	"taskplanner/store"
)

// NotifyChannel is the LISTEN/NOTIFY channel every write signals on. The
// payload is the id of the task that changed.
const NotifyChannel = "tasks_changed"

const pingInterval = 90 * time.Second

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// errUnchanged rolls a transaction back without reporting a failure.
var errUnchanged = errors.New("no rows changed")

// PostgresTaskStore keeps tasks in one table. Writes end with pg_notify so
// that every process sharing the table refreshes its subscribers.
type PostgresTaskStore struct {
	db       *sql.DB
	table    string
	columns  string
	logger   zerolog.Logger
	hub      *store.Hub
	listener *pq.Listener

	// refreshMu orders the initial snapshot of a new subscriber against
	// snapshots published by the notification loop.
	refreshMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewPostgresTaskStore creates the table when it is missing and starts
// listening for change notifications on a dedicated connection. The store
// takes ownership of db.
func NewPostgresTaskStore(ctx context.Context, db *sql.DB, dsn, table string, logger zerolog.Logger, reconnectDelay time.Duration) (*PostgresTaskStore, error) {
	if table == "" {
		table = store.DefaultCollection
	}
	s := &PostgresTaskStore{
		db:      db,
		table:   pq.QuoteIdentifier(table),
		columns: "id, title, description, deadline, completed, created_ms",
		logger:  logger,
		hub:     store.NewHub(),
		done:    make(chan struct{}),
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	s.listener = pq.NewListener(dsn, reconnectDelay, time.Minute, s.onListenerEvent)
	if err := s.listener.Listen(NotifyChannel); err != nil {
		s.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.watch(loopCtx)

	return s, nil
}

func (s *PostgresTaskStore) migrate(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		deadline    TEXT NOT NULL DEFAULT '',
		completed   BOOLEAN NOT NULL DEFAULT FALSE,
		created_ms  BIGINT NOT NULL DEFAULT 0
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) Create(ctx context.Context, in store.NewTask) (models.Task, error) {
	task := models.NewTask(in.Title, in.Description, in.Deadline)
	task.ID = uuid.NewString()
	record := task.Record()

	err := s.withTx(ctx, task.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+s.table+` (`+s.columns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			record.ID, record.Title, record.Description, record.Deadline, record.Completed, record.Timestamp,
		)
		return err
	})
	if err != nil {
		return models.Task{}, store.WriteError("create", task.ID, err)
	}
	return task, nil
}

func (s *PostgresTaskStore) Get(ctx context.Context, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+s.columns+` FROM `+s.table+` WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, store.ReadError("get", id, store.ErrTaskNotFound)
	}
	if err != nil {
		return models.Task{}, store.ReadError("get", id, err)
	}
	return task, nil
}

func (s *PostgresTaskStore) List(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+s.columns+` FROM `+s.table+` ORDER BY created_ms`)
	if err != nil {
		return nil, store.ReadError("list", "", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.ReadError("list", "", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.ReadError("list", "", err)
	}
	return tasks, nil
}

func (s *PostgresTaskStore) Update(ctx context.Context, task models.Task) error {
	record := task.Record()
	err := s.withTx(ctx, task.ID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE `+s.table+` SET title = $1, description = $2, deadline = $3, completed = $4 WHERE id = $5`,
			record.Title, record.Description, record.Deadline, record.Completed, record.ID,
		)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
	if err != nil {
		return store.WriteError("update", task.ID, err)
	}
	return nil
}

func (s *PostgresTaskStore) Patch(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if patch.IsEmpty() {
		task, err := s.Get(ctx, id)
		if err != nil {
			return models.Task{}, store.WriteError("patch", id, err)
		}
		return task, nil
	}

	var merged models.Task
	err := s.withTx(ctx, id, func(tx *sql.Tx) error {
		query, args := buildPatchQuery(s.table, s.columns, id, patch)
		task, err := scanTask(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrTaskNotFound
		}
		merged = task
		return err
	})
	if err != nil {
		return models.Task{}, store.WriteError("patch", id, err)
	}
	return merged, nil
}

func (s *PostgresTaskStore) Delete(ctx context.Context, id string) error {
	err := s.withTx(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return store.WriteError("delete", id, err)
	}
	return nil
}

func (s *PostgresTaskStore) Subscribe(ctx context.Context, listener store.Listener) (*store.Subscription, error) {
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

// Close stops the notification loop, drops every subscriber and closes
// the database handle.
func (s *PostgresTaskStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.hub.Close()
		if lerr := s.listener.Close(); lerr != nil {
			err = lerr
		}
		if dberr := s.db.Close(); dberr != nil && err == nil {
			err = dberr
		}
	})
	return err
}

// withTx runs fn in a transaction and signals NotifyChannel before the
// commit. The notification is only delivered if the commit succeeds.
func (s *PostgresTaskStore) withTx(ctx context.Context, id string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresTaskStore) watch(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.listener.Notify:
			// A nil notification follows a reconnect; changes may have
			// been missed so the refresh still runs.
			if n == nil {
				s.logger.Info().Msg("task listener reconnected")
			}
			s.drainNotifications()
			s.refresh(ctx)
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.logger.Warn().Err(err).Msg("task listener ping failed")
				}
			}()
		}
	}
}

// drainNotifications folds a burst of notifications into one refresh.
func (s *PostgresTaskStore) drainNotifications() {
	for {
		select {
		case <-s.listener.Notify:
		default:
			return
		}
	}
}

func (s *PostgresTaskStore) refresh(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.hub.Len() == 0 {
		return
	}
	tasks, err := s.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("failed to reload tasks after notification")
		s.hub.PublishError(err)
		return
	}
	s.hub.Publish(store.Snapshot{Tasks: tasks, ReadTime: time.Now()})
}

func (s *PostgresTaskStore) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		s.logger.Warn().Err(err).Msg("task listener disconnected")
		s.hub.PublishError(store.ReadError("listen", "", err))
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Warn().Err(err).Msg("task listener reconnect failed")
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (models.Task, error) {
	var r models.TaskRecord
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Deadline, &r.Completed, &r.Timestamp); err != nil {
		return models.Task{}, err
	}
	return r.Task(), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// buildPatchQuery assembles an UPDATE that only sets the fields present in
// patch and returns the merged row.
func buildPatchQuery(table, columns, id string, patch models.TaskPatch) (string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Deadline != nil {
		add("deadline", patch.Deadline.String())
	}
	if patch.Completed != nil {
		add("completed", *patch.Completed)
	}

	args = append(args, id)
	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + columns
	return query, args
}
