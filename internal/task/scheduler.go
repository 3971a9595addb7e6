// Package task provides persistent background task scheduling. Tasks are
// durable records executed by a fixed set of workers; execution slots are
// drawn from a processing pool shared with synchronous work so the
// service never runs more engine processes than configured.
package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/workerpool"
)

// Common scheduler errors.
var (
	// ErrQueueFull is returned when the in-memory task queue cannot
	// accept more work. The submitted task is marked failed.
	ErrQueueFull = errors.New("task queue is full, try again later")

	// ErrNoRunner is returned when a task has no runner and no factory
	// can rebuild one for it.
	ErrNoRunner = errors.New("no runner available for task")
)

// cancelledMessage is recorded on tasks failed through Cancel.
const cancelledMessage = "task cancelled"

// ProgressFunc reports completion of the current task as a percentage.
type ProgressFunc func(pct float64)

// RunnerFunc executes one task. The returned map is stored as the task
// result. The context is cancelled when the task is cancelled or the
// scheduler shuts down.
type RunnerFunc func(ctx context.Context, progress ProgressFunc) (map[string]any, error)

// RunnerFactory rebuilds runners for tasks recovered from the store
// after a restart, when the closures supplied at submission are gone.
type RunnerFactory interface {
	RunnerFor(task *domain.Task) (RunnerFunc, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// Workers determines how many concurrent workers drain the queue.
	// Actual engine concurrency is additionally bounded by the shared
	// processing pool.
	Workers int

	// QueueSize determines the buffer size for the in-memory task queue.
	QueueSize int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   2,
		QueueSize: 100,
	}
}

// queuedTask is the unit carried by the in-memory queue.
type queuedTask struct {
	id        uuid.UUID
	projectID string
	taskType  domain.TaskType
}

// Scheduler manages background task processing.
type Scheduler struct {
	db       *sql.DB
	tasks    store.TaskStore
	projects store.ProjectStore
	pool     *workerpool.Pool
	queue    chan queuedTask
	config   Config
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	runners map[uuid.UUID]RunnerFunc
	running map[uuid.UUID]context.CancelFunc
	factory RunnerFactory
}

// NewScheduler creates a new Scheduler. The pool bounds how many tasks
// execute at once and is shared with the synchronous example path.
func NewScheduler(
	db *sql.DB,
	tasks store.TaskStore,
	projects store.ProjectStore,
	pool *workerpool.Pool,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		db:         db,
		tasks:      tasks,
		projects:   projects,
		pool:       pool,
		queue:      make(chan queuedTask, config.QueueSize),
		config:     config,
		logger:     logger.With(slog.String("component", "task_scheduler")),
		ctx:        ctx,
		cancelFunc: cancel,
		runners:    make(map[uuid.UUID]RunnerFunc),
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetRunnerFactory installs the factory used to rebuild runners for
// recovered tasks. Must be called before Start.
func (s *Scheduler) SetRunnerFactory(factory RunnerFactory) {
	s.factory = factory
}

// Submit creates a task for the project and queues it for execution.
// When params is non-nil the project's parameters are replaced in the
// same transaction, so a conflicting submission leaves them untouched.
// Returns store.ErrDuplicateTask if the project already has a pending or
// running task of the same type, and ErrQueueFull when the queue cannot
// accept the task, in which case the task is recorded as failed.
func (s *Scheduler) Submit(
	ctx context.Context,
	projectID string,
	taskType domain.TaskType,
	params *domain.Parameters,
	run RunnerFunc,
) (*domain.Task, error) {
	task, err := domain.NewTask(projectID, taskType)
	if err != nil {
		return nil, err
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if params != nil {
			if err := s.projects.WithTx(tx).UpdateParameters(ctx, projectID, *params); err != nil {
				return err
			}
		}
		if err := s.tasks.WithTx(tx).Create(ctx, task); err != nil {
			return err
		}
		return s.syncProjectStatus(ctx, tx, projectID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.runners[task.ID] = run
	s.mu.Unlock()

	select {
	case s.queue <- queuedTask{id: task.ID, projectID: projectID, taskType: taskType}:
	default:
		s.discardRunner(task.ID)
		s.failTask(task.ID, projectID, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}

	s.logger.Info("task submitted",
		slog.String("task_id", task.ID.String()),
		slog.String("project_id", projectID),
		slog.String("task_type", string(taskType)))
	tasksSubmitted.WithLabelValues(string(taskType)).Inc()

	return task, nil
}

// Cancel aborts a task. A pending task is failed immediately; a running
// task has its context cancelled and is failed regardless of how the
// underlying work eventually ends, with any late result discarded.
// Returns store.ErrTaskNotFound for unknown tasks and
// store.ErrInvalidTransition for tasks already in a terminal state.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).MarkFailed(ctx, id, time.Now().UTC(), cancelledMessage); err != nil {
			return err
		}
		return s.syncProjectStatus(ctx, tx, task.ProjectID, nil)
	})
	if err != nil {
		return err
	}

	s.discardRunner(id)

	s.mu.Lock()
	if cancelRunning, ok := s.running[id]; ok {
		cancelRunning()
	}
	s.mu.Unlock()

	s.logger.Info("task cancelled",
		slog.String("task_id", id.String()),
		slog.String("project_id", task.ProjectID))
	tasksProcessed.WithLabelValues(string(task.Type), "cancelled").Inc()

	return nil
}

// Start recovers unfinished tasks and begins processing the queue.
func (s *Scheduler) Start() error {
	if err := s.recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	return nil
}

// Stop gracefully shuts down the scheduler. In-flight work is
// interrupted and left in the running state for recovery on next start.
func (s *Scheduler) Stop() {
	s.cancelFunc()
	s.wg.Wait()
}

// recover resets tasks interrupted by a previous crash and requeues all
// pending work. Runners are rebuilt lazily through the factory.
func (s *Scheduler) recover() error {
	ctx := context.Background()

	reset, err := s.tasks.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted tasks: %w", err)
	}

	pending, err := s.tasks.ListByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}

	if reset > 0 || len(pending) > 0 {
		s.logger.Info("recovering unfinished tasks",
			slog.Int64("reset_count", reset),
			slog.Int("pending_count", len(pending)))
	}

	projects := make(map[string]bool)
	for _, task := range pending {
		projects[task.ProjectID] = true

		select {
		case s.queue <- queuedTask{id: task.ID, projectID: task.ProjectID, taskType: task.Type}:
		default:
			s.logger.Error("failed to requeue task, queue is full",
				slog.String("task_id", task.ID.String()))
		}
	}

	// Restore derived project statuses so interrupted projects read as
	// queued again rather than running.
	for projectID := range projects {
		if err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return s.syncProjectStatus(ctx, tx, projectID, nil)
		}); err != nil {
			s.logger.Error("failed to restore project status",
				slog.String("project_id", projectID),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// worker drains the queue until the scheduler stops.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("starting worker", slog.Int("worker_id", id))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return
		case item := <-s.queue:
			s.process(item, id)
		}
	}
}

// process executes a single queued task.
func (s *Scheduler) process(item queuedTask, workerID int) {
	logger := s.logger.With(
		slog.String("task_id", item.id.String()),
		slog.String("project_id", item.projectID),
		slog.String("task_type", string(item.taskType)),
		slog.Int("worker_id", workerID),
	)

	run := s.takeRunner(item.id)
	if run == nil {
		var err error
		run, err = s.rebuildRunner(item.id)
		if err != nil {
			logger.Error("cannot run task", slog.String("error", err.Error()))
			s.failTask(item.id, item.projectID, err.Error())
			return
		}
	}

	// Wait for a slot in the shared processing pool. The task stays
	// pending while it waits.
	if err := s.pool.Acquire(s.ctx); err != nil {
		// Shutting down: leave the task pending for recovery.
		return
	}
	defer s.pool.Release()

	if err := s.transitionRunning(item); err != nil {
		// Cancelled while queued, or the project vanished. Nothing to run.
		logger.Debug("skipping task", slog.String("reason", err.Error()))
		return
	}

	taskCtx, cancelTask := context.WithCancel(s.ctx)
	defer cancelTask()

	s.mu.Lock()
	s.running[item.id] = cancelTask
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, item.id)
		s.mu.Unlock()
	}()

	tasksInFlight.Inc()
	defer tasksInFlight.Dec()

	logger.Info("processing task")
	started := time.Now()

	progress := func(pct float64) {
		s.reportProgress(item.projectID, pct)
	}

	result, err := run(taskCtx, progress)
	elapsed := time.Since(started)

	if err != nil {
		if s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Shutdown interrupted the runner; recovery will requeue.
			logger.Info("task interrupted by shutdown")
			return
		}

		logger.Error("task execution failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
		s.failTask(item.id, item.projectID, err.Error())
		tasksProcessed.WithLabelValues(string(item.taskType), "failed").Inc()
		return
	}

	if err := s.transitionCompleted(item, result); err != nil {
		// The task was cancelled while running; its result is dropped.
		logger.Info("discarding result of cancelled task")
		return
	}

	logger.Info("task completed", slog.Duration("elapsed", elapsed))
	tasksProcessed.WithLabelValues(string(item.taskType), "completed").Inc()
	taskDuration.WithLabelValues(string(item.taskType)).Observe(elapsed.Seconds())
}

// takeRunner removes and returns the runner registered for a task.
func (s *Scheduler) takeRunner(id uuid.UUID) RunnerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runners[id]
	if ok {
		delete(s.runners, id)
		return run
	}
	return nil
}

// discardRunner drops the registered runner for a task, if any.
func (s *Scheduler) discardRunner(id uuid.UUID) {
	s.mu.Lock()
	delete(s.runners, id)
	s.mu.Unlock()
}

// rebuildRunner asks the factory for a runner, used for recovered tasks.
func (s *Scheduler) rebuildRunner(id uuid.UUID) (RunnerFunc, error) {
	if s.factory == nil {
		return nil, ErrNoRunner
	}

	task, err := s.tasks.GetByID(context.Background(), id)
	if err != nil {
		return nil, err
	}

	run, err := s.factory.RunnerFor(task)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRunner, err)
	}
	return run, nil
}

// transitionRunning moves a task to running and its project with it.
func (s *Scheduler) transitionRunning(item queuedTask) error {
	ctx := context.Background()
	zero := 0.0

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).MarkRunning(ctx, item.id, time.Now().UTC()); err != nil {
			return err
		}
		return s.syncProjectStatus(ctx, tx, item.projectID, &zero)
	})
}

// transitionCompleted finishes a task and records its result.
func (s *Scheduler) transitionCompleted(item queuedTask, result map[string]any) error {
	ctx := context.Background()
	full := 100.0

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).MarkCompleted(ctx, item.id, time.Now().UTC(), result); err != nil {
			return err
		}
		return s.syncProjectStatus(ctx, tx, item.projectID, &full)
	})
}

// failTask marks a task failed and clears the project's progress. Safe to
// call for tasks in any state; failures of already-terminal tasks are
// ignored.
func (s *Scheduler) failTask(id uuid.UUID, projectID, message string) {
	ctx := context.Background()

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).MarkFailed(ctx, id, time.Now().UTC(), message); err != nil {
			return err
		}
		return s.syncProjectStatus(ctx, tx, projectID, nil)
	})
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		s.logger.Error("failed to record task failure",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
	}
}

// syncProjectStatus recomputes the project's status from its tasks and
// stores it together with the given progress inside the transaction.
func (s *Scheduler) syncProjectStatus(ctx context.Context, tx *sql.Tx, projectID string, progress *float64) error {
	tasks, err := s.tasks.WithTx(tx).ListByProject(ctx, projectID)
	if err != nil {
		return err
	}

	status := domain.DeriveProjectStatus(tasks)
	return s.projects.WithTx(tx).SetStatus(ctx, projectID, status, progress)
}

// reportProgress persists a progress update outside any transaction.
func (s *Scheduler) reportProgress(projectID string, pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	if err := s.projects.SetProgress(context.Background(), projectID, &pct); err != nil {
		s.logger.Warn("failed to report progress",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
	}
}
