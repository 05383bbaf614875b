package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task is the work behind a job. progress may be called any number of times;
// the returned string is stored as the job's result.
type Task func(ctx context.Context, progress func(percent int, message string)) (string, error)

// Manager runs tasks on a bounded worker pool and fans out their progress.
type Manager struct {
	store      Store
	WorkerPool chan struct{}
	logger     *zap.Logger

	mu     sync.Mutex
	live   map[string]*Job
	done   map[string]chan struct{}
	subs   map[string]map[chan Job]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a manager running at most workers tasks at a time.
func NewManager(store Store, workers int, logger *zap.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		WorkerPool: make(chan struct{}, workers),
		logger:     logger,
		live:       make(map[string]*Job),
		done:       make(map[string]chan struct{}),
		subs:       make(map[string]map[chan Job]struct{}),
	}
}

// Submit records a pending job and starts it in the background.
func (m *Manager) Submit(kind string, task Task) (Job, error) {
	now := time.Now()
	job := Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, fmt.Errorf("job manager is shut down")
	}
	m.live[job.ID] = &job
	m.done[job.ID] = make(chan struct{})
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.store.Save(context.Background(), job); err != nil {
		m.logger.Warn("failed to persist job", zap.String("job", job.ID), zap.Error(err))
	}
	m.logger.Info("job queued", zap.String("job", job.ID), zap.String("kind", kind))

	go m.run(job.ID, task)
	return job, nil
}

func (m *Manager) run(id string, task Task) {
	defer m.wg.Done()

	m.WorkerPool <- struct{}{}
	defer func() { <-m.WorkerPool }()

	start := time.Now()
	m.update(id, func(j *Job) {
		j.Status = StatusProcessing
		j.Message = "processing"
	})

	result, err := m.execute(id, task)
	if err != nil {
		m.logger.Error("job failed", zap.String("job", id), zap.Error(err))
		m.finish(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
			j.Message = "failed"
		})
		return
	}
	m.logger.Info("job completed", zap.String("job", id), zap.Duration("took", time.Since(start)))
	m.finish(id, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.Result = result
		j.Message = "completed"
	})
}

// execute runs task and turns a panic into an error carrying the stack.
func (m *Manager) execute(id string, task Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(context.Background(), func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		m.update(id, func(j *Job) {
			j.Progress = percent
			j.Message = message
		})
	})
}

func (m *Manager) update(id string, fn func(*Job)) Job {
	m.mu.Lock()
	job, ok := m.live[id]
	if !ok {
		m.mu.Unlock()
		return Job{}
	}
	fn(job)
	job.UpdatedAt = time.Now()
	snapshot := *job
	for ch := range m.subs[id] {
		select {
		case ch <- snapshot:
		default:
		}
	}
	m.mu.Unlock()

	if err := m.store.Save(context.Background(), snapshot); err != nil {
		m.logger.Warn("failed to persist job", zap.String("job", id), zap.Error(err))
	}
	return snapshot
}

func (m *Manager) finish(id string, fn func(*Job)) {
	now := time.Now()
	m.update(id, func(j *Job) {
		fn(j)
		j.CompletedAt = &now
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[id] {
		close(ch)
	}
	delete(m.subs, id)
	delete(m.live, id)
	if done, ok := m.done[id]; ok {
		close(done)
		delete(m.done, id)
	}
}

// Get returns the current state of a job, live or from history.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	if job, ok := m.live[id]; ok {
		snapshot := *job
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]Job, error) {
	return m.store.List(ctx)
}

// Subscribe streams updates of a running job. The channel is closed when the
// job finishes; slow readers miss intermediate updates. ok is false when the
// job is not running.
func (m *Manager) Subscribe(id string) (updates <-chan Job, cancel func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.live[id]; !running {
		return nil, func() {}, false
	}
	ch := make(chan Job, 16)
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Job]struct{})
	}
	m.subs[id][ch] = struct{}{}

	cancel = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, still := m.subs[id][ch]; still {
			delete(m.subs[id], ch)
			close(ch)
		}
	}
	return ch, cancel, true
}

// Wait blocks until the job finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	done, ok := m.done[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	return m.Get(ctx, id)
}

// Shutdown stops accepting jobs and waits for running ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
