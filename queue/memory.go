package queue

import (
	"context"
	"sync"
	"time"

	"script-studio/config"
	"script-studio/types"
)

// Memory is an in-process backend. Jobs do not survive a restart. A zero
// keep limit keeps every finished job.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	pending map[string][]string
	wake    map[string]chan struct{}
	history map[string]map[State][]string

	keepCompleted int
	keepFailed    int
	hooks         Hooks
	now           func() time.Time
}

func NewMemory(cfg config.QueueConfig, hooks Hooks) *Memory {
	return &Memory{
		jobs:          make(map[string]*Job),
		pending:       make(map[string][]string),
		wake:          make(map[string]chan struct{}),
		history:       make(map[string]map[State][]string),
		keepCompleted: cfg.KeepCompleted,
		keepFailed:    cfg.KeepFailed,
		hooks:         hooks,
		now:           time.Now,
	}
}

// wakeLocked returns the wake channel of lane. Callers hold m.mu.
func (m *Memory) wakeLocked(lane string) chan struct{} {
	w, ok := m.wake[lane]
	if !ok {
		w = make(chan struct{}, 1)
		m.wake[lane] = w
	}
	return w
}

func (m *Memory) signalLocked(lane string) {
	select {
	case m.wakeLocked(lane) <- struct{}{}:
	default:
	}
}

func (m *Memory) Enqueue(ctx context.Context, job *Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.jobs[job.ID]; ok {
		if cur.State == StatePending || cur.State == StateActive {
			return false, nil
		}
		m.dropHistoryLocked(cur)
	}

	j := *job
	j.State = StatePending
	j.Attempts = 0
	j.Progress = 0
	j.ProgressMsg = ""
	j.LastError = ""
	j.FinishedAt = nil
	j.RunAt = now
	j.CreatedAt = now
	j.UpdatedAt = now
	m.jobs[j.ID] = &j
	m.pending[j.Lane] = append(m.pending[j.Lane], j.ID)
	m.signalLocked(j.Lane)
	return true, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) Consume(ctx context.Context, lane string, concurrency int, handler HandlerFunc) error {
	if concurrency < 1 {
		concurrency = 1
	}
	m.mu.Lock()
	wake := m.wakeLocked(lane)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				if job := m.next(lane); job != nil {
					m.run(ctx, job, handler)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-wake:
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// next pops the oldest ready job of lane and marks it active.
func (m *Memory) next(lane string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending[lane]) > 0 {
		id := m.pending[lane][0]
		m.pending[lane] = m.pending[lane][1:]
		j, ok := m.jobs[id]
		if !ok || j.State != StatePending {
			continue
		}
		j.State = StateActive
		j.Attempts++
		j.UpdatedAt = m.now()
		if len(m.pending[lane]) > 0 {
			m.signalLocked(lane)
		}
		cp := *j
		return &cp
	}
	return nil
}

func (m *Memory) run(ctx context.Context, job *Job, handler HandlerFunc) {
	m.hooks.active(job)

	progress := func(percent int, msg string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if j, ok := m.jobs[job.ID]; ok && j.State == StateActive {
			j.Progress = percent
			j.ProgressMsg = msg
			j.UpdatedAt = m.now()
		}
	}

	// In-flight jobs finish even when the consumer is shutting down.
	err := handler(context.WithoutCancel(ctx), job, progress)

	m.mu.Lock()
	j, ok := m.jobs[job.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.now()
	j.UpdatedAt = now

	if err == nil {
		j.State = StateCompleted
		j.Progress = 100
		j.FinishedAt = &now
		m.pushHistoryLocked(j)
		done := *j
		m.mu.Unlock()
		m.hooks.completed(&done)
		return
	}

	j.LastError = err.Error()
	final := j.Attempts >= j.MaxAttempts
	if final {
		j.State = StateFailed
		j.FinishedAt = &now
		m.pushHistoryLocked(j)
	} else {
		delay := j.retryDelay()
		j.State = StatePending
		j.RunAt = now.Add(delay)
		id, lane := j.ID, j.Lane
		time.AfterFunc(delay, func() { m.release(id, lane) })
	}
	failed := *j
	m.mu.Unlock()
	m.hooks.failed(&failed, err, final)
}

// release makes a job waiting out its backoff ready again.
func (m *Memory) release(id, lane string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.State == StatePending {
		m.pending[lane] = append(m.pending[lane], id)
		m.signalLocked(lane)
	}
}

func (m *Memory) pushHistoryLocked(j *Job) {
	lanes, ok := m.history[j.Lane]
	if !ok {
		lanes = make(map[State][]string)
		m.history[j.Lane] = lanes
	}
	keep := m.keepCompleted
	if j.State == StateFailed {
		keep = m.keepFailed
	}
	ids := append(lanes[j.State], j.ID)
	for keep > 0 && len(ids) > keep {
		delete(m.jobs, ids[0])
		ids = ids[1:]
	}
	lanes[j.State] = ids
}

func (m *Memory) dropHistoryLocked(j *Job) {
	ids := m.history[j.Lane][j.State]
	for i, id := range ids {
		if id == j.ID {
			m.history[j.Lane][j.State] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}
