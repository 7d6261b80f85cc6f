package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"script-studio/config"
	"script-studio/types"
)

const (
	notifyChannel = "script_studio_jobs"
	// active jobs whose heartbeat is older than this are handed out again
	staleAfter = 15 * time.Minute
)

// Postgres is a durable backend on the jobs table. Consumers claim rows with
// FOR UPDATE SKIP LOCKED and are woken by LISTEN/NOTIFY, with a poll
// interval as fallback for delayed retries.
type Postgres struct {
	pool          *pgxpool.Pool
	dsn           string
	keepCompleted int
	keepFailed    int
	pollInterval  time.Duration
	hooks         Hooks
	logger        *log.Logger

	mu     sync.Mutex
	wake   map[string]chan struct{}
	listen sync.Once
}

func NewPostgres(pool *pgxpool.Pool, dsn string, cfg config.QueueConfig, hooks Hooks, logger *log.Logger) *Postgres {
	if logger == nil {
		logger = log.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Postgres{
		pool:          pool,
		dsn:           dsn,
		keepCompleted: cfg.KeepCompleted,
		keepFailed:    cfg.KeepFailed,
		pollInterval:  poll,
		hooks:         hooks,
		logger:        logger,
		wake:          make(map[string]chan struct{}),
	}
}

const jobColumns = `id, lane, name, payload, state, attempts, max_attempts, backoff_ms, run_at,
	progress, progress_msg, last_error, created_at, updated_at, finished_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var state string
	var backoffMS int64
	err := row.Scan(&j.ID, &j.Lane, &j.Name, &j.Payload, &state, &j.Attempts, &j.MaxAttempts, &backoffMS, &j.RunAt,
		&j.Progress, &j.ProgressMsg, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	j.State = State(state)
	j.Backoff = time.Duration(backoffMS) * time.Millisecond
	return &j, nil
}

// Enqueue inserts the job, or re-arms a finished one. A pending or active
// row is left alone and no row comes back.
func (p *Postgres) Enqueue(ctx context.Context, job *Job) (bool, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, lane, name, payload, max_attempts, backoff_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			lane = EXCLUDED.lane,
			payload = EXCLUDED.payload,
			state = 'pending',
			attempts = 0,
			max_attempts = EXCLUDED.max_attempts,
			backoff_ms = EXCLUDED.backoff_ms,
			run_at = now(),
			progress = 0,
			progress_msg = '',
			last_error = '',
			created_at = now(),
			updated_at = now(),
			finished_at = NULL
		WHERE jobs.state IN ('completed', 'failed')
		RETURNING id`,
		job.ID, job.Lane, job.Name, job.Payload, job.MaxAttempts, job.Backoff.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, job.Lane); err != nil {
		p.logger.Printf("[queue] ⚠️  notify %s: %v", job.Lane, err)
	}
	return true, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	return j, err
}

// RecoverStuck returns active jobs with a stale heartbeat to pending, for
// workers that died mid-job.
func (p *Postgres) RecoverStuck(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET state = 'pending', run_at = now(), updated_at = now(),
			last_error = 'recovered after worker loss'
		WHERE state = 'active' AND updated_at < now() - make_interval(secs => $1)`,
		staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) wakeFor(lane string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.wake[lane]
	if !ok {
		w = make(chan struct{}, 1)
		p.wake[lane] = w
	}
	return w
}

func (p *Postgres) signal(lane string) {
	select {
	case p.wakeFor(lane) <- struct{}{}:
	default:
	}
}

func (p *Postgres) Consume(ctx context.Context, lane string, concurrency int, handler HandlerFunc) error {
	if concurrency < 1 {
		concurrency = 1
	}
	p.listen.Do(func() { go p.listenAndSignal(ctx) })
	wake := p.wakeFor(lane)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				for {
					job, err := p.claim(ctx, lane)
					if err != nil {
						if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil {
							p.logger.Printf("[queue:%s] claim failed: %v", lane, err)
						}
						break
					}
					p.run(ctx, job, handler)
				}
				select {
				case <-ctx.Done():
					return
				case <-wake:
				case <-time.After(p.pollInterval):
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (p *Postgres) claim(ctx context.Context, lane string) (*Job, error) {
	return scanJob(p.pool.QueryRow(ctx, `
		UPDATE jobs SET state = 'active', attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE lane = $1 AND state = 'pending' AND run_at <= now()
			ORDER BY run_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns, lane))
}

func (p *Postgres) run(ctx context.Context, job *Job, handler HandlerFunc) {
	p.hooks.active(job)
	// Job bookkeeping outlives consumer shutdown so in-flight jobs drain.
	bg := context.WithoutCancel(ctx)

	progress := func(percent int, msg string) {
		_, err := p.pool.Exec(bg, `
			UPDATE jobs SET progress = $2, progress_msg = $3, updated_at = now()
			WHERE id = $1 AND state = 'active'`, job.ID, percent, msg)
		if err != nil {
			p.logger.Printf("[queue:%s] progress %s: %v", job.Lane, job.ID, err)
		}
	}

	err := handler(bg, job, progress)
	if err == nil {
		if _, uerr := p.pool.Exec(bg, `
			UPDATE jobs SET state = 'completed', progress = 100, updated_at = now(), finished_at = now()
			WHERE id = $1`, job.ID); uerr != nil {
			p.logger.Printf("[queue:%s] mark completed %s: %v", job.Lane, job.ID, uerr)
			return
		}
		p.trim(bg, job.Lane, StateCompleted, p.keepCompleted)
		p.hooks.completed(job)
		return
	}

	job.LastError = err.Error()
	final := job.Attempts >= job.MaxAttempts
	if final {
		_, uerr := p.pool.Exec(bg, `
			UPDATE jobs SET state = 'failed', last_error = $2, updated_at = now(), finished_at = now()
			WHERE id = $1`, job.ID, job.LastError)
		if uerr != nil {
			p.logger.Printf("[queue:%s] mark failed %s: %v", job.Lane, job.ID, uerr)
		}
		p.trim(bg, job.Lane, StateFailed, p.keepFailed)
	} else {
		_, uerr := p.pool.Exec(bg, `
			UPDATE jobs SET state = 'pending', last_error = $2, updated_at = now(),
				run_at = now() + make_interval(secs => $3)
			WHERE id = $1`, job.ID, job.LastError, job.retryDelay().Seconds())
		if uerr != nil {
			p.logger.Printf("[queue:%s] schedule retry %s: %v", job.Lane, job.ID, uerr)
		}
	}
	p.hooks.failed(job, err, final)
}

// trim deletes the oldest finished jobs of lane beyond keep.
func (p *Postgres) trim(ctx context.Context, lane string, state State, keep int) {
	if keep <= 0 {
		return
	}
	_, err := p.pool.Exec(ctx, `
		DELETE FROM jobs WHERE lane = $1 AND state = $2 AND id NOT IN (
			SELECT id FROM jobs WHERE lane = $1 AND state = $2
			ORDER BY finished_at DESC LIMIT $3
		)`, lane, string(state), keep)
	if err != nil {
		p.logger.Printf("[queue:%s] trim %s: %v", lane, state, err)
	}
}

// listenAndSignal holds a dedicated connection on LISTEN and wakes the
// consumers of the lane named in each notification.
func (p *Postgres) listenAndSignal(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Parse with pgxpool so pool_* DSN params are consumed client-side.
		poolConf, err := pgxpool.ParseConfig(p.dsn)
		if err != nil {
			p.logger.Printf("[queue] listen parse config failed: %v", err)
			return
		}
		conn, err := pgx.ConnectConfig(ctx, poolConf.ConnConfig)
		if err != nil {
			p.logger.Printf("[queue] listen connect failed: %v", err)
			sleep(ctx, 2*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			p.logger.Printf("[queue] LISTEN failed: %v", err)
			_ = conn.Close(context.Background())
			sleep(ctx, 2*time.Second)
			continue
		}

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Printf("[queue] wait for notification failed: %v", err)
				}
				_ = conn.Close(context.Background())
				break
			}
			p.signal(n.Payload)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
