package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrInvalidInterval = errors.New("schedule: job interval must be greater than 0")
	ErrNoTasks         = errors.New("schedule: job must have at least one task")
)

// DefaultTick is how often the scheduler checks for due jobs.
const DefaultTick = time.Second

// Task is one unit of background work. It should return once ctx is done.
type Task func(ctx context.Context) error

type Scheduler struct {
	Tick   time.Duration
	Logger *slog.Logger

	jobs []*Job
	mu   sync.RWMutex
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		Tick: DefaultTick,
		jobs: make([]*Job, 0),
	}
}

func (scheduler *Scheduler) AddJob(job *Job) error {
	if err := job.validate(); err != nil {
		return fmt.Errorf("job %q: %w", job.name, err)
	}

	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()

	scheduler.jobs = append(scheduler.jobs, job)
	return nil
}

type Job struct {
	tasks             []Task
	interval          time.Duration
	nextExecuteAt     time.Time
	previousExecuteAt time.Time
	name              string
	maxRetries        int
	timeout           time.Duration
	running           bool
	mu                sync.Mutex
}

func NewJob(name string) *Job {
	return &Job{
		name:  name,
		tasks: make([]Task, 0),
	}
}

func (job *Job) WithTasks(tasks ...Task) *Job {
	job.tasks = tasks
	return job
}

func (job *Job) WithInterval(interval time.Duration) *Job {
	job.interval = interval
	return job
}

// WithExecuteAt sets the first run. Without it the first run is one interval after AddJob.
func (job *Job) WithExecuteAt(executeAt time.Time) *Job {
	job.nextExecuteAt = executeAt
	return job
}

func (job *Job) WithTimeout(timeout time.Duration) *Job {
	job.timeout = timeout
	return job
}

func (job *Job) WithRetries(maxRetries int) *Job {
	job.maxRetries = maxRetries
	return job
}

func (job *Job) AddTask(task Task) *Job {
	job.tasks = append(job.tasks, task)
	return job
}

func (job *Job) Name() string {
	return job.name
}

// LastRun is the start time of the most recent run, zero before the first one.
func (job *Job) LastRun() time.Time {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.previousExecuteAt
}

func (job *Job) validate() error {
	if job.interval <= 0 {
		return ErrInvalidInterval
	}
	if len(job.tasks) == 0 {
		return ErrNoTasks
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if job.nextExecuteAt.IsZero() {
		job.nextExecuteAt = time.Now().Add(job.interval)
	}
	return nil
}

// claim marks the job as running when it is due and not already running.
func (job *Job) claim(now time.Time) bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.running || job.nextExecuteAt.After(now) {
		return false
	}
	job.running = true
	job.previousExecuteAt = now
	return true
}

func (job *Job) release(now time.Time) {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.running = false
	job.nextExecuteAt = now.Add(job.interval)
}

// Run executes due jobs until ctx is done, then waits for running jobs and returns ctx.Err().
func (scheduler *Scheduler) Run(ctx context.Context) error {
	tick := scheduler.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case now := <-ticker.C:
			scheduler.mu.RLock()
			jobs := make([]*Job, len(scheduler.jobs))
			copy(jobs, scheduler.jobs)
			scheduler.mu.RUnlock()

			for _, job := range jobs {
				if !job.claim(now) {
					continue
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					scheduler.executeJob(ctx, job)
				}()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (scheduler *Scheduler) executeJob(ctx context.Context, job *Job) {
	logger := scheduler.logger().With(slog.String("job", job.name))
	defer job.release(time.Now())

	for i, task := range job.tasks {
		if err := scheduler.executeTask(ctx, task, job.timeout, job.maxRetries); err != nil {
			logger.Error("task execution failed", "task", i, "error", err)
		}
	}
}

// executeTask runs task, retrying up to maxRetries times after a failure.
func (scheduler *Scheduler) executeTask(ctx context.Context, task Task, timeout time.Duration, maxRetries int) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err = scheduler.doExecuteTask(ctx, task, timeout); err == nil {
			return nil
		}
	}
	return err
}

func (scheduler *Scheduler) doExecuteTask(ctx context.Context, task Task, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: task panic: %v", r)
		}
	}()

	return task(ctx)
}

func (scheduler *Scheduler) logger() *slog.Logger {
	if scheduler.Logger == nil {
		return slog.Default()
	}
	return scheduler.Logger
}
