package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freekieb7/embedweb/test"
)

func TestAddJobValidation(t *testing.T) {
	scheduler := NewScheduler()
	noop := func(context.Context) error { return nil }

	test.AssertErrorIs(t, scheduler.AddJob(NewJob("no-interval").AddTask(noop)), ErrInvalidInterval)
	test.AssertErrorIs(t, scheduler.AddJob(NewJob("no-tasks").WithInterval(time.Second)), ErrNoTasks)
	test.AssertNoError(t, scheduler.AddJob(NewJob("ok").WithInterval(time.Second).AddTask(noop)))
}

func TestSchedulerRunsDueJobs(t *testing.T) {
	var runs atomic.Int32

	scheduler := NewScheduler()
	scheduler.Tick = 5 * time.Millisecond

	job := NewJob("counter").
		WithInterval(10 * time.Millisecond).
		WithExecuteAt(time.Now()).
		AddTask(func(context.Context) error {
			runs.Add(1)
			return nil
		})
	test.AssertNoError(t, scheduler.AddJob(job))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := scheduler.Run(ctx)
	test.AssertErrorIs(t, err, context.DeadlineExceeded)
	test.AssertTrue(t, runs.Load() >= 2, "job should run repeatedly")
	test.AssertTrue(t, !job.LastRun().IsZero(), "last run recorded")
}

func TestExecuteTaskRetries(t *testing.T) {
	scheduler := NewScheduler()

	var calls int
	task := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	test.AssertNoError(t, scheduler.executeTask(context.Background(), task, 0, 2))
	test.AssertEqual(t, 3, calls)

	calls = 0
	test.AssertTrue(t, scheduler.executeTask(context.Background(), task, 0, 1) != nil, "retries exhausted")
	test.AssertEqual(t, 2, calls)
}

func TestExecuteJobRetries(t *testing.T) {
	scheduler := NewScheduler()

	var calls int
	job := NewJob("flaky").
		WithInterval(time.Minute).
		WithRetries(2).
		AddTask(func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
	test.AssertNoError(t, scheduler.AddJob(job))

	test.AssertTrue(t, job.claim(time.Now().Add(time.Minute)), "job due")
	scheduler.executeJob(context.Background(), job)
	test.AssertEqual(t, 3, calls)
	test.AssertTrue(t, job.claim(time.Now().Add(2*time.Minute)), "job released after retries")
}

func TestExecuteTaskTimeout(t *testing.T) {
	scheduler := NewScheduler()

	err := scheduler.executeTask(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond, 0)
	test.AssertErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteTaskPanic(t *testing.T) {
	scheduler := NewScheduler()

	err := scheduler.executeTask(context.Background(), func(context.Context) error {
		panic("boom")
	}, 0, 0)
	test.AssertTrue(t, err != nil, "panic reported as error")
}
