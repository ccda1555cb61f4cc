package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestSchedulerFiresImmediatelyAndOnInterval(t *testing.T) {
	job := &countingJob{}
	s := New(job, 20*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if n := job.runs.Load(); n < 2 {
		t.Fatalf("runs = %d, want at least 2", n)
	}
}

func TestSchedulerKeepsGoingAfterFailure(t *testing.T) {
	job := &countingJob{err: errors.New("sweep failed")}
	s := New(job, 20*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if n := job.runs.Load(); n < 2 {
		t.Fatalf("runs = %d, want at least 2", n)
	}
}
