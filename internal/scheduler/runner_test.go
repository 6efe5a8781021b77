package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeJobs struct {
	recomputes    atomic.Int32
	evaluations   atomic.Int32
	recomputeErr  error
	blockUntil    chan struct{}
	recomputeSeen chan struct{}
}

func (f *fakeJobs) Recompute(ctx context.Context) error {
	f.recomputes.Add(1)
	if f.recomputeSeen != nil {
		f.recomputeSeen <- struct{}{}
	}
	if f.blockUntil != nil {
		<-f.blockUntil
	}
	return f.recomputeErr
}

func (f *fakeJobs) EvaluateRules(ctx context.Context) error {
	f.evaluations.Add(1)
	return nil
}

func TestTriggerRecompute(t *testing.T) {
	jobs := &fakeJobs{}
	runner := NewRunner(jobs, 0, 0)

	if err := runner.TriggerRecompute(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got := jobs.recomputes.Load(); got != 1 {
		t.Fatalf("expected 1 recompute, got %d", got)
	}
}

func TestTriggerRecomputePropagatesError(t *testing.T) {
	jobs := &fakeJobs{recomputeErr: errors.New("boom")}
	runner := NewRunner(jobs, 0, 0)

	if err := runner.TriggerRecompute(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestTriggerRecomputeRejectsConcurrentRun(t *testing.T) {
	jobs := &fakeJobs{
		blockUntil:    make(chan struct{}),
		recomputeSeen: make(chan struct{}, 1),
	}
	runner := NewRunner(jobs, 0, 0)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- runner.TriggerRecompute(context.Background())
	}()
	<-jobs.recomputeSeen

	err := runner.TriggerRecompute(context.Background())
	if !IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}

	close(jobs.blockUntil)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := jobs.recomputes.Load(); got != 1 {
		t.Fatalf("expected exactly 1 recompute, got %d", got)
	}
}

func TestTriggerEvaluateIndependentOfRecompute(t *testing.T) {
	jobs := &fakeJobs{
		blockUntil:    make(chan struct{}),
		recomputeSeen: make(chan struct{}, 1),
	}
	runner := NewRunner(jobs, 0, 0)

	done := make(chan error, 1)
	go func() {
		done <- runner.TriggerRecompute(context.Background())
	}()
	<-jobs.recomputeSeen

	// A running recompute must not block rule evaluation.
	if err := runner.TriggerEvaluate(context.Background()); err != nil {
		t.Fatalf("evaluate during recompute: %v", err)
	}

	close(jobs.blockUntil)
	<-done
}

func TestRunnerTicks(t *testing.T) {
	jobs := &fakeJobs{}
	runner := NewRunner(jobs, 10*time.Millisecond, 10*time.Millisecond)
	runner.Start()
	defer runner.Stop()

	deadline := time.After(2 * time.Second)
	for jobs.recomputes.Load() == 0 || jobs.evaluations.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("tickers never fired: recomputes=%d evaluations=%d",
				jobs.recomputes.Load(), jobs.evaluations.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	runner := NewRunner(&fakeJobs{}, time.Hour, time.Hour)
	runner.Start()
	runner.Stop()
	runner.Stop()
}
