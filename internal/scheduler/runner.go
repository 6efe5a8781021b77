// Package scheduler drives the periodic recompute and rule-evaluation jobs.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Jobs is the work the scheduler triggers. Implementations must be safe for
// concurrent calls; the scheduler itself guarantees at most one run of each
// job at a time.
type Jobs interface {
	Recompute(ctx context.Context) error
	EvaluateRules(ctx context.Context) error
}

// ErrBusy is returned by manual triggers when the same job is already running.
type busyError struct{ job string }

func (e busyError) Error() string { return e.job + " already running" }

// Runner ticks the two background jobs on their configured intervals and
// exposes manual triggers for the admin endpoints. A job that is still
// running when its tick fires is skipped, not queued.
type Runner struct {
	jobs              Jobs
	recomputeInterval time.Duration
	evaluateInterval  time.Duration

	recomputeMu sync.Mutex
	evaluateMu  sync.Mutex

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func NewRunner(jobs Jobs, recomputeInterval, evaluateInterval time.Duration) *Runner {
	return &Runner{
		jobs:              jobs,
		recomputeInterval: recomputeInterval,
		evaluateInterval:  evaluateInterval,
		stop:              make(chan struct{}),
	}
}

// Start launches the background tickers. An interval of zero disables that
// job's ticker; manual triggers keep working either way.
func (r *Runner) Start() {
	if r.recomputeInterval > 0 {
		r.wg.Add(1)
		go r.loop("recompute", r.recomputeInterval, r.TriggerRecompute)
	}
	if r.evaluateInterval > 0 {
		r.wg.Add(1)
		go r.loop("evaluate-rules", r.evaluateInterval, r.TriggerEvaluate)
	}
}

// Stop halts the tickers and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Runner) loop(name string, interval time.Duration, trigger func(context.Context) error) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := trigger(context.Background()); err != nil {
				if _, busy := err.(busyError); busy {
					log.Printf("scheduler: %s tick skipped, previous run still active", name)
					continue
				}
				log.Printf("scheduler: %s run failed: %v", name, err)
			}
		}
	}
}

// TriggerRecompute runs a full recompute now. It returns an error without
// running when a recompute is already in progress.
func (r *Runner) TriggerRecompute(ctx context.Context) error {
	if !r.recomputeMu.TryLock() {
		return busyError{job: "recompute"}
	}
	defer r.recomputeMu.Unlock()

	started := time.Now()
	if err := r.jobs.Recompute(ctx); err != nil {
		return err
	}
	log.Printf("scheduler: recompute finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

// TriggerEvaluate runs a rule-evaluation pass now, with the same
// single-active-run guarantee as TriggerRecompute.
func (r *Runner) TriggerEvaluate(ctx context.Context) error {
	if !r.evaluateMu.TryLock() {
		return busyError{job: "evaluate-rules"}
	}
	defer r.evaluateMu.Unlock()

	started := time.Now()
	if err := r.jobs.EvaluateRules(ctx); err != nil {
		return err
	}
	log.Printf("scheduler: rule evaluation finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

// IsBusy reports whether err came from a trigger that found the job running.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}
