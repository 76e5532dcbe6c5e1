package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name  string
	tally Tally
	err   error
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) (Tally, error) {
	t.runs++
	return t.tally, t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "sweeper-test"})
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "ok", tally: Tally{"recovered": 2}}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	registry, err := NewRegistry(failing, ok)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(nil),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	recorded := newRecordingMetrics()
	service.metrics = recorded

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ok.runs != 1 || failing.runs != 1 {
		t.Fatalf("expected each job once, got ok=%d fail=%d", ok.runs, failing.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatal("lock should be released after the cycle")
	}
	if recorded.failure["fail"] != 1 || recorded.success["ok"] != 1 {
		t.Fatalf("unexpected outcomes %+v %+v", recorded.success, recorded.failure)
	}
	if recorded.swept["ok/recovered"] != 2 {
		t.Fatalf("expected tally to reach metrics, got %+v", recorded.swept)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "ok"}
	registry, _ := NewRegistry(job)
	service, _ := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     &fakeLock{held: true},
	})

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if job.runs != 0 {
		t.Fatal("jobs must not run without the lock")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "ok"}
	registry, _ := NewRegistry(job)
	service, _ := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected missing lock to fail")
	}
}

type recordingMetrics struct {
	success map[string]int
	failure map[string]int
	swept   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{success: map[string]int{}, failure: map[string]int{}, swept: map[string]int{}}
}

func (r *recordingMetrics) ObserveRun(job string, _ time.Duration, err error) {
	if err != nil {
		r.failure[job]++
		return
	}
	r.success[job]++
}

func (r *recordingMetrics) AddSwept(job, result string, n int) { r.swept[job+"/"+result] += n }
