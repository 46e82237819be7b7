package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestSubmitAndWaitCollectsAllResults(t *testing.T) {
	pool := NewPool(context.Background(), 4, 16)
	defer pool.Close()

	jobs := make([]Job, 10)
	for i := range jobs {
		i := i
		jobs[i] = Job{
			ID: fmt.Sprintf("job-%d", i),
			Execute: func(ctx context.Context) (interface{}, error) {
				return i * 2, nil
			},
		}
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}

	seen := make(map[string]bool)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("job %s failed: %v", r.JobID, r.Err)
		}
		seen[r.JobID] = true
	}
	if len(seen) != len(jobs) {
		t.Errorf("got %d distinct job ids, want %d", len(seen), len(jobs))
	}
}

func TestErrorsAreReportedPerJob(t *testing.T) {
	pool := NewPool(context.Background(), 2, 4)
	defer pool.Close()

	wantErr := errors.New("boom")
	results := pool.SubmitAndWait([]Job{
		{ID: "ok", Execute: func(ctx context.Context) (interface{}, error) { return 1, nil }},
		{ID: "bad", Execute: func(ctx context.Context) (interface{}, error) { return nil, wantErr }},
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		switch r.JobID {
		case "ok":
			if r.Err != nil {
				t.Errorf("ok job errored: %v", r.Err)
			}
		case "bad":
			if !errors.Is(r.Err, wantErr) {
				t.Errorf("bad job error = %v, want %v", r.Err, wantErr)
			}
		}
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1)
	pool.Close()

	err := pool.Submit(Job{ID: "late", Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestSubmitAfterCloseNeverPanics(t *testing.T) {
	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }

	for i := 0; i < 200; i++ {
		pool := NewPool(context.Background(), 2, 2)
		pool.Close()
		if err := pool.Submit(Job{ID: "late", Execute: noop}); !errors.Is(err, ErrClosed) {
			t.Fatalf("iteration %d: err = %v, want ErrClosed", i, err)
		}
	}
}

func TestConcurrentSubmitAndClose(t *testing.T) {
	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }

	for i := 0; i < 50; i++ {
		pool := NewPool(context.Background(), 2, 1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 20; j++ {
				if err := pool.Submit(Job{ID: "j", Execute: noop}); err != nil {
					return
				}
			}
		}()

		pool.Close()
		<-done
		pool.Close() // idempotent
	}
}

func TestWorkersRunConcurrently(t *testing.T) {
	pool := NewPool(context.Background(), 8, 8)
	defer pool.Close()

	var running atomic.Int32
	var peak atomic.Int32
	gate := make(chan struct{})

	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = Job{
			ID: fmt.Sprintf("j%d", i),
			Execute: func(ctx context.Context) (interface{}, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-gate
				running.Add(-1)
				return nil, nil
			},
		}
	}

	done := make(chan []Result)
	go func() { done <- pool.SubmitAndWait(jobs) }()

	// Let workers pick up jobs, then release them all.
	for running.Load() < 8 {
	}
	close(gate)
	<-done

	if peak.Load() < 2 {
		t.Errorf("expected concurrent execution, peak = %d", peak.Load())
	}
}
