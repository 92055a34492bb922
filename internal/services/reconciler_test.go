package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeReconciler struct {
	batches []int
	calls   int
	err     error
}

func (f *fakeReconciler) Reconcile(_ context.Context, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	if n > limit {
		n = limit
	}
	return n, nil
}

type staticHealth bool

func (s staticHealth) IsOnline() bool { return bool(s) }

func TestRunOnceDrainsFullBatches(t *testing.T) {
	target := &fakeReconciler{batches: []int{2, 2, 1, 5}}
	rs, err := NewReconcileService(target, staticHealth(true), nil, ReconcilerConfig{Interval: time.Minute, BatchSize: 2})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	settled, err := rs.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if settled != 5 || target.calls != 3 {
		t.Fatalf("expected 5 settled in 3 passes, got %d in %d", settled, target.calls)
	}
}

func TestRunOnceRespectsMaxPasses(t *testing.T) {
	target := &fakeReconciler{batches: []int{1, 1, 1, 1, 1}}
	rs, _ := NewReconcileService(target, nil, nil, ReconcilerConfig{BatchSize: 1, MaxPasses: 3})

	settled, _ := rs.RunOnce(context.Background())
	if settled != 3 || target.calls != 3 {
		t.Fatalf("expected sweep capped at 3 passes, got %d settled in %d", settled, target.calls)
	}
}

func TestRunOnceSkipsWhenOffline(t *testing.T) {
	target := &fakeReconciler{batches: []int{1}}
	rs, _ := NewReconcileService(target, staticHealth(false), nil, ReconcilerConfig{})

	if settled, err := rs.RunOnce(context.Background()); settled != 0 || err != nil || target.calls != 0 {
		t.Fatalf("offline sweep should be skipped: %d %v %d", settled, err, target.calls)
	}
}

func TestRunOnceReportsErrors(t *testing.T) {
	boom := errors.New("journal unavailable")
	rs, _ := NewReconcileService(&fakeReconciler{err: boom}, nil, nil, ReconcilerConfig{})

	if _, err := rs.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected journal error, got %v", err)
	}

	rs.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rs.Stop(ctx)
}
