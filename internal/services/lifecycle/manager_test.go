package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("http", func(context.Context) error { order = append(order, "http"); return nil })
	m.Register("broken", func(context.Context) error { return errors.New("boom") })

	stopped := make(chan struct{})
	m.Go("ledger", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})

	err := m.Shutdown(context.Background())
	if err == nil {
		t.Fatalf("expected the failing hook to be reported")
	}
	if len(order) != 2 || order[0] != "http" || order[1] != "store" {
		t.Fatalf("unexpected hook order %v", order)
	}
	select {
	case <-stopped:
	default:
		t.Fatalf("background component was not stopped")
	}
}

func TestComponentFailureStopsManager(t *testing.T) {
	m := New(time.Second, nil)
	boom := errors.New("listener closed")
	m.Go("http", func(context.Context) error { return boom })

	if err := m.Wait(); !errors.Is(err, boom) {
		t.Fatalf("expected component failure, got %v", err)
	}
	if m.Context().Err() == nil {
		t.Fatalf("context should be cancelled")
	}
}

func TestStopEndsWaitCleanly(t *testing.T) {
	m := New(time.Second, nil)
	m.Listen()
	m.Stop()
	if err := m.Wait(); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
