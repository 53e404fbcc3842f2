package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDispatcherPreservesPerUserOrder(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("cant start dispatcher: %v", err)
	}

	var mutex sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		d.Enqueue(Task{
			Name:   "test",
			UserID: 5,
			Run: func(context.Context) error {
				defer wg.Done()
				mutex.Lock()
				order = append(order, i)
				mutex.Unlock()
				return nil
			},
		})
	}
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("cant stop dispatcher: %v", err)
	}

	for i, got := range order {
		if got != i {
			t.Fatalf("expected submission order, got %v", order)
		}
	}
}

func TestDispatcherIsolatesUsers(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("cant start dispatcher: %v", err)
	}

	release := make(chan struct{})
	done := make(chan struct{})
	d.Enqueue(Task{
		Name:   "slow",
		UserID: 1,
		Run: func(context.Context) error {
			<-release
			return nil
		},
	})
	d.Enqueue(Task{
		Name:   "fast",
		UserID: 2,
		Run: func(context.Context) error {
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("a slow user must not block another user's queue")
	}
	close(release)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("cant stop dispatcher: %v", err)
	}
}

func TestDispatcherDropsAfterStop(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("cant start dispatcher: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("cant stop dispatcher: %v", err)
	}

	executed := make(chan struct{}, 1)
	d.Enqueue(Task{
		Name:   "late",
		UserID: 1,
		Run: func(context.Context) error {
			executed <- struct{}{}
			return nil
		},
	})
	select {
	case <-executed:
		t.Fatalf("a stopped dispatcher must not run tasks")
	case <-time.After(100 * time.Millisecond):
	}
}
