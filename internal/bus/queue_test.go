package bus

import (
	"context"
	"testing"
	"time"
)

func TestTryPublishNormalDropsWhenFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(Event{Payload: []byte("a"), Priority: PriorityNormal}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := q.TryPublish(Event{Payload: []byte("b"), Priority: PriorityNormal}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestTryPublishCriticalEvictsOldestNormal(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(Event{Payload: []byte("md-tick"), Priority: PriorityNormal}); err != nil {
		t.Fatalf("normal publish: %v", err)
	}
	if err := q.TryPublish(Event{Payload: []byte("fill"), Priority: PriorityCritical}); err != nil {
		t.Fatalf("critical publish should evict the normal event, got: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got []Event
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(e Event) {
			got = append(got, e)
			if len(got) == 1 {
				cancel()
			}
		})
		close(done)
	}()
	<-done
	if len(got) != 1 || string(got[0].Payload) != "fill" {
		t.Fatalf("expected only the critical event to survive, got %+v", got)
	}
}

func TestRunDrainsCriticalBeforeNormal(t *testing.T) {
	q := NewQueue(4)
	q.TryPublish(Event{Payload: []byte("md"), Priority: PriorityNormal})
	q.TryPublish(Event{Payload: []byte("fill"), Priority: PriorityCritical})

	ctx, cancel := context.WithCancel(context.Background())
	var order []string
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(e Event) {
			order = append(order, string(e.Payload))
			if len(order) == 2 {
				cancel()
			}
		})
		close(done)
	}()
	<-done
	if len(order) != 2 || order[0] != "fill" || order[1] != "md" {
		t.Fatalf("expected critical event drained first, got %v", order)
	}
}

func TestCloseStopsRun(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	if err := q.TryPublish(Event{Payload: []byte("x")}); err != ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	done := make(chan struct{})
	go func() {
		q.Run(context.Background(), func(Event) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
