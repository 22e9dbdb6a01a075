package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"foundry/pkg/proto"
)

func TestAcquireSerializesPerRun(t *testing.T) {
	r := New()

	release, err := r.Acquire("run-1")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	if _, err := r.Acquire("run-1"); !errors.Is(err, ErrRunBusy) {
		t.Errorf("expected ErrRunBusy for held lease, got %v", err)
	}

	// Other runs are independent.
	release2, err := r.Acquire("run-2")
	if err != nil {
		t.Fatalf("Acquire on a different run failed: %v", err)
	}
	release2()

	release()
	release3, err := r.Acquire("run-1")
	if err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
	release3()
}

func TestCancelOnlyWhileTracked(t *testing.T) {
	r := New()

	if r.Cancel("unknown") {
		t.Error("cancel on an unknown run must be a no-op")
	}

	release, err := r.Acquire("run-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.Track("run-1", cancel)

	if !r.Cancel("run-1") {
		t.Error("expected cancel to fire for a tracked run")
	}
	if ctx.Err() == nil {
		t.Error("tracked context must be cancelled")
	}
	if r.Cancel("run-1") {
		t.Error("second cancel must report nothing to do")
	}

	release()
}

func TestReleaseDropsCancel(t *testing.T) {
	r := New()
	release, err := r.Acquire("run-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_, cancel := context.WithCancel(context.Background())
	r.Track("run-1", cancel)
	release()

	if r.Cancel("run-1") {
		t.Error("cancel after release must be a no-op")
	}
}

func TestPublishFiltersByRun(t *testing.T) {
	r := New()
	only1, stop1 := r.Subscribe("run-1", 4)
	all, stopAll := r.Subscribe("", 4)
	defer stop1()
	defer stopAll()

	r.Publish(proto.Event{RunID: "run-1", Type: proto.EventStageApplied})
	r.Publish(proto.Event{RunID: "run-2", Type: proto.EventPaused})

	if ev := <-only1; ev.RunID != "run-1" {
		t.Errorf("filtered subscriber got wrong run: %s", ev.RunID)
	}
	if ev := <-all; ev.RunID != "run-1" {
		t.Errorf("wildcard subscriber expected run-1 first, got %s", ev.RunID)
	}
	if ev := <-all; ev.RunID != "run-2" {
		t.Errorf("wildcard subscriber expected run-2 second, got %s", ev.RunID)
	}
}

func TestSlowSubscriberReceivesEveryEventInOrder(t *testing.T) {
	r := New()
	// Delivery buffer of 1 forces everything beyond the first event through
	// the subscriber's queue.
	ch, stop := r.Subscribe("run-1", 1)
	defer stop()

	const n = 100
	for i := 0; i < n; i++ {
		r.Publish(proto.Event{RunID: "run-1", Seq: int64(i + 1), Type: proto.EventStageApplied})
	}

	for i := 0; i < n; i++ {
		ev := <-ch
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	r := New()
	ch, stop := r.Subscribe("run-1", 1)
	stop()

	if _, ok := <-ch; ok {
		t.Error("channel must be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic, and unsubscribing twice
	// must be a no-op.
	r.Publish(proto.Event{RunID: "run-1", Type: proto.EventStageApplied})
	stop()
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Publish(proto.Event{RunID: "run-1", Seq: int64(i + 1), Type: proto.EventStageApplied})
		}
	}()

	// Subscribers come and go mid-publish. Readers drain until the close so
	// the drain goroutines are never stuck on delivery.
	for i := 0; i < 50; i++ {
		ch, stop := r.Subscribe("run-1", 1)
		drained := make(chan struct{})
		go func() {
			for range ch {
			}
			close(drained)
		}()
		stop()
		<-drained
	}
	wg.Wait()
}
