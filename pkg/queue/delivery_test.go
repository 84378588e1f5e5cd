package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/ttlkv"
)

func newTestQueue(t *testing.T, send SendFunc, opts Options) *DeliveryQueue {
	t.Helper()
	kv := ttlkv.New(ttlkv.Options{})
	t.Cleanup(kv.Close)
	return New(send, kv, opts)
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDequeueStrictPriority(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	stop := make(chan struct{})

	q.Enqueue("a", []byte("low"), comm.PriorityLow, nil)
	q.Enqueue("b", []byte("normal"), comm.PriorityNormal, nil)
	q.Enqueue("c", []byte("emergency"), comm.PriorityEmergency, nil)
	q.Enqueue("d", []byte("high"), comm.PriorityHigh, nil)

	want := []string{"emergency", "high", "normal", "low"}
	for _, expect := range want {
		msg, ok := q.Dequeue(stop)
		if !ok {
			t.Fatalf("queue drained early, wanted %q", expect)
		}
		if string(msg.Content) != expect {
			t.Fatalf("dequeued %q, want %q", msg.Content, expect)
		}
		if msg.Status != StatusProcessing {
			t.Fatalf("status = %v, want processing", msg.Status)
		}
	}
}

func TestDequeueEmergencyBeforeLowRegardlessOfOrder(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	stop := make(chan struct{})

	q.Enqueue("x", []byte("low first"), comm.PriorityLow, nil)
	q.Enqueue("y", []byte("emergency later"), comm.PriorityEmergency, nil)

	msg, ok := q.Dequeue(stop)
	if !ok || string(msg.Content) != "emergency later" {
		t.Fatalf("got %q, want the emergency message first", msg.Content)
	}
}

func TestDequeueBlocksUntilWork(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	stop := make(chan struct{})

	got := make(chan Message, 1)
	go func() {
		msg, ok := q.Dequeue(stop)
		if ok {
			got <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue("n", []byte("wake"), comm.PriorityNormal, nil)

	select {
	case msg := <-got:
		if string(msg.Content) != "wake" {
			t.Fatalf("content = %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dequeue never woke")
	}
}

func TestDequeueStopUnblocks(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(stop)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("stopped dequeue reported an item")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dequeue ignored stop")
	}
}

// The full retry ladder, driven by a fake clock: 60s, then 300s, then
// dead-letter on the third failure with no fourth attempt.
func TestRetryLadder(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	base := time.Unix(1756200000, 0)
	now := base
	q.nowFn = func() time.Time { return now }
	stop := make(chan struct{})
	sendDown := errors.New("radio down")

	id := q.Enqueue("node-9", []byte("field report"), comm.PriorityNormal, nil)

	// attempt 1 fails: retry in 60s
	if _, ok := q.Dequeue(stop); !ok {
		t.Fatalf("dequeue failed")
	}
	q.Nack(id, sendDown)
	m, ok := q.Get(id)
	if !ok || m.Status != StatusRetrying || m.Attempts != 1 {
		t.Fatalf("after first failure: %+v", m)
	}
	if !m.NextAttempt.Equal(base.Add(60 * time.Second)) {
		t.Fatalf("next attempt = %v, want +60s", m.NextAttempt)
	}

	now = base.Add(59 * time.Second)
	q.requeueDue()
	if m, _ := q.Get(id); m.Status != StatusRetrying {
		t.Fatalf("requeued before its delay elapsed")
	}

	now = base.Add(60 * time.Second)
	q.requeueDue()
	if m, _ := q.Get(id); m.Status != StatusPending {
		t.Fatalf("not requeued at its due time: %+v", m)
	}

	// attempt 2 fails: retry in 300s
	if _, ok := q.Dequeue(stop); !ok {
		t.Fatalf("dequeue failed")
	}
	q.Nack(id, sendDown)
	m, _ = q.Get(id)
	if m.Attempts != 2 || !m.NextAttempt.Equal(now.Add(300*time.Second)) {
		t.Fatalf("after second failure: %+v", m)
	}

	now = now.Add(300 * time.Second)
	q.requeueDue()

	// attempt 3 fails: dead-letter, never a fourth send
	if _, ok := q.Dequeue(stop); !ok {
		t.Fatalf("dequeue failed")
	}
	q.Nack(id, sendDown)

	m, ok = q.Get(id)
	if !ok {
		t.Fatalf("terminal message missing from audit")
	}
	if m.Status != StatusFailed || m.Attempts != 3 || m.LastError != "radio down" {
		t.Fatalf("dead-letter record: %+v", m)
	}

	st := q.Stats()
	if st.Pending != 0 || st.Processing != 0 || st.Retrying != 0 {
		t.Fatalf("live counts after dead-letter: %+v", st)
	}
	if st.Failed != 1 || st.Attempts != 3 {
		t.Fatalf("counters: %+v", st)
	}
}

func TestRetryLadderThirdRung(t *testing.T) {
	q := newTestQueue(t, nil, Options{MaxAttempts: 4})
	base := time.Unix(1756200000, 0)
	now := base
	q.nowFn = func() time.Time { return now }
	stop := make(chan struct{})

	id := q.Enqueue("node-9", []byte("x"), comm.PriorityNormal, nil)
	delays := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	for _, want := range delays {
		if _, ok := q.Dequeue(stop); !ok {
			t.Fatalf("dequeue failed")
		}
		q.Nack(id, errors.New("still down"))
		m, _ := q.Get(id)
		if !m.NextAttempt.Equal(now.Add(want)) {
			t.Fatalf("delay = %v, want %v", m.NextAttempt.Sub(now), want)
		}
		now = m.NextAttempt
		q.requeueDue()
	}
}

func TestWorkerDelivers(t *testing.T) {
	var sent atomic.Int32
	send := func(ctx context.Context, msg *Message) error {
		sent.Add(1)
		return nil
	}
	q := newTestQueue(t, send, Options{PollInterval: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Close()

	id := q.Enqueue("node-3", []byte("hello"), comm.PriorityNormal, map[string]string{"query_type": "status"})

	waitFor(t, 2*time.Second, "delivery", func() bool { return q.Stats().Sent == 1 })
	if sent.Load() != 1 {
		t.Fatalf("send invoked %d times", sent.Load())
	}
	m, ok := q.Get(id)
	if !ok || m.Status != StatusSent || m.Attempts != 1 {
		t.Fatalf("audit record: %+v", m)
	}
	if m.Metadata["query_type"] != "status" {
		t.Fatalf("metadata lost: %+v", m.Metadata)
	}
}

func TestWorkerRetriesThenDelivers(t *testing.T) {
	var calls atomic.Int32
	send := func(ctx context.Context, msg *Message) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}
	q := newTestQueue(t, send, Options{
		RetryDelays:  []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond},
		PollInterval: 2 * time.Millisecond,
	})
	q.Start(context.Background())
	defer q.Close()

	id := q.Enqueue("node-3", []byte("persistent"), comm.PriorityHigh, nil)

	waitFor(t, 2*time.Second, "eventual delivery", func() bool { return q.Stats().Sent == 1 })
	m, _ := q.Get(id)
	if m.Status != StatusSent || m.Attempts != 3 {
		t.Fatalf("record after recovery: %+v", m)
	}
}

func TestWorkerDeadLetters(t *testing.T) {
	send := func(ctx context.Context, msg *Message) error { return errors.New("unreachable") }
	q := newTestQueue(t, send, Options{
		RetryDelays:  []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond},
		PollInterval: 2 * time.Millisecond,
	})
	q.Start(context.Background())
	defer q.Close()

	id := q.Enqueue("node-3", []byte("doomed"), comm.PriorityNormal, nil)

	waitFor(t, 2*time.Second, "dead-letter", func() bool { return q.Stats().Failed == 1 })

	// nothing further happens: three attempts and no more
	time.Sleep(50 * time.Millisecond)
	st := q.Stats()
	if st.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", st.Attempts)
	}
	m, ok := q.Get(id)
	if !ok || m.Status != StatusFailed || m.LastError != "unreachable" {
		t.Fatalf("dead-letter record: %+v", m)
	}
}

func TestEnqueueClampsPriority(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	id := q.Enqueue("a", []byte("x"), comm.Priority(200), nil)
	m, ok := q.Get(id)
	if !ok || m.Priority != comm.PriorityLow {
		t.Fatalf("priority = %v, want low", m.Priority)
	}
}

func TestStatsCensus(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	q.Enqueue("a", []byte("1"), comm.PriorityLow, nil)
	q.Enqueue("b", []byte("2"), comm.PriorityNormal, nil)
	q.Enqueue("c", []byte("3"), comm.PriorityEmergency, nil)

	st := q.Stats()
	if st.Pending != 3 || st.Processing != 0 || st.Retrying != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
