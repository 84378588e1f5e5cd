// Package queue implements the reliable delivery queue: strict priority
// ordering, bounded retry with escalating backoff, and terminal
// dead-lettering. The queue is transport-agnostic; its send step is a
// pluggable function supplied by the routing layer.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/ttlkv"
)

// Status is the delivery state of a queued message.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusSent
	StatusRetrying
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusSent:
		return "sent"
	case StatusRetrying:
		return "retrying"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one item awaiting delivery.
type Message struct {
	ID          string            `json:"id"`
	Destination string            `json:"destination"`
	Content     []byte            `json:"content"`
	Priority    comm.Priority     `json:"priority"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	NextAttempt time.Time         `json:"next_attempt,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	LastError   string            `json:"last_error,omitempty"`
}

// SendFunc performs one delivery attempt. A nil error acknowledges the
// message; anything else schedules a retry.
type SendFunc func(ctx context.Context, msg *Message) error

// Options tune the queue. Zero values select the defaults.
type Options struct {
	MaxAttempts    int             // default 3
	RetryDelays    []time.Duration // default 60s, 300s, 900s
	PollInterval   time.Duration   // default 100ms
	AuditRetention time.Duration   // default 1h
	Workers        int             // default 1
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if len(o.RetryDelays) == 0 {
		o.RetryDelays = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.AuditRetention <= 0 {
		o.AuditRetention = time.Hour
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Stats is a point-in-time queue census. Sent, Failed and Attempts are
// cumulative; the rest count live messages.
type Stats struct {
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Retrying   int    `json:"retrying"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Attempts   uint64 `json:"attempts"`
}

// DeliveryQueue orders outbound messages by strict priority and drives
// their retry lifecycle. All mutation goes through its API; readers get
// copies.
type DeliveryQueue struct {
	opts Options
	send SendFunc

	mu         sync.Mutex
	cond       *sync.Cond
	classes    [comm.NumPriorities][]*Message
	retries    retryHeap
	byID       map[string]*Message
	processing int
	closed     bool

	audit *ttlkv.Store
	nowFn func() time.Time

	sent     atomic.Uint64
	failed   atomic.Uint64
	attempts atomic.Uint64

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a delivery queue. The audit store holds terminal messages for
// the retention window so their fate stays queryable after the fact.
func New(send SendFunc, audit *ttlkv.Store, opts Options) *DeliveryQueue {
	q := &DeliveryQueue{
		opts:   opts.withDefaults(),
		send:   send,
		byID:   make(map[string]*Message),
		audit:  audit,
		nowFn:  time.Now,
		stopCh: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue accepts a message for delivery and returns its id. Priority
// determines ordering: strict priority, not round-robin.
func (q *DeliveryQueue) Enqueue(destination string, content []byte, prio comm.Priority, metadata map[string]string) string {
	if prio >= comm.NumPriorities {
		prio = comm.PriorityLow
	}
	msg := &Message{
		ID:          uuid.NewString(),
		Destination: destination,
		Content:     content,
		Priority:    prio,
		Metadata:    metadata,
		Status:      StatusPending,
		MaxAttempts: q.opts.MaxAttempts,
		EnqueuedAt:  q.nowFn(),
	}
	q.mu.Lock()
	q.classes[prio] = append(q.classes[prio], msg)
	q.byID[msg.ID] = msg
	q.cond.Broadcast()
	q.mu.Unlock()

	zap.L().Debug("message enqueued",
		zap.String("id", msg.ID),
		zap.String("destination", destination),
		zap.Stringer("priority", prio),
		zap.Int("size", len(content)))
	return msg.ID
}

// Dequeue blocks until the highest-priority pending message is available,
// marks it processing, and returns a copy. Returns false when stop closes
// or the queue shuts down.
func (q *DeliveryQueue) Dequeue(stop <-chan struct{}) (Message, bool) {
	done := make(chan struct{})
	defer close(done)
	var stopped atomic.Bool
	go func() {
		select {
		case <-stop:
		case <-q.stopCh:
		case <-done:
			return
		}
		stopped.Store(true)
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed || stopped.Load() {
			return Message{}, false
		}
		if msg, ok := q.popLocked(); ok {
			return msg, true
		}
		q.cond.Wait()
	}
}

func (q *DeliveryQueue) popLocked() (Message, bool) {
	for p := 0; p < int(comm.NumPriorities); p++ {
		if len(q.classes[p]) == 0 {
			continue
		}
		msg := q.classes[p][0]
		copy(q.classes[p], q.classes[p][1:])
		q.classes[p] = q.classes[p][:len(q.classes[p])-1]
		msg.Status = StatusProcessing
		q.processing++
		return *msg, true
	}
	return Message{}, false
}

// Ack marks a processing message delivered. It moves to the audit store and
// out of the live set.
func (q *DeliveryQueue) Ack(id string) {
	q.mu.Lock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}
	msg.Status = StatusSent
	msg.Attempts++
	msg.LastError = ""
	q.processing--
	delete(q.byID, id)
	q.mu.Unlock()

	q.sent.Add(1)
	q.attempts.Add(1)
	q.archive(msg)
	zap.L().Info("message sent",
		zap.String("id", id),
		zap.String("destination", msg.Destination),
		zap.Int("attempts", msg.Attempts))
}

// Nack records a failed attempt. Below the attempt budget the message is
// scheduled for retry on the escalating delay ladder; at the budget it is
// dead-lettered: a terminal, reported outcome, never a silent drop.
func (q *DeliveryQueue) Nack(id string, sendErr error) {
	q.mu.Lock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}
	q.processing--
	msg.Attempts++
	q.attempts.Add(1)
	if sendErr != nil {
		msg.LastError = sendErr.Error()
	}

	if msg.Attempts >= msg.MaxAttempts {
		msg.Status = StatusFailed
		delete(q.byID, id)
		q.mu.Unlock()

		q.failed.Add(1)
		q.archive(msg)
		zap.L().Error("message dead-lettered",
			zap.String("id", id),
			zap.String("destination", msg.Destination),
			zap.Int("attempts", msg.Attempts),
			zap.String("last_error", msg.LastError))
		return
	}

	delay := q.retryDelay(msg.Attempts)
	msg.Status = StatusRetrying
	msg.NextAttempt = q.nowFn().Add(delay)
	heap.Push(&q.retries, retryItem{at: msg.NextAttempt, id: id})
	q.mu.Unlock()

	zap.L().Warn("message retry scheduled",
		zap.String("id", id),
		zap.Int("attempt", msg.Attempts),
		zap.Duration("delay", delay),
		zap.String("error", msg.LastError))
}

// retryDelay returns the ladder entry for the given completed attempt
// count, holding at the last rung when attempts outrun the ladder.
func (q *DeliveryQueue) retryDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx >= len(q.opts.RetryDelays) {
		idx = len(q.opts.RetryDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return q.opts.RetryDelays[idx]
}

// Get reports a message's current state: live messages first, then the
// audit window for terminal ones.
func (q *DeliveryQueue) Get(id string) (Message, bool) {
	q.mu.Lock()
	if msg, ok := q.byID[id]; ok {
		cp := *msg
		q.mu.Unlock()
		return cp, true
	}
	q.mu.Unlock()

	if q.audit == nil {
		return Message{}, false
	}
	raw, ok := q.audit.Get(auditKey(id))
	if !ok {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false
	}
	return msg, true
}

func (q *DeliveryQueue) Stats() Stats {
	q.mu.Lock()
	pending := 0
	for p := range q.classes {
		pending += len(q.classes[p])
	}
	st := Stats{
		Pending:    pending,
		Processing: q.processing,
		Retrying:   q.retries.Len(),
	}
	q.mu.Unlock()
	st.Sent = q.sent.Load()
	st.Failed = q.failed.Load()
	st.Attempts = q.attempts.Load()
	return st
}

// Start launches the processing workers and the retry poller.
func (q *DeliveryQueue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Add(1)
	go q.retryLoop(ctx)
}

// Close stops the workers. Messages still queued stay queued; in-flight
// sends finish on their own context.
func (q *DeliveryQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
		close(q.stopCh)
	})
	q.wg.Wait()
}

func (q *DeliveryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		msg, ok := q.Dequeue(q.stopCh)
		if !ok {
			return
		}
		if err := q.send(ctx, &msg); err != nil {
			q.Nack(msg.ID, err)
		} else {
			q.Ack(msg.ID)
		}
	}
}

// retryLoop re-pends retrying messages whose delay has elapsed.
func (q *DeliveryQueue) retryLoop(ctx context.Context) {
	defer q.wg.Done()
	tick := time.NewTicker(q.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-tick.C:
			q.requeueDue()
		}
	}
}

func (q *DeliveryQueue) requeueDue() {
	q.mu.Lock()
	now := q.nowFn()
	moved := false
	for q.retries.Len() > 0 && !q.retries[0].at.After(now) {
		item := heap.Pop(&q.retries).(retryItem)
		msg, ok := q.byID[item.id]
		if !ok || msg.Status != StatusRetrying {
			continue
		}
		msg.Status = StatusPending
		msg.NextAttempt = time.Time{}
		q.classes[msg.Priority] = append(q.classes[msg.Priority], msg)
		moved = true
	}
	if moved {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

func (q *DeliveryQueue) archive(msg *Message) {
	if q.audit == nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	q.audit.Set(auditKey(msg.ID), raw, q.opts.AuditRetention)
}

func auditKey(id string) string { return "msg:" + id }
