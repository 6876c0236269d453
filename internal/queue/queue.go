package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// Sender delivers one record over the wire.
type Sender interface {
	Send(ctx context.Context, rec *trace.Record) error
}

const DefaultSize = 256

// Queue decouples monitored calls from network latency: Enqueue never blocks,
// a single worker drains records in the background, and on overflow the
// oldest pending record is dropped.
type Queue struct {
	sender      Sender
	ch          chan *trace.Record
	sendTimeout time.Duration
	logger      *log.Logger

	mu      sync.Mutex
	closed  bool
	dropped uint64

	done chan struct{}
}

func New(sender Sender, size int, sendTimeout time.Duration, logger *log.Logger) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = log.Default()
	}
	q := &Queue{
		sender:      sender,
		ch:          make(chan *trace.Record, size),
		sendTimeout: sendTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue adds a record without blocking. When the buffer is full the oldest
// pending record is evicted to make room.
func (q *Queue) Enqueue(rec *trace.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.dropped++
		return
	}
	for {
		select {
		case q.ch <- rec:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped++
			q.logger.Printf("ragmetrics: trace queue full, dropped oldest record")
		default:
		}
	}
}

// Dropped reports how many records were discarded due to overflow or
// enqueueing after Close.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) run() {
	defer close(q.done)
	for rec := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.sendTimeout)
		if err := q.sender.Send(ctx, rec); err != nil {
			q.logger.Printf("ragmetrics: failed to send trace %s: %v", rec.TraceID, err)
		}
		cancel()
	}
}

// Close stops intake and waits for the worker to drain pending records,
// bounded by ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
