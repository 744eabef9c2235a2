package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"hybrid_chat/internal/model"
	"hybrid_chat/internal/utils/log"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("audit dispatcher closed")

type (
	// Sink is the write-only destination of audit records.
	Sink interface {
		Write(ctx context.Context, rec *model.AuditRecord) error
	}

	// Recorder accepts audit records without blocking the caller.
	Recorder interface {
		Record(kind model.AuditKind, fields map[string]any)
	}

	Options struct {
		QueueSize int
		Timeout   time.Duration
		Metrics   *Metrics
	}

	// Dispatcher is a bounded queue in front of a Sink. Record never blocks:
	// when the queue is full the record is dropped and logged.
	Dispatcher struct {
		sink    Sink
		queue   chan *model.AuditRecord
		timeout time.Duration
		metrics *Metrics
		now     func() time.Time

		mu     sync.RWMutex
		closed bool
		done   chan struct{}
	}
)

const (
	defaultQueueSize = 1024
	defaultTimeout   = 5 * time.Second
)

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan *model.AuditRecord, opts.QueueSize),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Record(kind model.AuditKind, fields map[string]any) {
	rec := &model.AuditRecord{
		Kind:      kind,
		Fields:    fields,
		CreatedAt: d.now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.recordDrop("closed")
		log.Warn("audit record dropped", zap.String("kind", string(kind)), zap.Error(ErrClosed))
		return
	}

	select {
	case d.queue <- rec:
		d.metrics.setQueued(len(d.queue))
	default:
		d.metrics.recordDrop("queue_full")
		log.Warn("audit queue full, record dropped", zap.String("kind", string(kind)))
	}
}

// Close stops accepting records, flushes what is queued and waits for the
// worker to finish or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for rec := range d.queue {
		d.metrics.setQueued(len(d.queue))
		d.write(rec)
	}
}

func (d *Dispatcher) write(rec *model.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Write(ctx, rec); err != nil {
		d.metrics.recordFailure(string(rec.Kind))
		log.Error("audit sink write failed", zap.String("kind", string(rec.Kind)), zap.Error(err))
		return
	}
	d.metrics.recordWritten(string(rec.Kind))
}
