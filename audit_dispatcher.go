package sessionauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher moves events off the caller's goroutine. With dropIfFull a
// full queue discards and counts the event; otherwise Emit waits for room
// until ctx ends or the dispatcher stops.
type auditDispatcher struct {
	sink       AuditSink
	queue      chan AuditEvent
	stop       chan struct{}
	stopped    sync.WaitGroup
	stopOnce   sync.Once
	closing    atomic.Bool
	dropped    atomic.Uint64
	dropIfFull bool
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &auditDispatcher{
		sink:       sink,
		queue:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.stopped.Add(1)
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer d.stopped.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
			continue
		case <-d.stop:
		}
		// flush what was queued before stop
		for {
			select {
			case ev := <-d.queue:
				d.sink.Emit(ctx, ev)
			default:
				return
			}
		}
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}
	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case d.queue <- event:
	case <-cancelled:
	case <-d.stop:
	}
}

// Close stops intake, flushes queued events and waits for the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.stopped.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
