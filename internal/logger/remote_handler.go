package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAsyncBufferSize   = 1024
	defaultAsyncFlushTimeout = 5 * time.Second
)

// AsyncOptions configures the remote log queue.
type AsyncOptions struct {
	BufferSize   int
	FlushTimeout time.Duration
}

type queuedRecord struct {
	ctx     context.Context
	record  slog.Record
	handler slog.Handler
}

// recordQueue drains records into remote handlers on a single goroutine.
// A full queue drops the record instead of blocking the caller.
type recordQueue struct {
	ch           chan queuedRecord
	flushTimeout time.Duration
	closed       atomic.Bool
	done         sync.WaitGroup
	dropped      atomic.Uint64
}

func newRecordQueue(opts AsyncOptions) *recordQueue {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultAsyncBufferSize
	}
	flush := opts.FlushTimeout
	if flush <= 0 {
		flush = defaultAsyncFlushTimeout
	}

	q := &recordQueue{
		ch:           make(chan queuedRecord, size),
		flushTimeout: flush,
	}
	q.done.Go(func() {
		for rec := range q.ch {
			_ = rec.handler.Handle(rec.ctx, rec.record)
		}
	})
	return q
}

func (q *recordQueue) push(ctx context.Context, r slog.Record, h slog.Handler) {
	if q.closed.Load() {
		return
	}
	select {
	case q.ch <- queuedRecord{ctx: context.WithoutCancel(ctx), record: r, handler: h}:
	default:
		q.dropped.Add(1)
	}
}

func (q *recordQueue) close(ctx context.Context) error {
	if q.closed.Swap(true) {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.flushTimeout)
		defer cancel()
	}
	close(q.ch)

	drained := make(chan struct{})
	go func() {
		q.done.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// remoteHandler writes every record to the local handler synchronously and
// queues a clone for the remote handler.
type remoteHandler struct {
	local  slog.Handler
	remote slog.Handler
	queue  *recordQueue
}

func newRemoteHandler(local, remote slog.Handler, opts AsyncOptions) *remoteHandler {
	return &remoteHandler{local: local, remote: remote, queue: newRecordQueue(opts)}
}

func (h *remoteHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level) || h.remote.Enabled(ctx, level)
}

func (h *remoteHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.local.Enabled(ctx, r.Level) {
		err = h.local.Handle(ctx, r.Clone())
	}
	if h.remote.Enabled(ctx, r.Level) {
		h.queue.push(ctx, r.Clone(), h.remote)
	}
	return err
}

func (h *remoteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &remoteHandler{
		local:  h.local.WithAttrs(attrs),
		remote: h.remote.WithAttrs(attrs),
		queue:  h.queue,
	}
}

func (h *remoteHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &remoteHandler{
		local:  h.local.WithGroup(name),
		remote: h.remote.WithGroup(name),
		queue:  h.queue,
	}
}

var _ slog.Handler = (*remoteHandler)(nil)
