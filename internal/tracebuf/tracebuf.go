// Package tracebuf implements the fire-and-forget trace buffer: appends
// schedule a control-plane POST and return immediately, and a flush joins
// every write still in flight. Traces are best effort; an individual
// write failure never reaches the caller.
package tracebuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink is the control-plane write path a trace event is POSTed to.
type Sink interface {
	PostTrace(ctx context.Context, runID, eventType string, payload any) error
}

// Buffer tracks in-flight trace writes so FlushTraces can wait for all of
// them without the caller ever blocking on an individual append.
type Buffer struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

func New(sink Sink, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{sink: sink, logger: logger, timeout: 10 * time.Second}
}

// AppendTrace schedules the write and returns immediately; errors are
// logged, never surfaced.
func (b *Buffer) AppendTrace(runID, eventType string, payload any) {
	if b.sink == nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.sink.PostTrace(ctx, runID, eventType, payload); err != nil {
			b.logger.Warn("trace write failed", "runId", runID, "eventType", eventType, "error", err)
		}
	}()
}

// FlushTraces awaits every pending write. Invoked before finalization so
// the operator's final event stream is not racing in-flight trace POSTs.
func (b *Buffer) FlushTraces() {
	b.wg.Wait()
}
