package codec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/stringpool/internal/ir"
)

// errClosed is returned to the producer when the consumer closed the stream.
var errClosed = errors.New("stream closed")

// Stream is a pull iterator over the records of one encoded batch.
//
// The underlying parse is push-based. Stream runs it in a producer
// goroutine that decodes one record, hands it over through a single-slot
// channel and then blocks until the consumer calls Next again. Nothing is
// parsed before the first Next call.
//
// A Stream is a single decode session: it is not safe for concurrent use
// and cannot be restarted. Callers must Close it (or cancel its context)
// when they stop iterating early.
type Stream struct {
	id     string
	src    io.Reader
	ctx    context.Context
	cancel context.CancelCauseFunc

	items    chan ir.WriteResult // capacity 1, closed by the producer
	resume   chan struct{}       // consumer asks for the next record
	finished chan struct{}       // closed when the producer has exited

	started   bool
	exhausted bool
	closed    bool
	cur       ir.WriteResult
	err       error // written by the producer before items is closed
	closeOnce sync.Once
}

// Decode starts a decode session over r. If r is an io.Closer it is
// closed when the stream is closed.
func Decode(ctx context.Context, r io.Reader) *Stream {
	ctx, cancel := context.WithCancelCause(ctx)
	return &Stream{
		id:       uuid.NewString(),
		src:      r,
		ctx:      ctx,
		cancel:   cancel,
		items:    make(chan ir.WriteResult, 1),
		resume:   make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// ID returns the session id used in log lines.
func (s *Stream) ID() string { return s.id }

// Next advances to the next record. It returns false when the input is
// exhausted, decoding failed or the stream was closed.
func (s *Stream) Next() bool {
	if s.exhausted || s.closed {
		return false
	}
	if !s.started {
		s.started = true
		go s.produce()
	} else {
		select {
		case s.resume <- struct{}{}:
		case <-s.finished:
		}
	}
	item, ok := <-s.items
	if !ok {
		s.exhausted = true
		s.cur = ir.WriteResult{}
		return false
	}
	s.cur = item
	return true
}

// Value returns the current record.
func (s *Stream) Value() ir.Record { return s.cur.Record }

// Result returns the current record with the created/updated flags of an
// upload response.
func (s *Stream) Result() ir.WriteResult { return s.cur }

// Err returns the decode error that ended the stream, if any. Records
// decoded before the error were all yielded by Next.
func (s *Stream) Err() error {
	if !s.exhausted {
		return nil
	}
	return s.err
}

// Close stops the producer, waits for it to exit and closes the source.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		s.cancel(errClosed)
		if c, ok := s.src.(io.Closer); ok {
			err = c.Close()
		}
		if s.started {
			<-s.finished
		}
	})
	return err
}

func (s *Stream) produce() {
	defer close(s.finished)
	err := decodeInto(s.src, s.emit)
	if errors.Is(err, errClosed) {
		err = nil
	}
	if err != nil {
		slog.Debug("decode session failed", "session", s.id, "error", err)
	}
	s.err = err
	close(s.items)
}

// emit hands one record to the consumer and suspends until it asks for
// the next one.
func (s *Stream) emit(rec ir.WriteResult) error {
	if s.ctx.Err() != nil {
		return context.Cause(s.ctx)
	}
	s.items <- rec // never blocks: the slot is drained before resume is sent
	select {
	case <-s.resume:
		if s.ctx.Err() != nil {
			return context.Cause(s.ctx)
		}
		return nil
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	}
}

// DecodeFeed starts a decode session yielding feed entries.
func DecodeFeed(ctx context.Context, r io.Reader) ir.Iterator[ir.FeedEntry] {
	return &feedStream{Stream: Decode(ctx, r)}
}

type feedStream struct {
	*Stream
}

func (f *feedStream) Value() ir.FeedEntry {
	rec := f.Stream.Value()
	return rec.FeedEntry()
}

// DecodeResults starts a decode session yielding upload results.
func DecodeResults(ctx context.Context, r io.Reader) ir.Iterator[ir.WriteResult] {
	return &resultStream{Stream: Decode(ctx, r)}
}

type resultStream struct {
	*Stream
}

func (r *resultStream) Value() ir.WriteResult { return r.Stream.Result() }
