// Package ingest drives the read-decode-forward loop over a reconnecting
// stream. A line is fully decoded and handed to the sink before the next one
// is read.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/harmonic/internal/decode"
	"github.com/tinytelemetry/harmonic/internal/model"
	"github.com/tinytelemetry/harmonic/internal/pipe"
)

// State is the loop's position in its reconnect state machine.
type State int32

const (
	Reading State = iota
	Reconnecting
	Terminated
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case Reconnecting:
		return "reconnecting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// LineReader is the read side of an open stream.
type LineReader interface {
	ReadLine() pipe.Line
	Close() error
}

// OpenFunc opens a fresh LineReader for path.
type OpenFunc func(path string) (LineReader, error)

// DecodeFunc turns one non-blank line into a Message.
type DecodeFunc func(line string) (model.Message, error)

// PipeOpener returns an OpenFunc backed by pipe.Open.
func PipeOpener(conf pipe.Config) OpenFunc {
	return func(path string) (LineReader, error) {
		h, err := pipe.Open(path, conf)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// ReadError reports an I/O failure while reading; it ends the loop.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("ingest: read %s: %v", e.Path, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// Config holds optional collaborators and tuning for a Loop.
type Config struct {
	Open   OpenFunc   // defaults to PipeOpener with Pipe
	Decode DecodeFunc // defaults to decode.Decode
	Pipe   pipe.Config
	Logger *zerolog.Logger

	// ReopenDelay is the wait before the first reopen after end of stream.
	// Zero reopens immediately. Each consecutive reopen doubles the wait up to
	// MaxReopenDelay; a forwarded line resets it.
	ReopenDelay    time.Duration
	MaxReopenDelay time.Duration
}

// Stats is a snapshot of loop counters.
type Stats struct {
	LinesRead    uint64 `json:"lines_read"`
	Forwarded    uint64 `json:"forwarded"`
	DecodeErrors uint64 `json:"decode_errors"`
	SinkErrors   uint64 `json:"sink_errors"`
	Reconnects   uint64 `json:"reconnects"`
	Oversized    uint64 `json:"oversized"`
	State        string `json:"state"`
}

// Loop reads lines from one path and forwards decoded messages to a sink.
type Loop struct {
	path   string
	sink   model.Sink
	open   OpenFunc
	decode DecodeFunc
	logger zerolog.Logger

	reopenDelay    time.Duration
	maxReopenDelay time.Duration

	state atomic.Int32

	mu      sync.Mutex
	current LineReader

	linesRead    atomic.Uint64
	forwarded    atomic.Uint64
	decodeErrors atomic.Uint64
	sinkErrors   atomic.Uint64
	reconnects   atomic.Uint64
	oversized    atomic.Uint64
}

// New creates a loop bound to path. The loop does not open anything until Run.
func New(path string, sink model.Sink, conf ...Config) *Loop {
	var c Config
	if len(conf) > 0 {
		c = conf[0]
	}

	l := &Loop{
		path:           path,
		sink:           sink,
		open:           c.Open,
		decode:         c.Decode,
		reopenDelay:    c.ReopenDelay,
		maxReopenDelay: c.MaxReopenDelay,
		logger:         zerolog.Nop(),
	}
	if l.open == nil {
		l.open = PipeOpener(c.Pipe)
	}
	if l.decode == nil {
		l.decode = decode.Decode
	}
	if c.Logger != nil {
		l.logger = c.Logger.With().Str("component", "ingest").Str("path", path).Logger()
	}
	if l.reopenDelay < 0 {
		l.reopenDelay = 0
	}
	if l.maxReopenDelay < l.reopenDelay {
		l.maxReopenDelay = l.reopenDelay
	}
	return l
}

// Path returns the stream path the loop reads from.
func (l *Loop) Path() string { return l.path }

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		LinesRead:    l.linesRead.Load(),
		Forwarded:    l.forwarded.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		SinkErrors:   l.sinkErrors.Load(),
		Reconnects:   l.reconnects.Load(),
		Oversized:    l.oversized.Load(),
		State:        l.State().String(),
	}
}

// Run opens the stream and processes lines until a fatal error or until ctx
// is cancelled. It returns nil on cancellation. The fatal errors are a
// *pipe.OpenError from the first open or a reopen, and *ReadError.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(Reading)
	defer l.setState(Terminated)

	reader, err := l.openReader(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error().Err(err).Msg("failed to open stream")
		return err
	}
	l.logger.Info().Msg("stream opened")

	stop := context.AfterFunc(ctx, l.release)
	defer stop()
	defer l.release()

	delay := l.reopenDelay
	for {
		line := reader.ReadLine()

		switch line.Outcome {
		case pipe.Data:
			l.linesRead.Add(1)
			if strings.TrimSpace(line.Text) == "" {
				l.logger.Info().Msg("blank line, reopening stream")
				if reader, err = l.reconnect(ctx, &delay); err != nil {
					return l.reopenFailed(ctx, err)
				}
				continue
			}
			l.handle(ctx, line.Text)
			delay = l.reopenDelay

		case pipe.EndOfStream:
			l.logger.Warn().Msg("end of stream, reopening")
			if reader, err = l.reconnect(ctx, &delay); err != nil {
				return l.reopenFailed(ctx, err)
			}

		case pipe.Oversized:
			l.oversized.Add(1)
			l.logger.Warn().Int("dropped_bytes", line.Dropped).Msg("discarded oversized line")

		default:
			if ctx.Err() != nil {
				return nil
			}
			readErr := &ReadError{Path: l.path, Err: line.Err}
			l.logger.Error().Err(line.Err).Msg("read failed, stopping")
			return readErr
		}
	}
}

func (l *Loop) handle(ctx context.Context, text string) {
	msg, err := l.decode(text)
	if err != nil {
		l.decodeErrors.Add(1)
		l.logger.Warn().Err(err).Str("line", snippet(text)).Msg("skipping undecodable line")
		return
	}
	if err := l.sink.Accept(ctx, msg); err != nil {
		l.sinkErrors.Add(1)
		l.logger.Error().Err(err).Str("type", msg.Type).Msg("sink rejected message")
		return
	}
	l.forwarded.Add(1)
	l.logger.Debug().Str("type", msg.Type).Msg("forwarded message")
}

func (l *Loop) reconnect(ctx context.Context, delay *time.Duration) (LineReader, error) {
	l.setState(Reconnecting)
	l.release()
	l.reconnects.Add(1)

	if wait := *delay; wait > 0 {
		l.logger.Debug().Dur("delay", wait).Msg("waiting before reopen")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		*delay = min(wait*2, l.maxReopenDelay)
	}

	reader, err := l.openReader(ctx)
	if err != nil {
		return nil, err
	}
	l.setState(Reading)
	l.logger.Info().Msg("stream reopened")
	return reader, nil
}

func (l *Loop) reopenFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	l.logger.Error().Err(err).Msg("failed to reopen stream, stopping")
	return fmt.Errorf("ingest: reopen: %w", err)
}

// openReader runs the open on its own goroutine so that a FIFO open with no
// writer can be abandoned on cancellation. An abandoned reader is closed as
// soon as its open returns.
func (l *Loop) openReader(ctx context.Context) (LineReader, error) {
	type result struct {
		reader LineReader
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := l.open(l.path)
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		l.mu.Lock()
		l.current = res.reader
		l.mu.Unlock()
		// A cancellation that fired before current was set found nothing to close.
		if err := ctx.Err(); err != nil {
			l.release()
			return nil, err
		}
		return res.reader, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.reader != nil {
				_ = res.reader.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// release closes the current reader, if any. Called from the loop and from
// the cancellation watcher.
func (l *Loop) release() {
	l.mu.Lock()
	r := l.current
	l.current = nil
	l.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.Close(); err != nil {
		l.logger.Debug().Err(err).Msg("close stream")
	}
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

func snippet(s string) string {
	s = strings.TrimSpace(s)
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
