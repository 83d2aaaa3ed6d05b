// Package pipe reads newline-terminated lines from a path-addressed byte
// stream, typically a named pipe. A Handle is bound to one path for its whole
// life; reconnecting means closing it and opening a new one.
package pipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tinytelemetry/harmonic/internal/model"
)

// DefaultReadBufferSize is the default size of the buffered reader.
const DefaultReadBufferSize = 64 * 1024

var (
	// ErrIsDirectory is returned by Open when the path names a directory.
	ErrIsDirectory = errors.New("pipe: path is a directory")
	// ErrNotFIFO is returned by Open when RequireFIFO is set and the path is not a named pipe.
	ErrNotFIFO = errors.New("pipe: path is not a named pipe")
)

// Config holds tunable parameters for a Handle.
type Config struct {
	MaxLineSize    int
	ReadBufferSize int
	RequireFIFO    bool
}

// OpenError reports a path that could not be opened for reading.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("pipe: open %s: %v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// Outcome classifies the result of one ReadLine call.
type Outcome int

const (
	// Data carries a line, including its terminator when one was read.
	Data Outcome = iota + 1
	// EndOfStream means zero bytes were read: every writer has gone away.
	EndOfStream
	// Failure means the read failed with an I/O error.
	Failure
	// Oversized means the line exceeded MaxLineSize and was discarded up to its terminator.
	Oversized
)

func (o Outcome) String() string {
	switch o {
	case Data:
		return "data"
	case EndOfStream:
		return "end-of-stream"
	case Failure:
		return "failure"
	case Oversized:
		return "oversized"
	default:
		return "unknown"
	}
}

// Line is the result of one ReadLine call.
type Line struct {
	Outcome Outcome
	Text    string // Data only
	Dropped int    // Oversized only: number of bytes discarded
	Err     error  // Failure only
}

// Handle is an open, buffered stream bound to a single path.
// It is owned by one reader; Close may be called from any goroutine.
type Handle struct {
	path        string
	file        *os.File
	reader      *bufio.Reader
	maxLineSize int

	closeOnce sync.Once
	closeErr  error
}

// Open opens path for sequential line reads. Opening a named pipe blocks until
// a writer connects.
func Open(path string, conf ...Config) (*Handle, error) {
	maxLineSize := model.DefaultMaxLineSize
	bufferSize := DefaultReadBufferSize
	requireFIFO := false
	if len(conf) > 0 {
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].ReadBufferSize > 0 {
			bufferSize = conf[0].ReadBufferSize
		}
		requireFIFO = conf[0].RequireFIFO
	}

	if requireFIFO {
		// Check before opening so a non-FIFO path never blocks us.
		info, err := os.Stat(path)
		if err != nil {
			return nil, &OpenError{Path: path, Err: err}
		}
		if info.Mode()&os.ModeNamedPipe == 0 {
			return nil, &OpenError{Path: path, Err: ErrNotFIFO}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, &OpenError{Path: path, Err: ErrIsDirectory}
	}

	return &Handle{
		path:        path,
		file:        f,
		reader:      bufio.NewReaderSize(f, bufferSize),
		maxLineSize: maxLineSize,
	}, nil
}

// Path returns the path the handle was opened from.
func (h *Handle) Path() string { return h.path }

// ReadLine blocks until a full line, end of stream, or a read error.
// A final fragment without a terminator is returned as Data; the following
// call reports EndOfStream.
func (h *Handle) ReadLine() Line {
	var buf []byte
	dropped := 0

	for {
		chunk, err := h.reader.ReadSlice('\n')
		if dropped == 0 && len(buf)+len(chunk) <= h.maxLineSize {
			buf = append(buf, chunk...)
		} else {
			dropped += len(buf) + len(chunk)
			buf = nil
		}

		switch {
		case err == nil:
			if dropped > 0 {
				return Line{Outcome: Oversized, Dropped: dropped}
			}
			return Line{Outcome: Data, Text: string(buf)}
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if dropped > 0 {
				return Line{Outcome: Oversized, Dropped: dropped}
			}
			if len(buf) > 0 {
				return Line{Outcome: Data, Text: string(buf)}
			}
			return Line{Outcome: EndOfStream}
		default:
			return Line{Outcome: Failure, Err: fmt.Errorf("pipe: read %s: %w", h.path, err)}
		}
	}
}

// Close releases the descriptor. It is safe to call more than once and
// unblocks a ReadLine waiting on a pollable stream.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.file.Close()
	})
	return h.closeErr
}
