package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tinytelemetry/harmonic/internal/decode"
	"github.com/tinytelemetry/harmonic/internal/model"
)

// Printer writes one "received <line>" record per message, where line is the
// canonical wire form.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Accept(_ context.Context, msg model.Message) error {
	line, err := decode.Encode(msg)
	if err != nil {
		return fmt.Errorf("printer: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.out, "received %s\n", line); err != nil {
		return fmt.Errorf("printer: write: %w", err)
	}
	return nil
}
