// Package sink holds the message consumers the ingestion loop can forward to,
// and combinators over them.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinytelemetry/harmonic/internal/model"
)

// Fanout forwards every message to each sink in order. All sinks see the
// message even when an earlier one fails; the failures are joined.
type Fanout []model.Sink

func (f Fanout) Accept(ctx context.Context, msg model.Message) error {
	var errs []error
	for i, s := range f {
		if err := s.Accept(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discard accepts and drops every message.
var Discard model.Sink = model.SinkFunc(func(context.Context, model.Message) error { return nil })
