package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/harmonic/internal/journal"
	"github.com/tinytelemetry/harmonic/internal/model"
)

const defaultRetryInterval = time.Second

// ErrHeld is returned for a message that was journaled but not applied
// because earlier entries are still waiting to be re-applied.
var ErrHeld = errors.New("sink: held behind a failed journal entry")

// Journaled appends each message to a journal before applying it to the next
// sink, and commits the entry once it has been applied.
//
// A message the store rejects as referencing unknown entities is committed
// anyway since replaying it cannot succeed. Any other failure holds the
// commit point at the failed entry. While held, new messages are journaled
// but not applied; at most once per retry interval the held range, up to and
// including the newest message, is re-applied in order. Once that succeeds
// commits resume. Re-applied entries may reach a sink twice; the store
// upserts make that idempotent.
type Journaled struct {
	journal *journal.Journal
	next    model.Sink
	logger  zerolog.Logger

	retryInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	heldFrom  uint64 // zero when not held
	nextRetry time.Time
}

// NewJournaled wraps next so every message is journaled before it is applied.
func NewJournaled(j *journal.Journal, next model.Sink, logger zerolog.Logger) *Journaled {
	return &Journaled{
		journal:       j,
		next:          next,
		logger:        logger.With().Str("component", "journal").Logger(),
		retryInterval: defaultRetryInterval,
		now:           time.Now,
	}
}

// Accept journals msg, applies it to the next sink and commits it.
func (s *Journaled) Accept(ctx context.Context, msg model.Message) error {
	seq, err := s.journal.Append(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heldFrom != 0 {
		return s.retryHeld(ctx, seq)
	}

	applyErr := s.next.Accept(ctx, msg)
	if applyErr != nil && !errors.Is(applyErr, model.ErrUnknownReference) {
		s.hold(seq)
		return applyErr
	}
	if err := s.journal.Commit(seq); err != nil {
		return errors.Join(applyErr, err)
	}
	return applyErr
}

// Replay applies every uncommitted journal entry to the next sink and returns
// how many were applied. It stops at the first entry that fails with anything
// other than an unknown reference.
func (s *Journaled) Replay(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain(ctx, math.MaxUint64)
}

func (s *Journaled) hold(seq uint64) {
	s.heldFrom = seq
	s.nextRetry = s.now().Add(s.retryInterval)
	s.logger.Warn().Uint64("seq", seq).Msg("apply failed, holding journal commit point")
}

func (s *Journaled) retryHeld(ctx context.Context, seq uint64) error {
	if s.now().Before(s.nextRetry) {
		return fmt.Errorf("%w: entry %d waits for entry %d", ErrHeld, seq, s.heldFrom)
	}
	applied, err := s.drain(ctx, seq)
	if err != nil {
		s.nextRetry = s.now().Add(s.retryInterval)
		return err
	}
	s.logger.Info().
		Uint64("from", s.heldFrom).
		Uint64("to", seq).
		Int("applied", applied).
		Msg("held journal entries re-applied, resuming commits")
	s.heldFrom = 0
	return nil
}

// drain applies uncommitted entries with sequence numbers up to upTo, in
// order, committing each one as it is applied.
func (s *Journaled) drain(ctx context.Context, upTo uint64) (int, error) {
	applied := 0
	skipped, err := s.journal.Replay(func(seq uint64, msg model.Message) error {
		if seq > upTo {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.next.Accept(ctx, msg); err != nil {
			if !errors.Is(err, model.ErrUnknownReference) {
				return fmt.Errorf("replay entry %d: %w", seq, err)
			}
			s.logger.Warn().Err(err).Uint64("seq", seq).Msg("dropping unreplayable entry")
		} else {
			applied++
		}
		return s.journal.Commit(seq)
	})
	if skipped > 0 {
		s.logger.Warn().Int("entries", skipped).Msg("skipped journal entries that no longer decode")
	}
	return applied, err
}
