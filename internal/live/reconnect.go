package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/livelink/internal/backoff"
	"github.com/haasonsaas/livelink/internal/live/transport"
	"github.com/haasonsaas/livelink/internal/summarize"
)

// handleClosed reacts to a connection the session did not close itself.
func (s *Session) handleClosed(err error) {
	s.mu.Lock()
	lived := s.now().Sub(s.connectedAt)
	attempts := s.attempts
	s.mu.Unlock()

	s.teardown()
	s.flushTurn()

	code, hasCode := transport.CloseCode(err)
	s.logger.Warn("live connection closed",
		"error", err,
		"close_code", code,
		"close_reason", transport.CloseReason(err),
		"lived", lived,
		"attempts", attempts,
	)

	// A payload rejection shortly after a reconnect will repeat on every retry.
	if hasCode && code == transport.CodeInvalidPayload && lived < s.opts.FastFailureWindow && attempts >= 1 {
		s.fail("structural_rejection", fmt.Errorf("%w: close %d %q after %s",
			ErrStructuralRejection, code, transport.CloseReason(err), lived.Round(time.Millisecond)))
		return
	}

	s.emitError(fmt.Errorf("live connection lost: %w", err))
	s.setState(StateReconnecting)
	s.prepareReconnect()
	s.retry("connection_closed")
}

// rotate replaces a healthy connection, for example at the session limit or
// after a voice change. The first dial is immediate; failures fall back to
// the backoff loop.
func (s *Session) rotate(reason string) {
	s.pendingRotate = ""
	s.mu.Lock()
	stopTimer(s.rotateTimer)
	s.rotateTimer = nil
	s.mu.Unlock()

	s.logger.Info("rotating live connection", "reason", reason)
	s.metrics.Reconnect(reason)
	s.setState(StateReconnecting)
	s.flushTurn()
	s.prepareReconnect()

	err := s.dial(s.ctx)
	if err == nil {
		return
	}
	if s.stopped(err) {
		return
	}
	s.logger.Warn("rotation failed", "reason", reason, "error", err)
	s.emitError(err)
	s.retry(reason)
}

// prepareReconnect checkpoints and refreshes what the next setup will carry.
// Every step is best effort.
func (s *Session) prepareReconnect() {
	s.keeper.Persist(s.ctx)
	s.summarizeLog()
	s.builder.RefreshSituation(s.ctx)
}

func (s *Session) summarizeLog() {
	if s.summarizer == nil {
		return
	}
	summary, err := s.summarizer.Summarize(s.ctx, s.keeper.Summary(), s.keeper.Log().Entries())
	if errors.Is(err, summarize.ErrNothingToSummarize) {
		return
	}
	if err != nil {
		s.logger.Warn("summary before reconnect failed", "error", err)
		return
	}
	s.keeper.SetSummary(summary)
}

// retry dials with backoff until a connection opens, the session closes, or
// the attempt budget is spent.
func (s *Session) retry(reason string) {
	for {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		if s.attempts >= s.opts.MaxAttempts {
			attempts := s.attempts
			s.mu.Unlock()
			s.fail("reconnect_exhausted", fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts))
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		delay := s.opts.Backoff.Delay(attempt)
		s.metrics.Reconnect(reason)
		s.logger.Info("reconnecting", "attempt", attempt, "max_attempts", s.opts.MaxAttempts, "delay", delay, "reason", reason)
		if err := backoff.SleepWithContext(s.ctx, delay); err != nil {
			return
		}

		// Checkpoint before every attempt; the log may have grown during backoff.
		s.keeper.Persist(s.ctx)
		err := s.dial(s.ctx)
		if err == nil {
			return
		}
		if s.stopped(err) {
			return
		}
		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		s.emitError(err)
	}
}

func (s *Session) stopped(err error) bool {
	return errors.Is(err, ErrClosed) || s.ctx.Err() != nil
}

// fail marks the session terminal and reports a FatalError. It runs on the
// event loop, so it does not wait for goroutines.
func (s *Session) fail(reason string, err error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	attempts := s.attempts
	opened := s.opened
	s.mu.Unlock()

	fatal := &FatalError{Reason: reason, Attempts: attempts, Err: err}
	s.logger.Error("live session failed", "reason", reason, "attempts", attempts, "error", err)
	s.metrics.Fatal(reason)

	s.teardown()
	s.stopTimers()
	s.flushTurn()
	s.keeper.Persist(context.WithoutCancel(s.ctx))
	s.cancel()
	s.setState(StateClosed)
	if opened {
		s.metrics.SessionClosed()
	}
	s.emitError(fatal)
}
