package live

import (
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/live/protocol"
)

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if !s.current(ev.gen) {
				continue
			}
			switch ev.kind {
			case eventFrame:
				s.handleFrame(ev.data)
			case eventClosed:
				s.handleClosed(ev.err)
			case eventRotate:
				s.handleRotate(ev)
			}
		}
	}
}

// current reports whether an event belongs to the live connection generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing && gen == s.generation
}

func (s *Session) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

func (s *Session) handleFrame(data []byte) {
	msgs, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyFrame) {
			s.logger.Debug("ignoring frame without known payload", "bytes", len(data))
			return
		}
		s.metrics.DecodeError()
		s.logger.Warn("dropping undecodable frame", "error", err, "bytes", len(data))
		return
	}

	for _, msg := range msgs {
		switch m := msg.(type) {
		case protocol.SetupComplete:
			s.handleSetupComplete(m)
		case protocol.ServerContent:
			if s.ready() {
				s.handleContent(m)
			}
		case protocol.ToolCall:
			if s.ready() {
				s.handleToolCall(m)
			} else {
				s.logger.Warn("tool call before setup complete, ignoring", "calls", len(m.Calls))
			}
		case protocol.ToolCallCancellation:
			s.dispatcher.Cancel(m.IDs)
		case protocol.GoAway:
			s.handleGoAway(m)
		case protocol.ResumptionUpdate:
			if m.Resumable && m.Handle != "" {
				s.mu.Lock()
				s.resumeHandle = m.Handle
				s.mu.Unlock()
			}
		case protocol.Usage:
			s.metrics.TokensUsed("prompt", m.PromptTokens)
			s.metrics.TokensUsed("response", m.ResponseTokens)
		}
	}
}

func (s *Session) handleSetupComplete(m protocol.SetupComplete) {
	s.mu.Lock()
	attempts := s.attempts
	s.attempts = 0
	s.mu.Unlock()

	s.setState(StateReady)
	s.logger.Info("live session ready", "service_session_id", m.SessionID, "after_attempts", attempts)
}

func (s *Session) handleContent(m protocol.ServerContent) {
	if m.InputTranscript != "" {
		s.inputBuf.WriteString(m.InputTranscript)
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(continuity.RoleUser, m.InputTranscript)
		}
	}
	if m.OutputTranscript != "" {
		s.outputBuf.WriteString(m.OutputTranscript)
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(continuity.RoleAssistant, m.OutputTranscript)
		}
	}
	for _, chunk := range m.Audio {
		if s.cb.OnAudio != nil {
			s.cb.OnAudio(chunk)
		}
	}
	for _, text := range m.Text {
		s.textBuf.WriteString(text)
		if s.cb.OnText != nil {
			s.cb.OnText(text)
		}
	}
	if m.Interrupted {
		s.logger.Debug("model output interrupted")
		if s.cb.OnInterrupted != nil {
			s.cb.OnInterrupted()
		}
	}
	if m.TurnComplete {
		s.handleTurnComplete()
	}
}

// handleTurnComplete runs after every transcript and text event of the turn
// has been applied.
func (s *Session) handleTurnComplete() {
	s.flushTurn()
	s.turns++
	if every := s.profile.CheckpointEvery; every > 0 && s.turns%every == 0 {
		s.keeper.Persist(s.ctx)
	}
	if s.cb.OnTurnComplete != nil {
		s.cb.OnTurnComplete()
	}
	if reason := s.pendingRotate; reason != "" {
		s.rotate(reason)
	}
}

// flushTurn moves the buffered transcripts of the current turn into the log.
// Output text parts are used only when there is no output transcript.
func (s *Session) flushTurn() {
	log := s.keeper.Log()
	if in := strings.TrimSpace(s.inputBuf.String()); in != "" {
		log.Append(continuity.RoleUser, in)
	}
	out := strings.TrimSpace(s.outputBuf.String())
	if out == "" {
		out = strings.TrimSpace(s.textBuf.String())
	}
	if out != "" {
		log.Append(continuity.RoleAssistant, out)
	}
	s.inputBuf.Reset()
	s.outputBuf.Reset()
	s.textBuf.Reset()
}

// handleToolCall fans the calls out without blocking the event loop.
func (s *Session) handleToolCall(m protocol.ToolCall) {
	s.tools.Add(1)
	go func() {
		defer s.tools.Done()
		s.dispatcher.Dispatch(s.ctx, toolSender{s: s}, m.Calls)
	}()
}

// handleGoAway moves the rotation ahead of the service's announced close.
func (s *Session) handleGoAway(m protocol.GoAway) {
	delay := m.TimeLeft - goAwayMargin
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	gen := s.generation
	stopTimer(s.limitTimer)
	s.limitTimer = time.AfterFunc(delay, func() {
		s.post(event{kind: eventRotate, gen: gen, reason: "go_away"})
	})
	s.mu.Unlock()
	s.logger.Info("service announced disconnect", "time_left", m.TimeLeft, "rotate_in", delay)
}

func (s *Session) handleRotate(ev event) {
	if !ev.afterTurn {
		s.rotate(ev.reason)
		return
	}
	s.pendingRotate = ev.reason
	s.mu.Lock()
	stopTimer(s.rotateTimer)
	gen := ev.gen
	s.rotateTimer = time.AfterFunc(rotateGrace, func() {
		s.post(event{kind: eventRotate, gen: gen, reason: ev.reason})
	})
	s.mu.Unlock()
}
