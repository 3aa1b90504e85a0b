package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/teslashibe/go-parley/internal/metrics"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

// handleEvent applies one server event. Events arrive in order on the
// transport's reader goroutine.
func (s *Session) handleEvent(r *run, ev protocol.ServerEvent) {
	if !s.live(r) {
		return
	}

	switch e := ev.(type) {
	case protocol.SessionCreated:
		s.onSessionCreated(r, e)
	case protocol.SessionUpdated:
		s.onSessionUpdated(r)
	case protocol.SpeechStarted:
		if s.session() == StateAISpeaking {
			s.bargeIn(r, false)
		}
	case protocol.SpeechStopped:
		r.mu.Lock()
		r.speechStoppedAt = s.clk.Now()
		r.awaitingAudio = true
		r.mu.Unlock()
	case protocol.ResponseCreated:
		r.mu.Lock()
		r.responseID = e.Response.ID
		r.mu.Unlock()
	case protocol.AudioDelta:
		s.onAudioDelta(r, e)
	case protocol.TranscriptDelta:
		s.dispatch(actAudioStarted{})
		s.dispatch(actAssistantDelta{Delta: e.Delta})
		s.observeFarewell(r)
	case protocol.TranscriptDone:
		s.onTranscriptDone(r, e)
	case protocol.InputTranscriptCompleted:
		s.onUserTranscript(r, e)
	case protocol.OutputItemDone:
		switch {
		case e.Item.IsFunctionCall():
			s.onFunctionCall(r, e.Item)
		case e.Item.IsMessage():
			s.observeFarewell(r)
		}
	case protocol.ResponseDone:
		s.onResponseDone(r, e)
	case protocol.ErrorEvent:
		apiErr := NewAPIError(e)
		if apiErr.IsBenign() {
			s.logger.Debug("ignoring server error", "code", apiErr.Code, "message", apiErr.Message)
			return
		}
		s.fail(r, apiErr)
	case protocol.UnknownEvent:
		s.logger.Debug("ignoring event", "type", e.Type)
	}
}

// handleStatus turns a terminal transport failure into a network error.
// Failures during Connect are reported by Start instead.
func (s *Session) handleStatus(r *run, st transport.Status) {
	if st != transport.StatusFailed {
		return
	}
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()
	if connected {
		s.fail(r, transport.ErrFailed)
	}
}

func (s *Session) onSessionCreated(r *run, e protocol.SessionCreated) {
	r.mu.Lock()
	done := r.configured[e.Session.ID]
	r.configured[e.Session.ID] = true
	r.mu.Unlock()
	if done {
		return
	}

	dialect := protocol.DialectBeta
	if r.kind == transport.KindPeer {
		dialect = protocol.DialectGA
	}
	update, err := protocol.NewSessionUpdate(r.config, dialect)
	if err != nil {
		s.fail(r, err)
		return
	}
	s.send(r, update)
	s.logger.Debug("session configured", "server_session", e.Session.ID, "tools", len(r.config.Tools))
}

func (s *Session) onSessionUpdated(r *run) {
	r.mu.Lock()
	first := !r.greeted
	r.greeted = true
	r.mu.Unlock()

	s.dispatch(actConnected{})
	if !first {
		return
	}
	s.send(r, protocol.NewResponseCreate())
	metrics.ConnectLatency.WithLabelValues(string(r.kind)).Observe(float64(s.clk.Now().Sub(r.requestedAt).Milliseconds()))
}

func (s *Session) onAudioDelta(r *run, e protocol.AudioDelta) {
	r.mu.Lock()
	if e.ResponseID != "" && e.ResponseID == r.cancelledResponse {
		r.mu.Unlock()
		return
	}
	if r.awaitingAudio {
		r.awaitingAudio = false
		metrics.ResponseLatency.Observe(float64(s.clk.Now().Sub(r.speechStoppedAt).Milliseconds()))
	}
	r.mu.Unlock()

	st := s.dispatch(actAudioStarted{})
	if st.Session != StateAISpeaking {
		return
	}
	s.observeFarewell(r)

	if r.player == nil {
		return
	}
	pcm, err := e.PCM()
	if err != nil {
		s.logger.Debug("dropping undecodable audio delta", "error", err)
		return
	}
	r.gate.SetAISpeaking(true)
	r.player.EnqueuePCM(pcm, realtimeRate)
}

func (s *Session) onTranscriptDone(r *run, e protocol.TranscriptDone) {
	text := e.Transcript
	if strings.TrimSpace(text) == "" {
		text = s.State().Pending
	}
	s.dispatch(actAssistantDone{Text: e.Transcript, At: s.clk.Now()})

	if containsMarker(text, s.cfg.CompletionMarker) {
		s.requestEnd(r, TriggerCompletion)
		s.observeFarewell(r)
	}
}

func (s *Session) onUserTranscript(r *run, e protocol.InputTranscriptCompleted) {
	text := strings.TrimSpace(e.Transcript)
	if !MeaningfulUserText(text, s.cfg.MinUserChars) {
		s.logger.Debug("discarding user transcript", "text", text)
		return
	}
	s.dispatch(actUserTranscript{Text: text, At: s.clk.Now()})
	if s.matcher.Match(text) {
		s.requestEnd(r, TriggerPhrase)
	}
}

func (s *Session) onResponseDone(r *run, e protocol.ResponseDone) {
	r.mu.Lock()
	if r.responseID == e.Response.ID {
		r.responseID = ""
	}
	r.mu.Unlock()

	s.dispatch(actTurnDone{})
	r.endflow.turnDone()
	if r.gate != nil && !r.player.Playing() {
		r.gate.SetAISpeaking(false)
	}
}

// onFunctionCall dispatches a tool call and reports the result back so the
// model can narrate it. Setting-tier handlers may block, so they run off the
// reader goroutine.
func (s *Session) onFunctionCall(r *run, item protocol.OutputItem) {
	call := tools.Call{ID: item.CallID, Name: item.Name, Arguments: json.RawMessage(item.Arguments)}
	if call.Name == tools.NameEndConversation {
		s.requestEnd(r, TriggerTool)
	}

	respond := func() {
		res := s.registry.Dispatch(r.ctx, call)
		s.send(r, protocol.NewFunctionCallOutput(call.ID, res.Output()))
		s.send(r, protocol.NewResponseCreate())
	}

	if t, ok := s.registry.Lookup(call.Name); ok && t.Tier == tools.TierSetting {
		go respond()
		return
	}
	respond()
}

// forwardChunk sends an admitted microphone chunk on the socket variant.
func (s *Session) forwardChunk(r *run, chunk audioio.AudioChunk) {
	if !s.live(r) {
		return
	}
	switch s.session() {
	case StateListening, StateAISpeaking:
	default:
		return
	}
	samples := audioio.Downmix(chunk.Samples, chunk.Channels)
	samples = audioio.Resample(samples, chunk.SampleRate, realtimeRate)
	s.send(r, protocol.NewAudioAppend(audioio.SamplesToBytes(samples)))
}

// bargeIn handles the user talking over the assistant. local is true when
// the echo gate detected it, false when server VAD did.
func (s *Session) bargeIn(r *run, local bool) {
	if !s.live(r) {
		return
	}
	speaking := s.session() == StateAISpeaking
	if r.player != nil {
		if r.player.Playing() {
			speaking = true
		}
		r.player.Stop()
	}
	if local {
		s.send(r, protocol.NewAudioClear())
	}
	if !speaking {
		return
	}

	r.mu.Lock()
	id := r.responseID
	cancel := id == "" || id != r.cancelledResponse
	r.cancelledResponse = id
	r.mu.Unlock()
	if cancel && s.session() == StateAISpeaking {
		s.send(r, protocol.NewResponseCancel())
	}
	s.dispatch(actInterrupted{})

	if r.endflow.cancel() {
		s.dispatch(actEndCancelled{})
	}
	s.logger.Info("barge-in", "session_id", r.id, "local", local)
}

func (s *Session) requestEnd(r *run, trigger EndTrigger) {
	if r.endflow.request(trigger) {
		s.dispatch(actEndRequested{Trigger: trigger})
	}
}

func (s *Session) observeFarewell(r *run) {
	if r.endflow.observeFarewell() {
		s.dispatch(actFarewell{})
	}
}

func (s *Session) send(r *run, ev protocol.ClientEvent) {
	ctx, cancel := context.WithTimeout(r.ctx, sendTimeout)
	defer cancel()
	if err := r.transport.Send(ctx, ev); err != nil {
		if r.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("send failed", "type", ev.Type, "error", err)
	}
}
