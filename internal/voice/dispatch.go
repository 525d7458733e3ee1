package voice

import (
	"context"
	"encoding/json"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/ent0n29/cleo/internal/reliability"
)

// dispatch is the single entry point for inbound events of session gen.
func (c *Controller) dispatch(gen uint64, ev protocol.ServerEvent) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	phase, res, ack := c.phase, c.res, c.pendingAck
	c.mu.Unlock()

	if phase == PhaseConfigExchange {
		switch e := ev.(type) {
		case *protocol.SessionUpdated:
			deliverAck(ack, ackResult{accepted: true})
			return
		case *protocol.ErrorEvent:
			deliverAck(ack, ackResult{detail: e.Error})
			return
		}
	}
	if phase != PhaseSteady || res == nil {
		c.logger.Debug("ignoring event outside steady state", "type", ev.EventType(), "phase", phase)
		return
	}

	switch e := ev.(type) {
	case *protocol.SpeechStarted:
		if res.playback != nil {
			res.playback.Flush()
		}
		c.setStatus(gen, StatusListening)
	case *protocol.ResponseCreated:
		c.setStatus(gen, StatusActive)
	case *protocol.ResponseAudioDelta:
		if err := res.playback.EnqueueBase64(e.Delta); err != nil {
			c.opts.Metrics.ObserveFragmentError("inbound")
			c.logger.Warn("dropping audio fragment",
				"error", newError(ProcessingError, "decode audio delta", "", err))
			return
		}
		c.setStatus(gen, StatusSpeaking)
	case *protocol.OutputAudioStarted:
		c.setStatus(gen, StatusSpeaking)
	case *protocol.ResponseAudioDone, *protocol.OutputAudioStopped:
		c.setStatus(gen, StatusListening)
	case *protocol.ResponseDone:
		c.mu.Lock()
		if gen == c.gen && c.session != nil {
			c.session.Usage.Add(e.Response.Usage)
		}
		c.mu.Unlock()
		c.setStatus(gen, StatusListening)
	case *protocol.InputTranscriptionCompleted:
		c.postTranscript(gen, "user", e.Transcript)
	case *protocol.ResponseAudioTranscriptDone:
		c.postTranscript(gen, "assistant", e.Transcript)
	case *protocol.FunctionCallArgumentsDone:
		c.runTool(res, e)
	case *protocol.ErrorEvent:
		if reliability.IsRecoverableRealtimeCode(e.Error.Code) {
			c.logger.Warn("realtime service reported a recoverable error", "code", e.Error.Code, "message", e.Error.Message)
			return
		}
		_ = c.fail(gen, newError(ProtocolError, "realtime session", e.Error.String(), nil), true)
	case *protocol.SessionCreated, *protocol.SessionUpdated, *protocol.SpeechStopped, *protocol.InputAudioCommitted:
	default:
		c.logger.Debug("unhandled server event", "type", ev.EventType())
	}
}

func deliverAck(ack chan ackResult, r ackResult) {
	select {
	case ack <- r:
	default:
	}
}

// postTranscript forwards a finished utterance. Failures are logged only.
func (c *Controller) postTranscript(gen uint64, role, text string) {
	c.mu.Lock()
	if gen != c.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	t := collab.Transcript{
		ConversationID: c.session.ConversationID,
		Role:           role,
		Content:        text,
		SessionID:      c.session.SessionID,
	}
	c.mu.Unlock()
	if t.ConversationID == "" || text == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReportTimeout)
		defer cancel()
		if err := c.opts.Collaborators.PostTranscript(ctx, t); err != nil {
			c.logger.Warn("transcript post failed", "role", role, "error", err)
		}
	}()
}

// runTool delegates a function call when the transport carries a control
// channel, then asks the model to continue.
func (c *Controller) runTool(res *resources, call *protocol.FunctionCallArgumentsDone) {
	tr := res.transport
	if c.opts.Tools == nil || tr == nil || !tr.SupportsTools() {
		c.logger.Info("ignoring tool call without tool support", "name", call.Name)
		return
	}
	ctx := res.ctx
	go func() {
		out, err := c.opts.Tools.RunTool(ctx, call.Name, call.Arguments)
		if err != nil {
			c.logger.Warn("tool call failed", "name", call.Name, "error", err)
			raw, _ := json.Marshal(map[string]string{"error": err.Error()})
			out = string(raw)
		}
		if err := tr.Send(ctx, protocol.NewFunctionCallOutput(call.CallID, out)); err != nil {
			c.logger.Warn("tool output send failed", "name", call.Name, "error", err)
			return
		}
		if err := tr.Send(ctx, protocol.NewResponseCreate()); err != nil {
			c.logger.Warn("response request after tool call failed", "error", err)
		}
	}()
}

func (c *Controller) transportClosed(gen uint64, err error) {
	_ = c.fail(gen, newError(TransportError, "transport", "connection closed unexpectedly", err), true)
}
