package voice

import (
	"context"
	"fmt"
	"time"
)

// EndSession tears the session down from any phase and reports the final
// duration and usage. It returns the ended session, or nil when none was
// registered. Calling it while idle is a no-op.
func (c *Controller) EndSession(ctx context.Context) *VoiceSession {
	c.mu.Lock()
	next, err := Transition(c.phase, EventEnd)
	if err != nil {
		c.mu.Unlock()
		return nil
	}
	c.phase = next
	c.gen++
	gen := c.gen
	res, session := c.detachLocked()
	c.mu.Unlock()

	c.release(res)
	final := c.reportEnd(ctx, session)

	c.mu.Lock()
	var change *StatusChange
	if gen == c.gen {
		c.phase, _ = Transition(c.phase, EventReaped)
		c.err = nil
		c.level = 0
		c.muted = false
		c.degraded = false
		change = c.setStatusLocked(StatusIdle, nil)
	}
	c.mu.Unlock()
	c.notify(change)
	if final != nil {
		c.logger.Info("voice session ended", "session_id", final.SessionID, "duration_s", final.DurationSeconds())
	}
	return final
}

// fail moves session gen to the error phase and reaps it. Callbacks pass
// async so the transport is never closed from inside its own handler.
func (c *Controller) fail(gen uint64, verr *Error, async bool) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrHandshakeAborted
	}
	next, err := Transition(c.phase, EventFail)
	if err != nil {
		c.mu.Unlock()
		return verr
	}
	c.phase = next
	c.err = verr
	c.gen++
	if c.res != nil {
		c.res.err = verr
	}
	res, session := c.detachLocked()
	c.level = 0
	change := c.setStatusLocked(StatusError, verr)
	c.mu.Unlock()

	c.logger.Error("voice session failed", "kind", string(verr.Kind), "error", verr)
	c.notify(change)

	finish := func() {
		c.release(res)
		c.reportEnd(context.Background(), session)
	}
	if async {
		go finish()
	} else {
		finish()
	}
	return verr
}

// detachLocked takes ownership of the session resources away from the
// controller so that no callback can reach them again.
func (c *Controller) detachLocked() (*resources, *VoiceSession) {
	res, session := c.res, c.session
	c.res, c.session = nil, nil
	c.pendingAck = nil
	if res != nil {
		close(res.done)
	}
	return res, session
}

// release frees resources in dependency order. Each step is isolated.
func (c *Controller) release(res *resources) {
	if res == nil {
		return
	}
	c.safely("cancel loops", func() error {
		if res.cancel != nil {
			res.cancel()
		}
		return nil
	})
	c.safely("stop capture", func() error {
		if res.capture != nil {
			res.capture.Stop()
		}
		return nil
	})
	c.safely("close transport", func() error {
		if res.transport != nil {
			return res.transport.Close()
		}
		return nil
	})
	c.safely("stop microphone", func() error {
		if res.stream != nil {
			return res.stream.Stop()
		}
		return nil
	})
	c.safely("close playback", func() error {
		if res.playback != nil {
			return res.playback.Close()
		}
		return nil
	})
	c.safely("reset meter", func() error {
		res.meter.Reset()
		return nil
	})
}

func (c *Controller) safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("teardown step panicked", "step", step, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		c.logger.Warn("teardown step failed", "step", step, "error", err)
	}
}

// reportEnd sends the final duration and usage and records the cost.
// Failure is logged and never blocks teardown.
func (c *Controller) reportEnd(ctx context.Context, session *VoiceSession) *VoiceSession {
	if session == nil {
		return nil
	}
	session.refresh(time.Now())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReportTimeout)
	defer cancel()
	cost, err := c.opts.Collaborators.ReportSessionEnd(ctx, session.SessionID, session.report())
	if err != nil {
		c.logger.Warn("session end report failed", "session_id", session.SessionID, "error", err)
		return session
	}
	session.EstimatedCost = &cost
	return session
}
