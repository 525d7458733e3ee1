package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/ent0n29/cleo/internal/transport"
)

// Options configure a Controller.
type Options struct {
	Collaborators Collaborators
	Microphone    audio.Microphone
	Speaker       audio.Speaker
	NewTransport  TransportFactory
	Tools         ToolRunner

	// Provider is reported to the bookkeeping endpoint and the relay.
	Provider string
	// ModelOverride replaces the model from the fetched configuration.
	ModelOverride      string
	SampleRate         int
	ChunkDuration      time.Duration
	PushToTalk         bool
	TranscriptionModel string
	ConfigAckTimeout   time.Duration
	MaxConfigAttempts  int
	MeterInterval      time.Duration
	ReportTimeout      time.Duration

	Logger  *slog.Logger
	Metrics *observability.ClientMetrics
	Stages  *observability.StageWindow
}

// resources are everything one session acquires. They are released only by
// the reaper, in a fixed order.
type resources struct {
	ctx       context.Context
	cancel    context.CancelFunc
	capture   *audio.Capture
	transport transport.Transport
	stream    audio.InputStream
	playback  *audio.Playback
	meter     *audio.Meter

	kind string
	done chan struct{}
	// err is the failure that ended the session, if any.
	err error
}

type ackResult struct {
	accepted bool
	detail   protocol.ErrorDetail
}

// Controller runs at most one voice session at a time: the handshake, the
// steady listening/speaking loop and the teardown.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	gen        uint64
	phase      Phase
	status     Status
	err        error
	session    *VoiceSession
	res        *resources
	pendingAck chan ackResult
	muted      bool
	level      float32
	retries    int
	degraded   bool
	closed     bool
	subs       map[int]func(StatusChange)
	nextSub    int
}

func New(opts Options) (*Controller, error) {
	if opts.Collaborators == nil {
		return nil, errors.New("voice: collaborators are required")
	}
	if opts.Microphone == nil {
		return nil, errors.New("voice: microphone is required")
	}
	if opts.NewTransport == nil {
		return nil, errors.New("voice: transport factory is required")
	}
	if opts.Speaker == nil {
		opts.Speaker = audio.DiscardSpeaker{}
	}
	if opts.Provider == "" {
		opts.Provider = ProviderPrimary
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = 100 * time.Millisecond
	}
	if opts.ConfigAckTimeout <= 0 {
		opts.ConfigAckTimeout = 10 * time.Second
	}
	if opts.MaxConfigAttempts <= 0 {
		opts.MaxConfigAttempts = 3
	}
	if opts.MeterInterval <= 0 {
		opts.MeterInterval = 50 * time.Millisecond
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 5 * time.Second
	}
	return &Controller{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("provider", opts.Provider),
		phase:  PhaseIdle,
		status: StatusIdle,
		subs:   make(map[int]func(StatusChange)),
	}, nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Err returns the failure that put the controller into StatusError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Session returns a snapshot of the live session, or nil.
func (c *Controller) Session() *VoiceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Level returns the latest microphone level in [0,1].
func (c *Controller) Level() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Retries returns how many smaller configuration payloads the last
// handshake had to fall back to.
func (c *Controller) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Degraded reports whether the session runs without a control channel.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Controller) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// ToggleMute flips the microphone enabled flag without touching the
// transport or the status.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	if c.res != nil && c.res.stream != nil {
		c.res.stream.SetEnabled(!c.muted)
	}
	return c.muted
}

// Subscribe registers fn for status changes. fn runs without the controller
// lock held.
func (c *Controller) Subscribe(fn func(StatusChange)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// CommitTurn ends a push-to-talk turn: commits the input buffer and asks
// for a response.
func (c *Controller) CommitTurn(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseSteady || c.res == nil || c.res.transport == nil {
		c.mu.Unlock()
		return ErrNotSteady
	}
	tr := c.res.transport
	c.mu.Unlock()

	if err := tr.Send(ctx, protocol.NewInputAudioCommit()); err != nil {
		return newError(TransportError, "commit turn", "", err)
	}
	if err := tr.Send(ctx, protocol.NewResponseCreate()); err != nil {
		return newError(TransportError, "request response", "", err)
	}
	return nil
}

// Close ends any session and refuses further starts.
func (c *Controller) Close() {
	c.EndSession(context.Background())
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// StartSession runs the handshake: fetch configuration, open the microphone,
// register the session, open the transport and exchange configuration.
func (c *Controller) StartSession(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.phase == PhaseError {
		c.mu.Unlock()
		c.EndSession(ctx)
		c.mu.Lock()
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	gen := c.gen
	c.phase, _ = Transition(c.phase, EventStart)
	c.err = nil
	c.retries = 0
	c.degraded = false
	res := &resources{meter: audio.NewMeter(), kind: "none", done: make(chan struct{})}
	c.res = res
	change := c.setStatusLocked(StatusConnecting, nil)
	c.mu.Unlock()
	c.notify(change)

	started := time.Now()
	err := c.handshake(ctx, gen, res, conversationID)
	switch {
	case err == nil:
		c.opts.Stages.Since(observability.StageHandshakeTotal, started)
		c.opts.Metrics.ObserveHandshake(res.kind, "ok")
		c.logger.Info("voice session started", "transport", res.kind, "conversation_id", conversationID)
	case errors.Is(err, ErrHandshakeAborted):
		c.opts.Metrics.ObserveHandshake(res.kind, "aborted")
	default:
		c.opts.Metrics.ObserveHandshake(res.kind, "error")
	}
	return err
}

func (c *Controller) handshake(ctx context.Context, gen uint64, res *resources, conversationID string) error {
	t := time.Now()
	cfg, err := c.opts.Collaborators.FetchConfig(ctx, conversationID)
	c.opts.Stages.Since(observability.StageConfigFetch, t)
	if err != nil {
		return c.fail(gen, newError(ConfigurationError, "fetch config", "could not load voice configuration", err), false)
	}
	if !c.advance(gen, EventConfigLoaded, nil) {
		return c.aborted(res)
	}

	t = time.Now()
	stream, err := c.opts.Microphone.Open(ctx, audio.DefaultConstraints(c.opts.SampleRate))
	c.opts.Stages.Since(observability.StageDeviceAccess, t)
	if err != nil {
		return c.fail(gen, deviceError(err), false)
	}
	if !c.advance(gen, EventDeviceReady, func() {
		res.stream = stream
		stream.SetEnabled(!c.muted)
	}) {
		_ = stream.Stop()
		return c.aborted(res)
	}

	t = time.Now()
	sessionID, err := c.opts.Collaborators.RegisterSession(ctx, conversationID, c.opts.Provider)
	c.opts.Stages.Since(observability.StageRegister, t)
	if err != nil {
		return c.fail(gen, newError(SessionRegistrationError, "register session", "could not register voice session", err), false)
	}
	session := &VoiceSession{
		SessionID:      sessionID,
		ConversationID: conversationID,
		Provider:       c.opts.Provider,
		StartedAt:      time.Now(),
	}
	if !c.advance(gen, EventRegistered, func() { c.session = session }) {
		return c.aborted(res)
	}

	playback := audio.NewPlayback(sharedSpeaker{c.opts.Speaker}, c.opts.SampleRate, c.logger)
	tr, err := c.opts.NewTransport(playback)
	if err != nil {
		_ = playback.Close()
		return c.fail(gen, newError(TransportError, "create transport", "", err), false)
	}
	tr.OnEvent(func(ev protocol.ServerEvent) { c.dispatch(gen, ev) })
	tr.OnClose(func(err error) { c.transportClosed(gen, err) })
	if !c.attach(gen, func() {
		res.transport = tr
		res.playback = playback
		res.kind = string(tr.Kind())
	}) {
		_ = tr.Close()
		_ = playback.Close()
		return c.aborted(res)
	}

	model := cfg.Model
	if c.opts.ModelOverride != "" {
		model = c.opts.ModelOverride
	}
	ladderOpts := ladderOptions{
		pushToTalk:         c.opts.PushToTalk,
		transcriptionModel: c.opts.TranscriptionModel,
		pcmFormats:         tr.Kind() == transport.KindWebSocket,
		tools:              c.opts.Tools != nil && tr.Kind() != transport.KindWebSocket,
	}
	offered := configLadder(cfg, ladderOpts)

	t = time.Now()
	ready, err := tr.Open(ctx, transport.OpenParams{
		SessionID: sessionID,
		Model:     model,
		Provider:  c.opts.Provider,
		Session:   offered[0],
	})
	c.opts.Stages.Since(observability.StageTransportOpen, t)
	if err != nil {
		return c.fail(gen, newError(TransportError, "open transport", "", err), false)
	}

	if ready.Degraded {
		c.logger.Warn("control channel did not open, continuing in degraded listening mode", "transport", res.kind)
		c.opts.Stages.ObserveIndicator("degraded_mode")
		if !c.advance(gen, EventDegraded, func() { c.degraded = true }) {
			return c.aborted(res)
		}
		return c.enterSteady(gen, res)
	}
	if !c.advance(gen, EventTransportOpen, nil) {
		return c.aborted(res)
	}

	ladderOpts.tools = c.opts.Tools != nil && tr.SupportsTools()
	t = time.Now()
	if err := c.exchangeConfig(ctx, gen, res, tr, configLadder(cfg, ladderOpts)); err != nil {
		return err
	}
	c.opts.Stages.Since(observability.StageConfigExchange, t)
	if !c.advance(gen, EventAcknowledged, nil) {
		return c.aborted(res)
	}
	return c.enterSteady(gen, res)
}

// exchangeConfig sends progressively smaller session payloads until one is
// acknowledged with session.updated.
func (c *Controller) exchangeConfig(ctx context.Context, gen uint64, res *resources, tr transport.Transport, ladder []protocol.SessionConfig) error {
	attempts := c.opts.MaxConfigAttempts
	if attempts > len(ladder) {
		attempts = len(ladder)
	}
	var last protocol.ErrorDetail
	for i := 0; i < attempts; i++ {
		ack := make(chan ackResult, 1)
		if !c.attach(gen, func() {
			c.pendingAck = ack
			if i > 0 {
				c.retries++
			}
		}) {
			return c.aborted(res)
		}
		if i > 0 {
			c.opts.Metrics.ObserveConfigRetry()
			c.logger.Info("retrying session configuration with a smaller payload", "attempt", i+1)
		}

		if err := tr.Send(ctx, protocol.NewSessionUpdate(ladder[i])); err != nil {
			return c.fail(gen, newError(TransportError, "send session.update", "", err), false)
		}

		timer := time.NewTimer(c.opts.ConfigAckTimeout)
		select {
		case r := <-ack:
			timer.Stop()
			if r.accepted {
				c.attach(gen, func() { c.pendingAck = nil })
				return nil
			}
			last = r.detail
			c.logger.Warn("session configuration rejected", "attempt", i+1, "code", r.detail.Code, "message", r.detail.Message)
		case <-timer.C:
			return c.fail(gen, newError(ProtocolError, "configure session", "configuration acknowledgment timed out", nil), false)
		case <-res.done:
			timer.Stop()
			return c.aborted(res)
		case <-ctx.Done():
			timer.Stop()
			return c.fail(gen, newError(TransportError, "configure session", "", ctx.Err()), false)
		}
	}
	return c.fail(gen, newError(ProtocolError, "configure session",
		fmt.Sprintf("configuration rejected after %d attempts", attempts), errors.New(last.String())), false)
}

// enterSteady starts outbound audio, metering and duration polling.
func (c *Controller) enterSteady(gen uint64, res *resources) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return c.aborted(res)
	}
	ctx, cancel := context.WithCancel(context.Background())
	res.ctx, res.cancel = ctx, cancel
	tr := res.transport
	sink := func(ctx context.Context, chunk []float32) error {
		err := tr.SendAudio(ctx, chunk)
		if err != nil {
			c.opts.Metrics.ObserveFragmentError("outbound")
		}
		return err
	}
	res.capture = audio.NewCapture(res.stream, res.meter, audio.CaptureConfig{
		SampleRate:    res.stream.SampleRate(),
		ChunkDuration: c.opts.ChunkDuration,
	}, c.gate(gen), sink, c.logger)
	capture := res.capture
	change := c.setStatusLocked(StatusListening, nil)
	c.mu.Unlock()

	capture.Start(ctx)
	go c.pollDuration(ctx, gen)
	go c.meterLoop(ctx, gen, res.meter)
	c.notify(change)
	return nil
}

// gate reports whether outbound audio may be sent for session gen.
func (c *Controller) gate(gen uint64) func() bool {
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return gen == c.gen && c.phase == PhaseSteady && c.status.Live()
	}
}

func (c *Controller) pollDuration(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			if gen != c.gen || c.session == nil {
				c.mu.Unlock()
				return
			}
			c.session.refresh(now)
			c.mu.Unlock()
		}
	}
}

func (c *Controller) meterLoop(ctx context.Context, gen uint64, meter *audio.Meter) {
	ticker := time.NewTicker(c.opts.MeterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if gen != c.gen || !c.status.Live() {
				c.mu.Unlock()
				continue
			}
			c.level = meter.Level()
			c.mu.Unlock()
		}
	}
}

// advance applies event if gen is still current, running attach under the
// lock first. A false return means a teardown superseded the handshake.
func (c *Controller) advance(gen uint64, event Event, attach func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	next, err := Transition(c.phase, event)
	if err != nil {
		c.logger.Error("handshake transition rejected", "error", err)
		return false
	}
	if attach != nil {
		attach()
	}
	c.phase = next
	return true
}

// attach runs fn under the lock if gen is still current.
func (c *Controller) attach(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	fn()
	return true
}

// aborted is the error a superseded handshake returns.
func (c *Controller) aborted(res *resources) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.err != nil {
		return res.err
	}
	return ErrHandshakeAborted
}

func (c *Controller) setStatus(gen uint64, s Status) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	change := c.setStatusLocked(s, nil)
	c.mu.Unlock()
	c.notify(change)
}

func (c *Controller) setStatusLocked(s Status, err error) *StatusChange {
	if c.status == s && err == nil {
		return nil
	}
	change := &StatusChange{From: c.status, To: s, Err: err}
	c.status = s
	return change
}

func (c *Controller) notify(change *StatusChange) {
	if change == nil {
		return
	}
	c.mu.Lock()
	subs := make([]func(StatusChange), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(*change)
	}
}

// sharedSpeaker keeps the caller-owned speaker open across sessions.
type sharedSpeaker struct{ audio.Speaker }

func (sharedSpeaker) Close() error { return nil }

func deviceError(err error) *Error {
	e := newError(DeviceAccessError, "open microphone", "", err)
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		e.Message = "microphone permission denied"
		e.Remediation = remediationPermission
	case errors.Is(err, audio.ErrNoDevice):
		e.Message = "no compatible microphone found"
		e.Remediation = remediationNoDevice
	default:
		e.Message = "microphone unavailable"
		e.Remediation = remediationSettings
	}
	return e
}
