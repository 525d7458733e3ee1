package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/reliability"
)

// Failover wraps a primary and a fallback Runner. It starts on the primary
// and switches to the fallback when the primary fails with a transient
// failure, during the handshake or later. Ending a session resets the
// preference to the primary.
type Failover struct {
	primary  Runner
	fallback Runner
	logger   *slog.Logger
	metrics  *observability.ClientMetrics

	mu             sync.Mutex
	provider       string
	conversationID string
	starting       bool
	live           bool
	lastErr        error
	switched       chan struct{}
}

func NewFailover(primary, fallback Runner, logger *slog.Logger, metrics *observability.ClientMetrics) *Failover {
	f := &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   logging.OrDiscard(logger).With("component", "failover"),
		metrics:  metrics,
		provider: ProviderPrimary,
	}
	primary.Subscribe(f.observePrimary)
	return f
}

// Provider returns which runner is active: "primary" or "fallback".
func (f *Failover) Provider() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provider
}

// Active returns the runner currently carrying the session.
func (f *Failover) Active() Runner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *Failover) activeLocked() Runner {
	if f.provider == ProviderFallback {
		return f.fallback
	}
	return f.primary
}

func (f *Failover) StartSession(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	if f.live || f.starting {
		f.mu.Unlock()
		return ErrSessionActive
	}
	f.provider = ProviderPrimary
	f.conversationID = conversationID
	f.starting = true
	f.lastErr = nil
	f.mu.Unlock()

	err := f.primary.StartSession(ctx, conversationID)

	f.mu.Lock()
	f.starting = false
	if err == nil {
		f.live = true
		f.mu.Unlock()
		return nil
	}
	if !shouldFailover(err) {
		f.lastErr = err
		f.mu.Unlock()
		return err
	}
	f.provider = ProviderFallback
	f.mu.Unlock()

	f.logger.Warn("primary provider failed, switching to fallback", "error", err)
	f.metrics.ObserveFailover()
	if ferr := f.fallback.StartSession(ctx, conversationID); ferr != nil {
		f.mu.Lock()
		f.lastErr = ferr
		f.mu.Unlock()
		return ferr
	}
	f.mu.Lock()
	f.live = true
	f.mu.Unlock()
	return nil
}

// observePrimary handles primary failures after a successful handshake.
func (f *Failover) observePrimary(change StatusChange) {
	if change.To != StatusError {
		return
	}
	f.mu.Lock()
	if f.starting || !f.live || f.provider != ProviderPrimary || !shouldFailover(change.Err) {
		f.mu.Unlock()
		return
	}
	f.provider = ProviderFallback
	conversationID := f.conversationID
	switched := make(chan struct{})
	f.switched = switched
	f.mu.Unlock()

	f.logger.Warn("primary session failed, switching to fallback", "error", change.Err)
	f.metrics.ObserveFailover()
	go func() {
		defer close(switched)
		err := f.fallback.StartSession(context.Background(), conversationID)
		f.mu.Lock()
		defer f.mu.Unlock()
		if err != nil {
			f.lastErr = err
			f.live = false
			f.logger.Error("fallback session failed", "error", err)
		}
	}()
}

// EndSession ends whichever runner is active and prefers the primary again.
func (f *Failover) EndSession(ctx context.Context) *VoiceSession {
	f.mu.Lock()
	active := f.activeLocked()
	other := f.primary
	if active == f.primary {
		other = f.fallback
	}
	switched := f.switched
	f.switched = nil
	f.mu.Unlock()

	if switched != nil {
		select {
		case <-switched:
		case <-ctx.Done():
		}
	}
	session := active.EndSession(ctx)
	if other.Status() == StatusError {
		other.EndSession(ctx)
	}

	f.mu.Lock()
	f.provider = ProviderPrimary
	f.live = false
	f.lastErr = nil
	f.mu.Unlock()
	return session
}

func (f *Failover) Status() Status { return f.Active().Status() }

func (f *Failover) Err() error {
	f.mu.Lock()
	lastErr := f.lastErr
	active := f.activeLocked()
	f.mu.Unlock()
	if err := active.Err(); err != nil {
		return err
	}
	return lastErr
}

func (f *Failover) Session() *VoiceSession { return f.Active().Session() }

func (f *Failover) ToggleMute() bool { return f.Active().ToggleMute() }

func (f *Failover) IsMuted() bool { return f.Active().IsMuted() }

func (f *Failover) CommitTurn(ctx context.Context) error { return f.Active().CommitTurn(ctx) }

// Subscribe registers fn on both runners.
func (f *Failover) Subscribe(fn func(StatusChange)) func() {
	a := f.primary.Subscribe(fn)
	b := f.fallback.Subscribe(fn)
	return func() {
		a()
		b()
	}
}

func shouldFailover(err error) bool {
	if err == nil || errors.Is(err, ErrSessionActive) || errors.Is(err, ErrHandshakeAborted) {
		return false
	}
	switch KindOf(err) {
	case DeviceAccessError, ConfigurationError:
		return false
	}
	return reliability.IsTransientFailure(err)
}
