package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	eventsChannelLabel = "oai-events"
	pcmuSampleRate     = 8000
	pcmuFrameSamples   = 160
	pcmuFrameDuration  = 20 * time.Millisecond
	pcmuPayloadType    = 0
)

// PeerTransport carries microphone audio on a PCMU track and the JSON event
// protocol on a data channel. The SDP exchange is delegated to a Signaler.
type PeerTransport struct {
	handlers

	kind     Kind
	opts     Options
	signaler Signaler
	control  *wsSignaler
	logger   *slog.Logger

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	dcOpen bool
	closed bool

	audioMu sync.Mutex
	pending []int16
}

func newPeerTransport(kind Kind, opts Options, sig Signaler) *PeerTransport {
	return &PeerTransport{kind: kind, opts: opts, signaler: sig, logger: opts.Logger}
}

func (t *PeerTransport) Kind() Kind { return t.kind }

// SupportsTools reports whether the data channel is open.
func (t *PeerTransport) SupportsTools() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dcOpen && !t.closed
}

func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: pcmuSampleRate,
			Channels:  1,
		},
		PayloadType: pcmuPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register pcmu codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

func (t *PeerTransport) Open(ctx context.Context, p OpenParams) (Ready, error) {
	pc, err := newPeerConnection(t.opts.ICEServers)
	if err != nil {
		return Ready{}, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuSampleRate, Channels: 1},
		"audio",
		"cleo-microphone",
	)
	if err != nil {
		_ = pc.Close()
		return Ready{}, fmt.Errorf("create local audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return Ready{}, fmt.Errorf("add local audio track: %w", err)
	}
	go drainRTCP(sender)

	dc, err := pc.CreateDataChannel(eventsChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return Ready{}, fmt.Errorf("create data channel: %w", err)
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		t.mu.Lock()
		t.dcOpen = true
		t.mu.Unlock()
		openOnce.Do(func() { close(opened) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ev, err := protocol.ParseServerEvent(msg.Data)
		if err != nil {
			t.logger.Warn("dropping malformed server event", "error", err)
			return
		}
		t.emit(ev)
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go t.readRemoteAudio(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.mu.Lock()
			local := t.closed
			t.mu.Unlock()
			if !local {
				t.fireClose(fmt.Errorf("peer connection %s", state.String()))
			}
		}
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = pc.Close()
		return Ready{}, ErrClosed
	}
	t.pc, t.dc, t.track = pc, dc, track
	t.mu.Unlock()

	answer, err := t.negotiate(ctx, pc, p)
	if err != nil {
		_ = t.Close()
		return Ready{}, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		_ = t.Close()
		return Ready{}, fmt.Errorf("set remote description: %w", err)
	}

	timer := time.NewTimer(t.opts.DataChannelTimeout)
	defer timer.Stop()
	select {
	case <-opened:
		return Ready{}, nil
	case <-timer.C:
		t.logger.Warn("data channel did not open, continuing in degraded mode",
			"timeout", t.opts.DataChannelTimeout.String())
		return Ready{Degraded: true}, nil
	case <-ctx.Done():
		_ = t.Close()
		return Ready{}, ctx.Err()
	}
}

// negotiate creates the local offer, waits for ICE gathering and trades it
// for the remote answer.
func (t *PeerTransport) negotiate(ctx context.Context, pc *webrtc.PeerConnection, p OpenParams) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after ice gathering")
	}
	answer, err := t.signaler.ExchangeSDP(ctx, local.SDP, p)
	if err != nil {
		return "", fmt.Errorf("sdp exchange: %w", err)
	}
	if answer == "" {
		return "", protocol.ErrMissingSDP
	}
	return answer, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *PeerTransport) readRemoteAudio(remote *webrtc.TrackRemote) {
	codec := remote.Codec().MimeType
	sink := t.opts.RemoteAudio
	if codec != webrtc.MimeTypePCMU {
		t.logger.Warn("remote audio codec not decodable, discarding track", "codec", codec)
		sink = nil
	}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if sink == nil || len(pkt.Payload) == 0 {
			continue
		}
		pcm := make([]int16, len(pkt.Payload))
		for i, b := range pkt.Payload {
			pcm[i] = audio.MuLawDecode(b)
		}
		if err := sink.Enqueue(audio.ResamplePCM16(pcm, pcmuSampleRate, t.opts.SampleRate)); err != nil {
			t.logger.Warn("remote audio enqueue failed", "error", err)
		}
	}
}

func (t *PeerTransport) Send(_ context.Context, ev protocol.ClientEvent) error {
	raw, err := protocol.Marshal(ev)
	if err != nil {
		return err
	}
	t.mu.Lock()
	dc, open, closed := t.dc, t.dcOpen, t.closed
	t.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case dc == nil:
		return ErrNotOpen
	case !open:
		return ErrDegraded
	}
	if err := dc.SendText(string(raw)); err != nil {
		return fmt.Errorf("send %s: %w", ev.EventType(), err)
	}
	return nil
}

// SendAudio resamples frame to 8 kHz and writes 20 ms µ-law samples to the
// local track, carrying any remainder into the next call.
func (t *PeerTransport) SendAudio(_ context.Context, frame []float32) error {
	t.mu.Lock()
	track, closed := t.track, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if track == nil {
		return ErrNotOpen
	}

	down := audio.ResamplePCM16(audio.FloatToPCM16(frame), t.opts.SampleRate, pcmuSampleRate)

	t.audioMu.Lock()
	defer t.audioMu.Unlock()
	t.pending = append(t.pending, down...)
	off := 0
	for len(t.pending)-off >= pcmuFrameSamples {
		payload := audio.MuLawEncodeFrame(t.pending[off : off+pcmuFrameSamples])
		off += pcmuFrameSamples
		if err := track.WriteSample(media.Sample{Data: payload, Duration: pcmuFrameDuration}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}
	}
	n := copy(t.pending, t.pending[off:])
	t.pending = t.pending[:n]
	return nil
}

// Close releases the signaling socket, then the data channel, then the
// peer connection. It is idempotent and never fires OnClose.
func (t *PeerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pc, dc := t.pc, t.dc
	t.pc, t.dc, t.track = nil, nil, nil
	t.dcOpen = false
	t.mu.Unlock()

	t.silence()
	var errs []error
	if t.control != nil {
		errs = append(errs, t.control.Close())
	}
	if dc != nil {
		errs = append(errs, dc.Close())
	}
	if pc != nil {
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}
