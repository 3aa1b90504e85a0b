package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-parley/internal/metrics"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/protocol"
)

const (
	// EventsChannel is the data channel label the realtime endpoint expects.
	EventsChannel = "oai-events"

	opusRate      = 48000
	opusFrame     = 960 // 20ms at 48kHz
	opusFrameTime = 20 * time.Millisecond
	maxOpusPacket = 1275
)

// PeerConfig holds configuration for the WebRTC transport.
type PeerConfig struct {
	// ICEServers are STUN/TURN URLs.
	ICEServers []string

	// OpenTimeout bounds the wait for the events channel after signaling.
	OpenTimeout time.Duration

	// Sink plays the remote assistant track. Nil discards remote audio.
	Sink audioio.Sink

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultPeerConfig returns a PeerConfig with sensible defaults.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ICEServers:  []string{"stun:stun.l.google.com:19302"},
		OpenTimeout: 15 * time.Second,
		Logger:      slog.Default(),
	}
}

// PeerOption configures a Peer.
type PeerOption func(*PeerConfig)

// WithSink attaches a sink for remote audio.
func WithSink(s audioio.Sink) PeerOption {
	return func(c *PeerConfig) { c.Sink = s }
}

// WithICEServers overrides the ICE server list.
func WithICEServers(urls ...string) PeerOption {
	return func(c *PeerConfig) { c.ICEServers = urls }
}

// WithPeerLogger sets the logger.
func WithPeerLogger(l *slog.Logger) PeerOption {
	return func(c *PeerConfig) { c.Logger = l }
}

// Peer implements Transport over a WebRTC peer connection. Microphone audio
// is sent as an Opus track; control events use an ordered data channel.
// Peer failures are terminal.
type Peer struct {
	cfg    PeerConfig
	logger *slog.Logger

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	sessionKey string
	closing    bool
	cancel     context.CancelFunc

	status *statusCell
	events listeners[protocol.ServerEvent]
}

// NewPeer creates a WebRTC transport.
func NewPeer(opts ...PeerOption) *Peer {
	cfg := DefaultPeerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Peer{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transport.peer"),
		status: newStatusCell(),
	}
}

// Connect negotiates the peer connection and waits for the events channel.
func (p *Peer) Connect(ctx context.Context, src MediaSource, negotiate Negotiator) error {
	if negotiate == nil {
		return ErrNoNegotiator
	}
	if src == nil {
		return ErrNoMedia
	}
	if st := p.status.get(); st == StatusConnected || st == StatusConnecting {
		return ErrAlreadyConnected
	}

	life, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.closing = false
	p.cancel = cancel
	p.sessionKey = ""
	p.mu.Unlock()

	p.status.set(StatusConnecting)

	if err := p.connect(ctx, life, src, negotiate); err != nil {
		cancel()
		p.teardown()
		p.status.set(StatusFailed)
		return err
	}

	p.status.set(StatusConnected)
	p.logger.Info("connected", "session_key", p.SessionKey())
	return nil
}

func (p *Peer) connect(ctx, life context.Context, src MediaSource, negotiate Negotiator) error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return NewConnectionError("register codecs", err, false)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	var servers []webrtc.ICEServer
	if len(p.cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: p.cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return NewConnectionError("create peer connection", err, true)
	}
	p.mu.Lock()
	p.pc = pc
	p.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: 2},
		"audio",
		"parley-mic",
	)
	if err != nil {
		return NewConnectionError("create audio track", err, false)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return NewConnectionError("add audio track", err, false)
	}

	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return NewConnectionError("create opus encoder", err, false)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(EventsChannel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return NewConnectionError("create data channel", err, false)
	}
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(opened) })
	})
	dc.OnMessage(p.handleMessage)

	failed := make(chan struct{})
	var failOnce sync.Once
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Debug("ice state", "state", state.String())
		if state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed {
			return
		}
		failOnce.Do(func() { close(failed) })

		p.mu.Lock()
		closing := p.closing
		p.mu.Unlock()
		if !closing {
			p.logger.Warn("peer connection lost", "state", state.String())
			p.status.set(StatusFailed)
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go p.playRemote(life, remote)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return NewConnectionError("create offer", err, false)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return NewConnectionError("set local description", err, false)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return NewConnectionError("ice gathering", ctx.Err(), true)
	}

	answer, err := negotiate.Exchange(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return NewConnectionError("exchange sdp", err, IsRetryable(err))
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return NewConnectionError("set remote description", err, false)
	}
	p.mu.Lock()
	p.sessionKey = answer.SessionKey
	p.mu.Unlock()

	timeout := time.NewTimer(p.cfg.OpenTimeout)
	defer timeout.Stop()
	select {
	case <-opened:
	case <-failed:
		return NewConnectionError("ice failed before events channel opened", nil, true)
	case <-timeout.C:
		return NewConnectionError("events channel did not open", nil, true)
	case <-ctx.Done():
		return NewConnectionError("events channel", ctx.Err(), true)
	}

	if p.cfg.Sink != nil {
		if err := p.cfg.Sink.Start(life); err != nil {
			p.logger.Warn("sink start failed, remote audio will be dropped", "error", err)
		}
	}

	go p.pump(life, src.Stream(), track, enc)
	return nil
}

func (p *Peer) handleMessage(msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		return
	}
	ev, err := protocol.ParseServerEvent(msg.Data)
	if err != nil {
		metrics.MalformedFramesTotal.Inc()
		p.logger.Debug("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}
	p.events.emit(ev)
}

// pump encodes microphone PCM into 20ms Opus frames on the local track.
func (p *Peer) pump(ctx context.Context, in <-chan audioio.AudioChunk, track *webrtc.TrackLocalStaticSample, enc *opus.Encoder) {
	var pending []int16
	packet := make([]byte, maxOpusPacket)

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			samples := audioio.Downmix(chunk.Samples, chunk.Channels)
			pending = append(pending, audioio.Resample(samples, chunk.SampleRate, opusRate)...)

			for len(pending) >= opusFrame {
				n, err := enc.Encode(pending[:opusFrame], packet)
				pending = pending[opusFrame:]
				if err != nil {
					p.logger.Debug("opus encode failed", "error", err)
					continue
				}
				if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: opusFrameTime}); err != nil {
					p.logger.Debug("write sample failed", "error", err)
				}
			}
		}
	}
}

// playRemote decodes the assistant's Opus track into the sink.
func (p *Peer) playRemote(ctx context.Context, remote *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(opusRate, 1)
	if err != nil {
		p.logger.Error("create opus decoder", "error", err)
		return
	}

	// 120ms is the longest Opus frame.
	pcm := make([]int16, 5760)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if p.cfg.Sink == nil || len(pkt.Payload) == 0 {
			continue
		}

		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			p.logger.Debug("opus decode failed", "error", err)
			continue
		}

		rate := p.cfg.Sink.Config().SampleRate
		out := audioio.Resample(pcm[:n], opusRate, rate)
		chunk := audioio.AudioChunk{Samples: out, SampleRate: rate, Channels: 1}
		if err := p.cfg.Sink.Write(ctx, chunk); err != nil && ctx.Err() == nil {
			p.logger.Debug("sink write failed", "error", err)
		}
	}
}

// Send writes one client event to the events channel.
func (p *Peer) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()

	if dc == nil || p.status.get() != StatusConnected || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}

	data, err := ev.Bytes()
	if err != nil {
		return err
	}
	if err := dc.SendText(string(data)); err != nil {
		return NewConnectionError(fmt.Sprintf("send %s", ev.Type), err, true)
	}
	p.logger.Debug("sent event", "type", ev.Type, "event_id", ev.EventID)
	return nil
}

func (p *Peer) teardown() {
	p.mu.Lock()
	p.closing = true
	pc := p.pc
	p.pc, p.dc = nil, nil
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			p.logger.Debug("close peer connection", "error", err)
		}
	}
	if p.cfg.Sink != nil {
		_ = p.cfg.Sink.Clear()
		_ = p.cfg.Sink.Stop()
	}
}

// Disconnect closes the peer connection. Safe to call in any state.
func (p *Peer) Disconnect() error {
	p.mu.Lock()
	had := p.pc != nil
	p.mu.Unlock()

	p.teardown()
	if had {
		p.logger.Info("disconnected")
	}
	p.status.set(StatusDisconnected)
	return nil
}

// Status returns the current connection status.
func (p *Peer) Status() Status { return p.status.get() }

// Subscribe registers a server event handler.
func (p *Peer) Subscribe(h Handler) func() { return p.events.add(h) }

// OnStatus registers a status observer.
func (p *Peer) OnStatus(fn func(Status)) func() { return p.status.observers.add(fn) }

// SessionKey returns the call id assigned during signaling.
func (p *Peer) SessionKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionKey
}

// Kind returns KindPeer.
func (p *Peer) Kind() Kind { return KindPeer }

var _ Transport = (*Peer)(nil)
