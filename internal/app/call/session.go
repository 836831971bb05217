// Package call bridges one phone call's media stream with one room participant.
package call

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/voicebridge/internal/codec"
	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
	"github.com/dkeye/voicebridge/internal/protocol"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosed     State = "closed"
)

const (
	eventStart = "start"
	eventReady = "ready"
	eventClose = "close"
)

// logEvery is how often the frame counters are logged.
const logEvery = 100

var (
	ErrHangUp         = errors.New("phone leg too slow, hanging up")
	ErrNotConnecting  = errors.New("session is not connecting")
	ErrAlreadyRunning = errors.New("connect already running")
	ErrClosed         = errors.New("session closed")
)

type Options struct {
	ConnectAttempts int
	RetryDelay      time.Duration
	SendTimeout     time.Duration
	DownlinkBuffer  int
	Policy          Policy
	Metrics         *metrics.Metrics
}

func OptionsFromConfig(cfg config.BridgeConfig, m *metrics.Metrics) Options {
	return Options{
		ConnectAttempts: cfg.ConnectAttempts,
		RetryDelay:      cfg.RetryDelay,
		SendTimeout:     cfg.SendTimeout,
		DownlinkBuffer:  cfg.DownlinkBuffer,
		Policy:          DropPolicy{MaxDrops: cfg.MaxSendDrops},
		Metrics:         m,
	}
}

func (o *Options) withDefaults() {
	if o.ConnectAttempts < 1 {
		o.ConnectAttempts = 1
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 50 * time.Millisecond
	}
	if o.DownlinkBuffer <= 0 {
		o.DownlinkBuffer = 50
	}
	if o.Policy == nil {
		o.Policy = DropPolicy{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop()
	}
}

// Session is the state of one phone call: idle until the stream announces
// the call, connecting while it joins the room, active while audio flows,
// closed afterwards. Phone-to-room audio runs on the caller's goroutine;
// room-to-phone audio runs on a goroutine owned by the session.
type Session struct {
	opts      Options
	connector core.RoomConnector
	sender    core.StreamSender
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup

	mu     sync.Mutex
	fsm    *fsm.FSM
	call   *domain.Call
	room   core.RoomClient
	subs   []core.Subscription
	logger zerolog.Logger
	err    error

	downlink chan codec.RoomFrame
	lost     chan error

	connecting atomic.Bool
	uplinkN    atomic.Uint64
	downlinkN  atomic.Uint64
	drops      int

	startedAt time.Time
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession returns an idle session. Cancelling ctx closes it.
func NewSession(ctx context.Context, connector core.RoomConnector, sender core.StreamSender, opts Options) *Session {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:      opts,
		connector: connector,
		sender:    sender,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With().Str("module", "call").Logger(),
		downlink:  make(chan codec.RoomFrame, opts.DownlinkBuffer),
		lost:      make(chan error, 1),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventReady, Src: []string{string(StateConnecting)}, Dst: string(StateActive)},
			{Name: eventClose, Src: []string{string(StateIdle), string(StateConnecting), string(StateActive)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.metrics.Transition(e.Src, e.Dst)
			},
		},
	)
	s.metrics.SessionOpened()

	s.tasks.Go(func() {
		select {
		case <-ctx.Done():
			s.Close(ctx.Err())
		case <-s.done:
		}
	})
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.fsm.Current())
}

// Call returns the call identifiers, nil before start.
func (s *Session) Call() *domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call == nil {
		return nil
	}
	c := *s.call
	return &c
}

// SocketConnected reports whether the phone side can still take frames.
func (s *Session) SocketConnected() bool {
	return s.sender.Connected()
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the reason the session closed; nil for a normal stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// HandleStart records the call ids and starts joining the room.
// Only the first start of a session has an effect.
func (s *Session) HandleStart(callSID, streamSID string) {
	s.mu.Lock()
	if state := s.fsm.Current(); state != string(StateIdle) {
		logger := s.logger
		s.mu.Unlock()
		logger.Warn().Str("state", state).Msg("start ignored")
		return
	}
	c := domain.NewCall(callSID, streamSID)
	s.call = c
	s.logger = s.logger.With().
		Str("call_sid", string(c.ID)).
		Str("stream_sid", string(c.StreamID)).
		Str("room", string(c.Room)).
		Logger()
	err := s.fsm.Event(context.Background(), eventStart)
	logger := s.logger
	s.mu.Unlock()
	if err != nil {
		logger.Error().Err(err).Msg("start transition")
		return
	}

	logger.Info().Str("identity", string(c.Identity)).Msg("call started")
	s.tasks.Go(func() {
		if err := s.Connect(s.ctx); err != nil {
			logger.Debug().Err(err).Msg("connect task ended")
		}
	})
}

// Connect joins the room with bounded retries and activates the session.
// Credential errors are not retried. On failure the session is closed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	state, c, logger := s.fsm.Current(), s.call, s.logger
	s.mu.Unlock()
	if !s.connecting.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if state != string(StateConnecting) {
		s.connecting.Store(false)
		return ErrNotConnecting
	}

	var (
		room core.RoomClient
		err  error
	)
	for attempt := 1; attempt <= s.opts.ConnectAttempts; attempt++ {
		room, err = s.connector.Connect(ctx, c.Room, c.Identity)
		s.metrics.RoomConnect(err == nil)
		if err == nil {
			break
		}
		if errors.Is(err, core.ErrCredential) || ctx.Err() != nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("room connect attempt failed")
		if attempt < s.opts.ConnectAttempts && !sleepCtx(ctx, s.opts.RetryDelay) {
			break
		}
	}
	if err != nil {
		err = fmt.Errorf("connect %s: %w", c.Room, err)
		s.Close(err)
		return err
	}
	return s.activate(room)
}

func (s *Session) activate(room core.RoomClient) error {
	s.mu.Lock()
	if s.fsm.Current() != string(StateConnecting) {
		s.mu.Unlock()
		room.Disconnect()
		return ErrClosed
	}
	s.room = room
	s.subs = append(s.subs,
		room.OnRemoteAudio(s.enqueueDownlink),
		room.OnDisconnect(s.roomLost),
	)
	s.tasks.Go(s.runDownlink)
	err := s.fsm.Event(context.Background(), eventReady)
	logger := s.logger
	s.mu.Unlock()
	if err != nil {
		return err
	}
	logger.Info().Msg("bridge active")
	return nil
}

// HandleMedia forwards one base64 μ-law chunk to the room. Chunks that
// arrive before the session is active, or that fail to decode or publish,
// are dropped.
func (s *Session) HandleMedia(payload string) {
	s.mu.Lock()
	state, room, logger := s.fsm.Current(), s.room, s.logger
	s.mu.Unlock()
	if state != string(StateActive) {
		s.metrics.Frame(metrics.Uplink, metrics.Dropped)
		return
	}

	ulaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		logger.Debug().Err(err).Msg("bad media payload")
		s.metrics.Frame(metrics.Uplink, metrics.Failed)
		return
	}
	frame, err := codec.DecodeInbound(ulaw)
	if err != nil {
		logger.Debug().Err(err).Msg("decode inbound")
		s.metrics.Frame(metrics.Uplink, metrics.Failed)
		return
	}
	if err := room.Publish(frame); err != nil {
		logger.Debug().Err(err).Msg("publish dropped")
		s.metrics.Frame(metrics.Uplink, metrics.Dropped)
		return
	}
	s.metrics.Frame(metrics.Uplink, metrics.Forwarded)
	if n := s.uplinkN.Add(1); n%logEvery == 0 {
		logger.Debug().Uint64("frames", n).Msg("phone to room")
	}
}

func (s *Session) HandleStop() {
	s.Close(nil)
}

func (s *Session) enqueueDownlink(f codec.RoomFrame) {
	select {
	case s.downlink <- f:
	default:
		s.metrics.Frame(metrics.Downlink, metrics.Dropped)
	}
}

func (s *Session) roomLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

func (s *Session) runDownlink() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-s.lost:
			s.Close(err)
			return
		case f := <-s.downlink:
			if !s.forward(f) {
				return
			}
		}
	}
}

// forward sends one room frame to the phone. It reports false once the
// downlink should stop.
func (s *Session) forward(f codec.RoomFrame) bool {
	s.mu.Lock()
	streamSID, logger := string(s.call.StreamID), s.logger
	s.mu.Unlock()

	if !s.SocketConnected() {
		s.metrics.Frame(metrics.Downlink, metrics.Dropped)
		s.Close(core.ErrStreamClosed)
		return false
	}

	ulaw, err := codec.EncodeOutbound(f)
	if err != nil {
		logger.Debug().Err(err).Msg("encode outbound")
		s.metrics.Frame(metrics.Downlink, metrics.Failed)
		return true
	}
	msg, err := protocol.MediaMessage(codec.TelephonyFrame{StreamID: streamSID, Payload: ulaw})
	if err != nil {
		logger.Debug().Err(err).Msg("media message")
		s.metrics.Frame(metrics.Downlink, metrics.Failed)
		return true
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.SendTimeout)
	err = s.sender.Send(ctx, msg)
	cancel()
	switch {
	case err == nil:
		s.drops = 0
		s.metrics.Frame(metrics.Downlink, metrics.Forwarded)
		if n := s.downlinkN.Add(1); n%logEvery == 0 {
			logger.Debug().Uint64("frames", n).Msg("room to phone")
		}
		return true
	case errors.Is(err, core.ErrStreamClosed):
		s.metrics.Frame(metrics.Downlink, metrics.Dropped)
		s.Close(err)
		return false
	case s.ctx.Err() != nil:
		return false
	}

	s.drops++
	s.metrics.Frame(metrics.Downlink, metrics.Dropped)
	logger.Debug().Err(err).Int("consecutive", s.drops).Msg("downlink frame dropped")
	if s.opts.Policy.OnSendDrop(s.drops) == HangUp {
		s.Close(ErrHangUp)
		return false
	}
	return true
}

// Close tears the session down once: the room is released, both audio
// directions stop and Done is closed. reason is nil for a normal stop.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		from := s.fsm.Current()
		if err := s.fsm.Event(context.Background(), eventClose); err != nil {
			s.logger.Debug().Err(err).Msg("close transition")
		}
		s.err = reason
		room, subs, logger := s.room, s.subs, s.logger
		s.room, s.subs = nil, nil
		s.mu.Unlock()

		s.cancel()
		for _, sub := range subs {
			sub.Cancel()
		}
		if room != nil {
			room.Disconnect()
		}
		s.metrics.SessionClosed(time.Since(s.startedAt).Seconds())

		ev := logger.Info()
		if reason != nil && !errors.Is(reason, context.Canceled) {
			ev = logger.Warn().Err(reason)
		}
		ev.Str("from", from).
			Uint64("uplink_frames", s.uplinkN.Load()).
			Uint64("downlink_frames", s.downlinkN.Load()).
			Msg("call closed")
		close(s.done)
	})
}

// Wait blocks until the session's goroutines have exited. It only returns
// after Close or after the parent context is cancelled.
func (s *Session) Wait() {
	if r := s.tasks.WaitAndRecover(); r != nil {
		s.mu.Lock()
		logger := s.logger
		s.mu.Unlock()
		logger.Error().Str("panic", fmt.Sprint(r.Value)).Msg("call task panicked")
		s.Close(r.AsError())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
