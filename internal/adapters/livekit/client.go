package livekit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	media "github.com/livekit/media-sdk"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/voicebridge/internal/codec"
	"github.com/dkeye/voicebridge/internal/core"
)

// sampleSink is the write side of the published track.
type sampleSink interface {
	WriteSample(media.PCM16Sample) error
}

// Client is one phone participant in a LiveKit room: a single published
// microphone track and one bound remote audio track.
// It implements core.RoomClient.
type Client struct {
	logger zerolog.Logger

	room  *lksdk.Room
	track *lkmedia.PCMLocalTrack
	queue chan media.PCM16Sample

	mu     sync.Mutex
	remote remoteBinding

	audio *handlers[codec.RoomFrame]
	lost  *handlers[error]

	ready     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ core.RoomClient = (*Client)(nil)

func newClient(logger zerolog.Logger, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Client{
		logger: logger,
		queue:  make(chan media.PCM16Sample, queueSize),
		audio:  newHandlers[codec.RoomFrame](),
		lost:   newHandlers[error](),
		done:   make(chan struct{}),
	}
}

func (c *Client) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnDisconnected:         c.onDisconnected,
		OnParticipantConnected: c.onParticipantConnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   c.onTrackSubscribed,
			OnTrackUnsubscribed: c.onTrackUnsubscribed,
		},
	}
}

func (c *Client) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	c.logger.Info().Str("participant", string(rp.Identity())).Msg("participant connected")
}

func (c *Client) onDisconnected() {
	if c.closed.Load() {
		return
	}
	c.ready.Store(false)
	c.logger.Warn().Msg("room disconnected")
	c.lost.emit(core.ErrRoomLost)
}

// onTrackSubscribed wires a remote audio track to the audio handlers when
// no other track is bound.
func (c *Client) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	sid := string(pub.SID())
	logger := c.logger.With().
		Str("participant", string(rp.Identity())).
		Str("track_sid", sid).
		Logger()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	if !c.remote.wants(track.Kind()) {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			logger.Debug().Str("bound_sid", c.remote.sid).Msg("remote audio already bound, ignoring track")
		}
		return
	}

	remote, err := lkmedia.NewPCMRemoteTrack(track, &remoteWriter{c: c},
		lkmedia.WithTargetSampleRate(codec.RoomRate),
		lkmedia.WithTargetChannels(1),
	)
	if err != nil {
		logger.Error().Err(err).Msg("remote pcm track")
		return
	}
	c.remote.bind(sid, remote)
	logger.Info().Msg("remote audio subscribed")
}

// onTrackUnsubscribed frees the binding so the next audio track, for example
// from a participant that rejoined, can take over.
func (c *Client) onTrackUnsubscribed(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	c.mu.Lock()
	released := c.remote.release(string(pub.SID()))
	c.mu.Unlock()
	if released == nil {
		return
	}
	released.Close()
	c.logger.Info().
		Str("participant", string(rp.Identity())).
		Str("track_sid", string(pub.SID())).
		Msg("remote audio unsubscribed")
}

// start launches the writer that feeds the publish queue into sink.
func (c *Client) start(sink sampleSink) {
	go c.runWriter(sink)
	c.ready.Store(true)
}

// runWriter hands samples to sink no faster than real time. The track
// buffers without limit, so the queue must be the only backlog.
func (c *Client) runWriter(sink sampleSink) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var next time.Time
	for {
		var s media.PCM16Sample
		select {
		case <-c.done:
			return
		case s = <-c.queue:
		}

		if wait := time.Until(next); wait > 0 {
			timer.Reset(wait)
			select {
			case <-c.done:
				return
			case <-timer.C:
			}
		}
		if err := sink.WriteSample(s); err != nil {
			c.logger.Debug().Err(err).Msg("write sample")
		}

		now := time.Now()
		if next.Before(now) {
			next = now
		}
		next = next.Add(sampleDuration(len(s)))
	}
}

func sampleDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / codec.RoomRate
}

// Publish queues one 16 kHz mono frame. Frames are dropped, never
// buffered beyond the queue, when the client is not ready or the queue is full.
func (c *Client) Publish(frame codec.RoomFrame) error {
	if !c.ready.Load() || c.closed.Load() {
		return core.ErrNotReady
	}
	if frame.SampleRate != codec.RoomRate || frame.Channels != 1 {
		return &codec.FrameError{
			Op:  "publish",
			Err: fmt.Errorf("%w: %d Hz x%d", codec.ErrUnsupportedRate, frame.SampleRate, frame.Channels),
		}
	}

	sample := make(media.PCM16Sample, len(frame.Samples))
	copy(sample, frame.Samples)
	select {
	case c.queue <- sample:
		return nil
	default:
		return core.ErrQueueFull
	}
}

func (c *Client) OnRemoteAudio(fn func(codec.RoomFrame)) core.Subscription {
	return c.audio.add(fn)
}

func (c *Client) OnDisconnect(fn func(error)) core.Subscription {
	return c.lost.add(fn)
}

// Disconnect releases the room and both tracks. Safe to call more than once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.ready.Store(false)
		close(c.done)
		c.audio.clear()
		c.lost.clear()

		c.mu.Lock()
		remote := c.remote.reset()
		c.mu.Unlock()
		if remote != nil {
			remote.Close()
		}

		if c.track != nil {
			c.track.Close()
		}
		if c.room != nil {
			c.room.Disconnect()
		}
		c.logger.Info().Msg("room client closed")
	})
}

// remoteWriter receives decoded 16 kHz mono PCM from the SDK.
type remoteWriter struct {
	c *Client
}

func (w *remoteWriter) WriteSample(sample media.PCM16Sample) error {
	if len(sample) == 0 || w.c.closed.Load() {
		return nil
	}
	samples := make([]int16, len(sample))
	copy(samples, sample)
	w.c.audio.emit(codec.RoomFrame{Samples: samples, SampleRate: codec.RoomRate, Channels: 1})
	return nil
}

func (w *remoteWriter) String() string  { return "voicebridge-remote" }
func (w *remoteWriter) SampleRate() int { return codec.RoomRate }
func (w *remoteWriter) Close() error    { return nil }
