package core

import (
	"context"
	"errors"

	"github.com/dkeye/voicebridge/internal/codec"
	"github.com/dkeye/voicebridge/internal/domain"
)

// Connection-level failures. Each of them ends the affected call only.
var (
	ErrCredential   = errors.New("room credential")
	ErrRoomJoin     = errors.New("room join")
	ErrRoomLost     = errors.New("room connection lost")
	ErrStreamClosed = errors.New("stream closed")
)

// Frame-level failures on the room side. The frame is dropped.
var (
	ErrNotReady  = errors.New("room not ready")
	ErrQueueFull = errors.New("publish queue full")
)

// ErrBackpressure is returned when the phone leg could not take a frame in time.
var ErrBackpressure = errors.New("backpressure")

// Subscription is a handler registration. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// RoomClient is one participant's connection to a media room.
// Owned by a single call session; the session must Disconnect() it.
type RoomClient interface {
	// Publish hands one 16 kHz mono frame to the published track without blocking.
	Publish(frame codec.RoomFrame) error
	// OnRemoteAudio receives frames from the first subscribed remote audio track.
	OnRemoteAudio(fn func(codec.RoomFrame)) Subscription
	// OnDisconnect is called once if the room drops the connection.
	OnDisconnect(fn func(error)) Subscription
	Disconnect()
}

// RoomConnector joins rooms. Connect returns only once the client is ready for audio.
type RoomConnector interface {
	Connect(ctx context.Context, room domain.RoomName, identity domain.Identity) (RoomClient, error)
}

// StreamSender abstracts the phone leg's outbound socket.
// Owned by the adapter; the adapter must Close() it.
type StreamSender interface {
	// Send blocks until the frame is queued or ctx is done.
	Send(ctx context.Context, data []byte) error
	Connected() bool
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Cancel() { f() }
