package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/codec"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
)

const trackName = "microphone"

type ConnectorConfig struct {
	URL string
	// Warmup is how long to wait after publishing before audio is considered reliable.
	Warmup         time.Duration
	ConnectTimeout time.Duration
	PublishQueue   int
}

// Connector joins LiveKit rooms as a phone participant.
// It implements core.RoomConnector.
type Connector struct {
	cfg    ConnectorConfig
	tokens *TokenIssuer
}

var _ core.RoomConnector = (*Connector)(nil)

func NewConnector(cfg ConnectorConfig, tokens *TokenIssuer) *Connector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Connector{cfg: cfg, tokens: tokens}
}

// Connect mints a credential, joins room, publishes a 16 kHz mono microphone
// track and waits out the warm-up before returning a ready client.
func (c *Connector) Connect(ctx context.Context, room domain.RoomName, identity domain.Identity) (core.RoomClient, error) {
	logger := log.With().
		Str("module", "livekit").
		Str("room", string(room)).
		Str("identity", string(identity)).
		Logger()

	token, err := c.tokens.Issue(room, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCredential, err)
	}

	client := newClient(logger, c.cfg.PublishQueue)
	lkRoom, err := c.join(ctx, token, client.callback())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrRoomJoin, room, err)
	}
	client.room = lkRoom
	logger.Info().Msg("joined room")

	track, err := lkmedia.NewPCMLocalTrack(codec.RoomRate, 1, nil)
	if err != nil {
		client.Disconnect()
		return nil, fmt.Errorf("%w: pcm track: %w", core.ErrRoomJoin, err)
	}
	client.track = track

	pub, err := lkRoom.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   trackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		client.Disconnect()
		return nil, fmt.Errorf("%w: publish: %w", core.ErrRoomJoin, err)
	}
	logger.Info().Str("track_sid", string(pub.SID())).Msg("published microphone track")

	if c.cfg.Warmup > 0 {
		timer := time.NewTimer(c.cfg.Warmup)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			client.Disconnect()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	client.start(track)
	logger.Info().Msg("room ready for audio")
	return client, nil
}

// join connects with a timeout guard; a room that arrives after the guard
// fired is disconnected right away.
func (c *Connector) join(ctx context.Context, token string, cb *lksdk.RoomCallback) (*lksdk.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		room *lksdk.Room
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(c.cfg.URL, token, cb, lksdk.WithAutoSubscribe(true))
		resCh <- result{room: r, err: err}
	}()

	select {
	case res := <-resCh:
		return res.room, res.err
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}
