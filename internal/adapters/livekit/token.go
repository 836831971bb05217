package livekit

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/dkeye/voicebridge/internal/domain"
)

var ErrNoAPIKey = errors.New("livekit api key or secret missing")

// TokenIssuer mints join credentials scoped to one room and one identity.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenIssuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

// Issue returns a signed JWT granting join, publish and subscribe on room.
func (t *TokenIssuer) Issue(room domain.RoomName, identity domain.Identity) (string, error) {
	if t.apiKey == "" || t.apiSecret == "" {
		return "", ErrNoAPIKey
	}
	canPublish, canSubscribe := true, true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         string(room),
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}
	return auth.NewAccessToken(t.apiKey, t.apiSecret).
		SetIdentity(string(identity)).
		SetName(identity.DisplayName()).
		SetValidFor(t.ttl).
		SetVideoGrant(grant).
		ToJWT()
}
