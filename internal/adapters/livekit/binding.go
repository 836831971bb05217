package livekit

import "github.com/pion/webrtc/v4"

type remoteTrack interface {
	Close()
}

// remoteBinding records which subscribed track feeds the phone. Only one
// audio track is bound at a time; the caller holds the client lock.
type remoteBinding struct {
	sid   string
	track remoteTrack
}

func (b *remoteBinding) bound() bool { return b.track != nil }

// wants reports whether a newly subscribed track of kind should be bound.
func (b *remoteBinding) wants(kind webrtc.RTPCodecType) bool {
	return kind == webrtc.RTPCodecTypeAudio && !b.bound()
}

func (b *remoteBinding) bind(sid string, t remoteTrack) {
	b.sid, b.track = sid, t
}

// release unbinds and returns the track when sid is the bound one.
func (b *remoteBinding) release(sid string) remoteTrack {
	if !b.bound() || b.sid != sid {
		return nil
	}
	return b.reset()
}

func (b *remoteBinding) reset() remoteTrack {
	t := b.track
	b.sid, b.track = "", nil
	return t
}
