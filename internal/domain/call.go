// Package domain contains call identifiers without logic, just meta-data
package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// ShortIDLen is how much of a call id goes into room and participant names.
	ShortIDLen = 8

	roomPrefix     = "phone-call-"
	identityPrefix = "phone-"
	fallbackPrefix = "call-"
)

type (
	CallID   string
	StreamID string
	RoomName string
	Identity string
)

// Call holds the identifiers of one phone call.
type Call struct {
	ID       CallID
	StreamID StreamID
	Room     RoomName
	Identity Identity
}

// NewCall derives room and participant names from the call id.
// An empty callSID gets a generated fallback id.
func NewCall(callSID, streamSID string) *Call {
	id := CallID(strings.TrimSpace(callSID))
	if id == "" {
		id = FallbackCallID()
	}
	return &Call{
		ID:       id,
		StreamID: StreamID(streamSID),
		Room:     RoomFor(id),
		Identity: IdentityFor(id),
	}
}

func FallbackCallID() CallID {
	return CallID(fallbackPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:ShortIDLen])
}

func (id CallID) Short() string {
	if len(id) <= ShortIDLen {
		return string(id)
	}
	return string(id[:ShortIDLen])
}

func RoomFor(id CallID) RoomName {
	return RoomName(roomPrefix + id.Short())
}

func IdentityFor(id CallID) Identity {
	return Identity(identityPrefix + id.Short())
}

// DisplayName is the participant name shown to other room members.
func (i Identity) DisplayName() string {
	return "Phone Call " + string(i)
}
