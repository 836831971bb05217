// Package protocol holds the telephony media stream wire format:
// one JSON object per websocket text frame.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/voicebridge/internal/codec"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

var ErrNoEvent = errors.New("message has no event")

type Message struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Version        string `json:"version,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	DTMF  *DTMF  `json:"dtmf,omitempty"`
}

type Start struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media carries base64 μ-law audio.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Stop struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

type Mark struct {
	Name string `json:"name"`
}

type DTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// ParseMessage decodes one frame. Malformed JSON and frames without an
// event are errors; unknown events are returned for the caller to skip.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse stream message: %w", err)
	}
	if m.Event == "" {
		return nil, ErrNoEvent
	}
	return &m, nil
}

// CallSID is the call id announced by a start event. The custom
// "callSid" parameter set by the webhook is used when the field is empty.
func (m *Message) CallSID() string {
	if m.Start == nil {
		return ""
	}
	if m.Start.CallSID != "" {
		return m.Start.CallSID
	}
	return m.Start.CustomParameters["callSid"]
}

func (m *Message) StreamID() string {
	if m.Start != nil && m.Start.StreamSID != "" {
		return m.Start.StreamSID
	}
	return m.StreamSID
}

// MediaMessage builds the outbound media frame carrying f.
func MediaMessage(f codec.TelephonyFrame) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMedia,
		StreamSID: f.StreamID,
		Media:     &Media{Payload: base64.StdEncoding.EncodeToString(f.Payload)},
	})
}
