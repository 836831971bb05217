package codec

import (
	"fmt"

	"github.com/zaf/g711"
)

// DecodeInbound expands μ-law bytes from the phone leg into 16 kHz PCM.
// The result always has exactly 2*len(ulaw) samples.
func DecodeInbound(ulaw []byte) (RoomFrame, error) {
	if len(ulaw) == 0 {
		return RoomFrame{}, frameErr("decode", fmt.Errorf("%w: empty payload", ErrMalformed))
	}
	if len(ulaw)%2 != 0 {
		return RoomFrame{}, frameErr("decode", fmt.Errorf("%w: odd length %d", ErrMalformed, len(ulaw)))
	}

	pcm8k := make([]int16, len(ulaw))
	for i, b := range ulaw {
		pcm8k[i] = g711.DecodeUlawFrame(b)
	}

	return RoomFrame{
		Samples:    Resample(pcm8k, TelephonyRate, RoomRate),
		SampleRate: RoomRate,
		Channels:   1,
	}, nil
}

// EncodeOutbound turns a room frame into μ-law bytes for the phone leg:
// mono downmix, rate conversion to 8 kHz, then companding.
func EncodeOutbound(f RoomFrame) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, frameErr("encode", err)
	}

	mono, err := Downmix(f.Samples, f.Channels)
	if err != nil {
		return nil, frameErr("encode", err)
	}
	pcm8k := Resample(mono, f.SampleRate, TelephonyRate)
	if len(pcm8k) == 0 {
		return nil, frameErr("encode", fmt.Errorf("%w: frame too short for %d Hz", ErrMalformed, f.SampleRate))
	}

	out := make([]byte, len(pcm8k))
	for i, s := range pcm8k {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out, nil
}
