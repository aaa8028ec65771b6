// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/praxisvoice/pkg/commons"
)

// Telephony audio codec layer. All wire formats used by the PBX, SIP trunks
// and provider media streams are normalized here to signed 16-bit PCM at the
// codec's native rate; rate conversion to the engine format happens in the
// pipeline on top.

// ErrUnsupportedCodec is returned for unknown codec names or payload types.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Codec names as used in configuration and SDP negotiation.
const (
	NamePCMU = "pcmu"
	NamePCMA = "pcma"
	NameG722 = "g722"
	NameL16  = "l16"
)

// Static RTP payload types per RFC 3551.
const (
	PayloadTypePCMU      uint8 = 0
	PayloadTypePCMA      uint8 = 8
	PayloadTypeG722      uint8 = 9
	PayloadTypeL16Stereo uint8 = 10
	PayloadTypeL16Mono   uint8 = 11
	// Dynamic payload types start here; mapping comes from SDP.
	PayloadTypeDynamicStart uint8 = 96
)

// Codec converts between a wire byte stream and linear PCM samples at the
// codec's native sample rate.
type Codec interface {
	Name() string
	// SampleRate is the native rate of the encoded stream in Hz.
	SampleRate() int
	// BytesPerSample is the wire size of one encoded sample.
	BytesPerSample() int
	Encode(pcm []int16) ([]byte, error)
	Decode(data []byte) ([]int16, error)
}

// SamplesPerFrame returns the sample count of one 20ms frame at rate.
func SamplesPerFrame(rate int) int {
	return rate * int(20*time.Millisecond/time.Millisecond) / 1000
}

// FrameBytes returns the wire size of one 20ms frame for c.
func FrameBytes(c Codec) int {
	return SamplesPerFrame(c.SampleRate()) * c.BytesPerSample()
}

// Registry resolves codecs by name and by static RTP payload type.
type Registry struct {
	byName        map[string]Codec
	byPayloadType map[uint8]Codec
}

// NewRegistry builds the registry with all supported codecs. G.722 has no
// proven pure-Go implementation available, so it is registered as a
// transparent 16 kHz linear codec; the wire payload type stays negotiable
// and a warning is emitted once here.
func NewRegistry(logger commons.Logger) *Registry {
	mu := NewMuLawCodec()
	a := NewALawCodec()
	g722 := NewG722Codec()
	l16 := NewL16Codec(16000)

	logger.Warnw("g722 registered as transparent l16 passthrough, no sub-band transcoding",
		"codec", NameG722)

	r := &Registry{
		byName: map[string]Codec{
			NamePCMU: mu,
			NamePCMA: a,
			NameG722: g722,
			NameL16:  l16,
		},
		byPayloadType: map[uint8]Codec{
			PayloadTypePCMU:    mu,
			PayloadTypePCMA:    a,
			PayloadTypeG722:    g722,
			PayloadTypeL16Mono: l16,
		},
	}
	return r
}

// ByName resolves a codec by its configuration name.
func (r *Registry) ByName(name string) (Codec, error) {
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
}

// ByPayloadType resolves a codec by its static RTP payload type.
func (r *Registry) ByPayloadType(pt uint8) (Codec, error) {
	if c, ok := r.byPayloadType[pt]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: payload type %d", ErrUnsupportedCodec, pt)
}
