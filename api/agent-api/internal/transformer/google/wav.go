// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_transformer_google

import (
	"encoding/binary"
	"errors"
	"fmt"

	internal_codec "github.com/praxisvoice/api/agent-api/internal/audio/codec"
)

var (
	ErrNotWAV         = errors.New("payload is not a RIFF/WAVE file")
	ErrUnsupportedWAV = errors.New("unsupported wav layout")
)

// parseWAV extracts mono 16-bit linear PCM and its sample rate from a WAV
// container. Chunks other than "fmt " and "data" are skipped; chunk bodies
// are word-aligned per the RIFF rules.
func parseWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		sampleRate int
		haveFmt    bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, 0, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedWAV, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels := int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 || channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: format=%d channels=%d bits=%d",
					ErrUnsupportedWAV, format, channels, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt", ErrUnsupportedWAV)
			}
			pcm, err := internal_codec.NewL16LECodec(sampleRate).Decode(data[body : body+size])
			if err != nil {
				return nil, 0, err
			}
			return pcm, sampleRate, nil
		}
		if size%2 == 1 {
			size++
		}
		off = body + size
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
}
