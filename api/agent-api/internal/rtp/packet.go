// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_rtp carries call audio over RTP: packet parse/serialize,
// an adaptive jitter buffer for the receive path and a UDP session pump.
package internal_rtp

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// ErrMalformedPacket is returned for datagrams that are not valid RTP.
var ErrMalformedPacket = errors.New("malformed rtp packet")

// rtpHeaderSize is the fixed RTP header length without CSRCs or extensions.
const rtpHeaderSize = 12

// Packet is one RTP datagram with its arrival time, the unit the jitter
// buffer orders and the session sends.
type Packet struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PayloadType    uint8
	Marker         bool
	Payload        []byte
	ReceivedAt     time.Time
}

// ParsePacket unmarshals a datagram. Version must be 2 and the header
// complete; anything else is ErrMalformedPacket.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < rtpHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(data), rtpHeaderSize)
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if pkt.Version != 2 {
		return nil, fmt.Errorf("%w: version %d", ErrMalformedPacket, pkt.Version)
	}
	return &Packet{
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		PayloadType:    pkt.PayloadType,
		Marker:         pkt.Marker,
		Payload:        pkt.Payload,
	}, nil
}

// Serialize renders the packet to wire bytes.
func (p *Packet) Serialize() ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         p.Marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
		},
		Payload: p.Payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serializing rtp packet: %w", err)
	}
	return data, nil
}

// seqLess reports whether a comes before b in wrap-aware 16-bit order.
func seqLess(a, b uint16) bool {
	diff := (b - a) & 0xFFFF
	return 0 < diff && diff < 0x8000
}

// seqDiff returns a−b as a signed distance with wrap-around.
func seqDiff(a, b uint16) int {
	diff := int(a-b) & 0xFFFF
	if diff > 0x8000 {
		diff -= 0x10000
	}
	return diff
}
