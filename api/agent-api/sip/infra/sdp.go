// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package sip_infra

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec is an audio codec as it appears in SDP. ClockRate is the RTP
// timestamp rate, which for G.722 is 8000 even though the codec samples
// at 16 kHz (RFC 3551 preserves that historical mistake).
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
}

var (
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000}
	CodecG722 = Codec{Name: "G722", PayloadType: 9, ClockRate: 8000}

	// CodecTelephoneEvent is RFC 4733 DTMF. It rides along in every offer
	// and answer we produce: Asterisk, FreeSWITCH and most softphones
	// report "remote codecs: None" and refuse media when the m= line
	// lacks it, even with matching audio codecs.
	CodecTelephoneEvent = Codec{Name: "telephone-event", PayloadType: 101, ClockRate: 8000}
)

// SupportedCodecs lists the audio codecs we can actually transcode,
// in local preference order.
var SupportedCodecs = []Codec{CodecPCMU, CodecPCMA, CodecG722}

// Direction is the RFC 3264 media direction attribute.
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// MediaInfo is the audio description parsed out of a remote SDP body.
type MediaInfo struct {
	ConnectionIP string
	AudioPort    int
	PayloadTypes []uint8
	// Codec is the first remote payload type we support, PCMU when
	// nothing matches.
	Codec     Codec
	Direction Direction
}

// OnHold reports whether the remote party parked us: direction
// sendonly/inactive or a zeroed connection address. Twilio and Telnyx
// signal hold with the direction attribute, Asterisk and FreeSWITCH
// additionally use the 0.0.0.0 form.
func (m *MediaInfo) OnHold() bool {
	return m.Direction == DirectionSendOnly ||
		m.Direction == DirectionInactive ||
		m.ConnectionIP == "0.0.0.0"
}

// Description holds the fields stamped into an SDP offer or answer.
type Description struct {
	SessionName string
	LocalIP     string
	RTPPort     int
	Codecs      []Codec
	PTime       int
	Direction   Direction
}

// Offer builds a description advertising every supported codec.
func Offer(localIP string, rtpPort int) Description {
	return Description{
		SessionName: "PraxisVoice Agent",
		LocalIP:     localIP,
		RTPPort:     rtpPort,
		Codecs:      SupportedCodecs,
		PTime:       20,
		Direction:   DirectionSendRecv,
	}
}

// Answer builds a description pinned to the one negotiated codec.
// Answers must never re-advertise the full list: Asterisk and
// FreeSWITCH read a multi-codec answer as a fresh offer.
func Answer(localIP string, rtpPort int, codec Codec) Description {
	return Description{
		SessionName: "PraxisVoice Agent",
		LocalIP:     localIP,
		RTPPort:     rtpPort,
		Codecs:      []Codec{codec},
		PTime:       20,
		Direction:   DirectionSendRecv,
	}
}

// Marshal renders the description as an SDP body, CRLF line endings per
// RFC 4566. telephone-event is appended to the m= line and given its
// rtpmap and fmtp whenever the codec list does not already carry it.
func (d Description) Marshal() string {
	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	fmt.Fprintf(&sb, "o=praxisvoice 0 0 IN IP4 %s\r\n", d.LocalIP)
	fmt.Fprintf(&sb, "s=%s\r\n", d.SessionName)
	fmt.Fprintf(&sb, "c=IN IP4 %s\r\n", d.LocalIP)
	sb.WriteString("t=0 0\r\n")

	hasTelEvent := false
	pts := make([]string, 0, len(d.Codecs)+1)
	for _, c := range d.Codecs {
		pts = append(pts, strconv.Itoa(int(c.PayloadType)))
		if c.PayloadType == CodecTelephoneEvent.PayloadType {
			hasTelEvent = true
		}
	}
	if !hasTelEvent {
		pts = append(pts, strconv.Itoa(int(CodecTelephoneEvent.PayloadType)))
	}
	fmt.Fprintf(&sb, "m=audio %d RTP/AVP %s\r\n", d.RTPPort, strings.Join(pts, " "))

	for _, c := range d.Codecs {
		fmt.Fprintf(&sb, "a=rtpmap:%d %s/%d\r\n", c.PayloadType, c.Name, c.ClockRate)
	}
	if !hasTelEvent {
		fmt.Fprintf(&sb, "a=rtpmap:%d %s/%d\r\n",
			CodecTelephoneEvent.PayloadType, CodecTelephoneEvent.Name, CodecTelephoneEvent.ClockRate)
		fmt.Fprintf(&sb, "a=fmtp:%d 0-16\r\n", CodecTelephoneEvent.PayloadType)
	}
	fmt.Fprintf(&sb, "a=ptime:%d\r\n", d.PTime)

	dir := d.Direction
	if dir == "" {
		dir = DirectionSendRecv
	}
	fmt.Fprintf(&sb, "a=%s\r\n", dir)
	return sb.String()
}

// ParseSDP extracts the audio media description from an SDP body. Only
// the first m=audio section is considered; video and application media
// are ignored.
func ParseSDP(body []byte) (*MediaInfo, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty SDP body")
	}

	// Direction defaults to sendrecv when absent, per RFC 3264.
	info := &MediaInfo{Direction: DirectionSendRecv}

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
		switch {
		case strings.HasPrefix(line, "c=IN IP4 "):
			info.ConnectionIP = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))

		case strings.HasPrefix(line, "m=audio "):
			// m=audio 10000 RTP/AVP 0 8 101
			fields := strings.Fields(line)
			if len(fields) < 4 {
				continue
			}
			if port, err := strconv.Atoi(fields[1]); err == nil {
				info.AudioPort = port
			}
			for _, f := range fields[3:] {
				pt, err := strconv.Atoi(f)
				if err == nil && pt >= 0 && pt <= 127 {
					info.PayloadTypes = append(info.PayloadTypes, uint8(pt))
				}
			}

		case line == "a=sendrecv":
			info.Direction = DirectionSendRecv
		case line == "a=sendonly":
			info.Direction = DirectionSendOnly
		case line == "a=recvonly":
			info.Direction = DirectionRecvOnly
		case line == "a=inactive":
			info.Direction = DirectionInactive
		}
	}

	info.Codec = NegotiateCodec(info.PayloadTypes)
	return info, nil
}

// NegotiateCodec picks the first remote payload type we support,
// honoring the remote's preference order and skipping telephone-event.
// PCMU is the fallback: every SIP endpoint speaks it whether its SDP
// says so or not.
func NegotiateCodec(remote []uint8) Codec {
	for _, pt := range remote {
		if pt == CodecTelephoneEvent.PayloadType {
			continue
		}
		if c, ok := CodecByPayloadType(pt); ok {
			return c
		}
	}
	return CodecPCMU
}

// CodecByPayloadType looks up a supported codec by RTP payload type.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	for _, c := range SupportedCodecs {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// CodecByName looks up a supported codec by its SDP name.
func CodecByName(name string) (Codec, bool) {
	for _, c := range SupportedCodecs {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Codec{}, false
}
