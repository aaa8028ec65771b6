// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_freeswitch

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// ChannelState mirrors the PBX channel lifecycle values as they appear in
// the Channel-State event header.
type ChannelState string

const (
	ChannelStateNew           ChannelState = "CS_NEW"
	ChannelStateInit          ChannelState = "CS_INIT"
	ChannelStateRouting       ChannelState = "CS_ROUTING"
	ChannelStateSoftExecute   ChannelState = "CS_SOFT_EXECUTE"
	ChannelStateExecute       ChannelState = "CS_EXECUTE"
	ChannelStateExchangeMedia ChannelState = "CS_EXCHANGE_MEDIA"
	ChannelStatePark          ChannelState = "CS_PARK"
	ChannelStateConsumeMedia  ChannelState = "CS_CONSUME_MEDIA"
	ChannelStateHibernate     ChannelState = "CS_HIBERNATE"
	ChannelStateReset         ChannelState = "CS_RESET"
	ChannelStateHangup        ChannelState = "CS_HANGUP"
	ChannelStateReporting     ChannelState = "CS_REPORTING"
	ChannelStateDestroy       ChannelState = "CS_DESTROY"
)

// HangupCause is the PBX hangup cause code of a terminated channel.
type HangupCause string

const (
	CauseNormalClearing          HangupCause = "NORMAL_CLEARING"
	CauseUserBusy                HangupCause = "USER_BUSY"
	CauseNoAnswer                HangupCause = "NO_ANSWER"
	CauseCallRejected            HangupCause = "CALL_REJECTED"
	CauseDestinationOutOfOrder   HangupCause = "DESTINATION_OUT_OF_ORDER"
	CauseInvalidNumberFormat     HangupCause = "INVALID_NUMBER_FORMAT"
	CauseNormalTemporaryFailure  HangupCause = "NORMAL_TEMPORARY_FAILURE"
	CauseRecoveryOnTimerExpire   HangupCause = "RECOVERY_ON_TIMER_EXPIRE"
	CauseOriginatorCancel        HangupCause = "ORIGINATOR_CANCEL"
	CauseLoseRace                HangupCause = "LOSE_RACE"
	CauseUserNotRegistered       HangupCause = "USER_NOT_REGISTERED"
	CauseAllottedTimeout         HangupCause = "ALLOTTED_TIMEOUT"
	CauseMediaTimeout            HangupCause = "MEDIA_TIMEOUT"
	CauseUnallocatedNumber       HangupCause = "UNALLOCATED_NUMBER"
	CauseNetworkOutOfOrder       HangupCause = "NETWORK_OUT_OF_ORDER"
	CauseNormalUnspecified       HangupCause = "NORMAL_UNSPECIFIED"
	CauseMandatoryIEMissing      HangupCause = "MANDATORY_IE_MISSING"
	CauseRequestedChanUnavail    HangupCause = "REQUESTED_CHAN_UNAVAIL"
	CauseProgressTimeout         HangupCause = "PROGRESS_TIMEOUT"
	CauseGatewayDown             HangupCause = "GATEWAY_DOWN"
	CauseSubscriberAbsent        HangupCause = "SUBSCRIBER_ABSENT"
	CauseExchangeRoutingError    HangupCause = "EXCHANGE_ROUTING_ERROR"
	CauseDestinationNotReachable HangupCause = "NO_ROUTE_DESTINATION"
)

// Well-known event names the service reacts to.
const (
	EventChannelCreate  = "CHANNEL_CREATE"
	EventChannelAnswer  = "CHANNEL_ANSWER"
	EventChannelBridge  = "CHANNEL_BRIDGE"
	EventChannelHangup  = "CHANNEL_HANGUP"
	EventChannelDestroy = "CHANNEL_DESTROY"
	EventDTMF           = "DTMF"
	EventHeartbeat      = "HEARTBEAT"
)

// Event is one decoded event-socket event. The well-known headers are
// lifted into fields; everything else stays in Headers.
type Event struct {
	Name              string
	UUID              string
	ChannelUUID       string
	CallerIDNumber    string
	CallerIDName      string
	DestinationNumber string
	ChannelState      ChannelState
	Headers           map[string]string
	Body              string
}

// Header returns the raw event header value, "" when absent.
func (e Event) Header(name string) string { return e.Headers[name] }

// HangupCause returns the typed cause of a CHANNEL_HANGUP event.
func (e Event) HangupCause() HangupCause {
	return HangupCause(e.Headers["Hangup-Cause"])
}

// frame is one raw protocol unit: header lines up to a blank line, then an
// optional body of Content-Length bytes.
type frame struct {
	headers     map[string]string
	contentType string
	body        string
}

func (f frame) replyText() string { return f.headers["Reply-Text"] }

// readFrame decodes one frame from the socket. Blank lines between frames
// are skipped.
func readFrame(r *bufio.Reader) (frame, error) {
	f := frame{headers: make(map[string]string)}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(f.headers) == 0 {
				continue
			}
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f.headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if cl := f.headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err == nil && n > 0 {
			body := make([]byte, n)
			if _, err := io.ReadFull(r, body); err != nil {
				return frame{}, err
			}
			f.body = string(body)
		}
	}
	f.contentType = f.headers["Content-Type"]
	return f, nil
}

// parseEvent decodes a text/event-plain payload: event headers up to the
// first blank line, the remainder is the event body. Events without an
// Event-Name are not events.
func parseEvent(payload string) (Event, bool) {
	headerPart, body, _ := strings.Cut(payload, "\n\n")

	headers := make(map[string]string)
	for _, line := range strings.Split(headerPart, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	name := headers["Event-Name"]
	if name == "" {
		return Event{}, false
	}
	return Event{
		Name:              name,
		UUID:              headers["Event-UUID"],
		ChannelUUID:       headers["Unique-ID"],
		CallerIDNumber:    headers["Caller-Caller-ID-Number"],
		CallerIDName:      headers["Caller-Caller-ID-Name"],
		DestinationNumber: headers["Caller-Destination-Number"],
		ChannelState:      ChannelState(headers["Channel-State"]),
		Headers:           headers,
		Body:              strings.TrimSpace(body),
	}, true
}
