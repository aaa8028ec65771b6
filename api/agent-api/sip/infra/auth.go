// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package sip_infra

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/icholy/digest"
)

// TrunkCredentials are the parts of a provisioning URI of the form
// sip:user:secret@host:port. Port is zero when the URI omits it.
type TrunkCredentials struct {
	Username string
	Password string
	Host     string
	Port     int
}

// ParseTrunkURI splits a trunk URI into credentials and address. The
// sip:/sips: scheme is optional, as are the userinfo and port parts.
func ParseTrunkURI(uri string) (TrunkCredentials, error) {
	raw := strings.TrimSpace(uri)
	raw = strings.TrimPrefix(raw, "sips:")
	raw = strings.TrimPrefix(raw, "sip:")
	if raw == "" {
		return TrunkCredentials{}, fmt.Errorf("sip: empty trunk uri")
	}

	var creds TrunkCredentials
	hostPart := raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		userinfo := raw[:at]
		hostPart = raw[at+1:]
		if colon := strings.Index(userinfo, ":"); colon >= 0 {
			creds.Username = userinfo[:colon]
			creds.Password = userinfo[colon+1:]
		} else {
			creds.Username = userinfo
		}
	}
	if hostPart == "" {
		return TrunkCredentials{}, fmt.Errorf("sip: trunk uri %q has no host", uri)
	}

	host, portStr, err := net.SplitHostPort(hostPart)
	if err != nil {
		// No port in the URI.
		creds.Host = hostPart
		return creds, nil
	}
	creds.Host = host
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return TrunkCredentials{}, fmt.Errorf("sip: trunk uri %q has invalid port %q", uri, portStr)
	}
	creds.Port = port
	return creds, nil
}

// DigestAuthorization answers a WWW-Authenticate or Proxy-Authenticate
// challenge. The return value goes into the matching Authorization or
// Proxy-Authorization header verbatim.
func DigestAuthorization(challenge, method, uri, username, password string) (string, error) {
	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("sip: parse digest challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("sip: compute digest credentials: %w", err)
	}
	return cred.String(), nil
}
