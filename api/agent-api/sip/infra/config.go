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
	"time"
)

// Config describes one SIP trunk. Either URI carries everything in one
// string (sip:user:secret@host:port) or the individual fields are set;
// explicit fields win over URI parts.
type Config struct {
	URI            string        `mapstructure:"uri"`
	Server         string        `mapstructure:"server"`
	Port           int           `mapstructure:"port"`
	Transport      string        `mapstructure:"transport"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Realm          string        `mapstructure:"realm"`
	DisplayName    string        `mapstructure:"display_name"`
	Register       bool          `mapstructure:"register"`
	RegisterExpiry time.Duration `mapstructure:"register_expiry"`
	// KeepAlive is the OPTIONS ping interval while registered. Zero
	// disables the pings.
	KeepAlive time.Duration `mapstructure:"keep_alive"`

	// LocalIP is advertised in Contact headers and SDP connection
	// lines, so it must be reachable from the trunk.
	LocalIP      string `mapstructure:"local_ip"`
	LocalPort    int    `mapstructure:"local_port"`
	RTPPortStart int    `mapstructure:"rtp_port_start"`
	RTPPortEnd   int    `mapstructure:"rtp_port_end"`
}

func DefaultConfig() Config {
	return Config{
		Port:           5060,
		Transport:      "udp",
		DisplayName:    "PraxisVoice Agent",
		Register:       true,
		RegisterExpiry: 300 * time.Second,
		KeepAlive:      30 * time.Second,
		LocalPort:      5080,
		RTPPortStart:   10000,
		RTPPortEnd:     10100,
	}
}

// Normalize folds the URI into the individual fields and validates the
// result. Call it once before handing the config to a trunk.
func (c *Config) Normalize() error {
	if c.URI != "" {
		creds, err := ParseTrunkURI(c.URI)
		if err != nil {
			return err
		}
		if c.Server == "" {
			c.Server = creds.Host
		}
		if c.Port == 0 && creds.Port != 0 {
			c.Port = creds.Port
		}
		if c.Username == "" {
			c.Username = creds.Username
		}
		if c.Password == "" {
			c.Password = creds.Password
		}
	}

	def := DefaultConfig()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.DisplayName == "" {
		c.DisplayName = def.DisplayName
	}
	if c.RegisterExpiry == 0 {
		c.RegisterExpiry = def.RegisterExpiry
	}
	if c.LocalPort == 0 {
		c.LocalPort = def.LocalPort
	}
	if c.RTPPortStart == 0 {
		c.RTPPortStart = def.RTPPortStart
	}
	if c.RTPPortEnd == 0 {
		c.RTPPortEnd = def.RTPPortEnd
	}
	if c.Realm == "" {
		c.Realm = c.Server
	}

	return c.validate()
}

func (c *Config) validate() error {
	if c.Server == "" {
		return fmt.Errorf("sip: trunk config needs a server")
	}
	if c.LocalIP == "" {
		return fmt.Errorf("sip: trunk config needs a local ip")
	}
	switch c.Transport {
	case "udp", "tcp", "tls":
	default:
		return fmt.Errorf("sip: unsupported transport %q", c.Transport)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("sip: invalid trunk port %d", c.Port)
	}
	if c.RTPPortEnd <= c.RTPPortStart {
		return fmt.Errorf("sip: rtp port range %d-%d is empty", c.RTPPortStart, c.RTPPortEnd)
	}
	if c.Register && c.Username == "" {
		return fmt.Errorf("sip: registration needs a username")
	}
	return nil
}

// Addr is the trunk's signaling address, host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// ListenAddr is our local signaling address, host:port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.LocalIP, strconv.Itoa(c.LocalPort))
}
