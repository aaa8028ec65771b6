// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_freeswitch speaks the FreeSWITCH event socket protocol:
// authenticate, subscribe to all plain events, dispatch them to registered
// handlers and wrap the uuid_* api commands used for call control. A lost
// connection reconnects with a fixed delay and resubscribes.
package internal_freeswitch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/praxisvoice/pkg/commons"
	"github.com/praxisvoice/pkg/utils"
)

var (
	ErrNotConnected    = errors.New("freeswitch: not connected")
	ErrClosed          = errors.New("freeswitch: client closed")
	ErrAuthFailed      = errors.New("freeswitch: authentication failed")
	ErrBadBanner       = errors.New("freeswitch: unexpected welcome banner")
	ErrCommandFailed   = errors.New("freeswitch: command failed")
	ErrOriginateFailed = errors.New("freeswitch: originate failed")
)

// originateUUIDPattern extracts the channel uuid from "+OK <uuid>".
var originateUUIDPattern = regexp.MustCompile(`\+OK\s+([a-f0-9-]+)`)

// eventBufferSize bounds the decode-to-dispatch queue so a slow handler
// never stalls the socket read loop.
const eventBufferSize = 128

// Config binds the event-socket connection.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password" validate:"required"`

	Reconnect            bool          `mapstructure:"reconnect"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`

	// CommandTimeout bounds the handshake and any command whose context
	// carries no deadline of its own.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 8021,
		Reconnect:            true,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		CommandTimeout:       5 * time.Second,
	}
}

// Handler receives one decoded event. Handlers run on the dispatch
// goroutine: they must not block, but issuing client commands is safe.
type Handler func(Event)

// Stats is a snapshot of client counters.
type Stats struct {
	EventsReceived uint64
	EventsDropped  uint64
	CommandsSent   uint64
	Reconnects     uint64
}

// Client is the event-socket connection to one PBX node.
type Client struct {
	cfg    Config
	logger commons.Logger

	dialMu sync.Mutex // serializes Connect
	cmdMu  sync.Mutex // one in-flight command at a time

	mu        sync.Mutex
	conn      net.Conn
	replies   chan frame
	connected bool
	closed    bool

	handlerMu sync.RWMutex
	handlers  map[string][]Handler
	wildcard  []Handler

	events       chan Event
	done         chan struct{}
	closeOnce    sync.Once
	reconnecting atomic.Bool

	eventsReceived atomic.Uint64
	eventsDropped  atomic.Uint64
	commandsSent   atomic.Uint64
	reconnects     atomic.Uint64
}

func NewClient(cfg Config, logger commons.Logger) *Client {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string][]Handler),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

// On registers a handler for one event name.
func (c *Client) On(eventName string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[eventName] = append(c.handlers[eventName], h)
	c.handlerMu.Unlock()
}

// OnAny registers a handler that receives every event.
func (c *Client) OnAny(h Handler) {
	c.handlerMu.Lock()
	c.wildcard = append(c.wildcard, h)
	c.handlerMu.Unlock()
}

// Connected reports whether the socket is authenticated and subscribed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Stats() Stats {
	return Stats{
		EventsReceived: c.eventsReceived.Load(),
		EventsDropped:  c.eventsDropped.Load(),
		CommandsSent:   c.commandsSent.Load(),
		Reconnects:     c.reconnects.Load(),
	}
}

// Connect dials the event socket, authenticates and subscribes to all plain
// events. Safe to call again after a drop; a no-op while connected.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("freeswitch: dial %s: %w", addr, err)
	}

	reader, err := c.handshake(conn)
	if err != nil {
		conn.Close()
		return err
	}

	replies := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.replies = replies
	c.connected = true
	c.mu.Unlock()

	c.logger.Infow("event socket connected", "addr", addr)
	go c.readLoop(conn, reader, replies)
	return nil
}

// handshake runs banner, auth and event subscription on a fresh socket and
// returns the buffered reader the read loop must continue from.
func (c *Client) handshake(conn net.Conn) (*bufio.Reader, error) {
	_ = conn.SetDeadline(time.Now().Add(c.cfg.CommandTimeout))
	defer conn.SetDeadline(time.Time{})

	reader := bufio.NewReader(conn)

	banner, err := readFrame(reader)
	if err != nil {
		return nil, fmt.Errorf("freeswitch: read banner: %w", err)
	}
	if banner.contentType != "auth/request" {
		return nil, fmt.Errorf("%w: %q", ErrBadBanner, banner.contentType)
	}

	if _, err := fmt.Fprintf(conn, "auth %s\n\n", c.cfg.Password); err != nil {
		return nil, fmt.Errorf("freeswitch: send auth: %w", err)
	}
	reply, err := readFrame(reader)
	if err != nil {
		return nil, fmt.Errorf("freeswitch: read auth reply: %w", err)
	}
	if !strings.Contains(reply.replyText(), "+OK") {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, reply.replyText())
	}

	if _, err := fmt.Fprint(conn, "event plain all\n\n"); err != nil {
		return nil, fmt.Errorf("freeswitch: subscribe: %w", err)
	}
	reply, err = readFrame(reader)
	if err != nil {
		return nil, fmt.Errorf("freeswitch: read subscribe reply: %w", err)
	}
	if !strings.Contains(reply.replyText(), "+OK") {
		c.logger.Warnw("event subscription not acknowledged", "reply", reply.replyText())
	}
	return reader, nil
}

// readLoop decodes frames until the socket fails: events go to the dispatch
// queue, everything else answers the in-flight command.
func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader, replies chan frame) {
	for {
		f, err := readFrame(reader)
		if err != nil {
			c.handleDisconnect(conn, replies, err)
			return
		}

		switch f.contentType {
		case "text/event-plain":
			ev, ok := parseEvent(f.body)
			if !ok {
				continue
			}
			c.eventsReceived.Add(1)
			select {
			case c.events <- ev:
			default:
				c.eventsDropped.Add(1)
				c.logger.Warnw("event queue full, dropping", "event", ev.Name)
			}
		case "text/disconnect-notice":
			c.logger.Infow("server sent disconnect notice")
		default:
			select {
			case replies <- f:
			default:
				c.logger.Debugw("unmatched reply dropped", "content_type", f.contentType)
			}
		}
	}
}

func (c *Client) handleDisconnect(conn net.Conn, replies chan frame, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already took over; this loop is stale.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	close(replies)

	if closed {
		return
	}
	c.logger.Warnw("event socket lost", "error", err)
	if c.cfg.Reconnect && c.reconnecting.CompareAndSwap(false, true) {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	defer c.reconnecting.Store(false)

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if err := c.Connect(context.Background()); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.logger.Warnw("reconnect failed",
				"attempt", attempt, "max", c.cfg.MaxReconnectAttempts, "error", err)
			continue
		}
		c.reconnects.Add(1)
		c.logger.Infow("event socket reconnected", "attempt", attempt)
		return
	}
	c.logger.Errorw("event socket gone, giving up", "attempts", c.cfg.MaxReconnectAttempts)
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Client) dispatch(ev Event) {
	c.handlerMu.RLock()
	named := c.handlers[ev.Name]
	wildcard := c.wildcard
	c.handlerMu.RUnlock()

	for _, h := range named {
		h(ev)
	}
	for _, h := range wildcard {
		h(ev)
	}
}

// Close shuts the client down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.connected = false
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		close(c.done)
		c.logger.Infow("event socket client closed")
	})
	return nil
}

// =============================================================================
// Command plumbing
// =============================================================================

// command sends one line and waits for the matching reply frame. Replies
// arrive in send order, so a mutex plus a single channel correlates them.
func (c *Client) command(ctx context.Context, cmd string) (frame, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, ErrClosed
	}
	conn, replies, connected := c.conn, c.replies, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return frame{}, ErrNotConnected
	}

	if _, err := fmt.Fprintf(conn, "%s\n\n", cmd); err != nil {
		return frame{}, fmt.Errorf("freeswitch: send command: %w", err)
	}
	c.commandsSent.Add(1)

	select {
	case f, ok := <-replies:
		if !ok {
			return frame{}, ErrNotConnected
		}
		return f, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, ErrClosed
	}
}

// api runs "api <cmd>" and returns the result text. "-ERR …" results map to
// ErrCommandFailed.
func (c *Client) api(ctx context.Context, cmd string) (string, error) {
	f, err := c.command(ctx, "api "+cmd)
	if err != nil {
		return "", err
	}
	result := strings.TrimSpace(f.body)
	if result == "" {
		result = strings.TrimSpace(f.replyText())
	}
	if strings.HasPrefix(result, "-ERR") {
		return result, fmt.Errorf("%w: %s: %s", ErrCommandFailed, cmd, result)
	}
	return result, nil
}

// =============================================================================
// Call control
// =============================================================================

// Answer answers a ringing channel.
func (c *Client) Answer(ctx context.Context, channelUUID string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_answer %s", channelUUID))
	return err
}

// Hangup terminates a channel; an empty cause means NORMAL_CLEARING.
func (c *Client) Hangup(ctx context.Context, channelUUID string, cause HangupCause) error {
	if cause == "" {
		cause = CauseNormalClearing
	}
	_, err := c.api(ctx, fmt.Sprintf("uuid_kill %s %s", channelUUID, cause))
	return err
}

// Transfer moves a channel to a dialplan destination. Empty dialplan and
// dialplan context fall back to XML / default.
func (c *Client) Transfer(ctx context.Context, channelUUID, destination, dialplan, dpContext string) error {
	if dialplan == "" {
		dialplan = "XML"
	}
	if dpContext == "" {
		dpContext = "default"
	}
	_, err := c.api(ctx, fmt.Sprintf("uuid_transfer %s %s %s %s",
		channelUUID, destination, dialplan, dpContext))
	return err
}

// Bridge connects two existing channels.
func (c *Client) Bridge(ctx context.Context, channelUUID, otherUUID string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_bridge %s %s", channelUUID, otherUUID))
	return err
}

// ExecuteApp runs a dialplan application on a live channel.
func (c *Client) ExecuteApp(ctx context.Context, channelUUID, app, args string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_broadcast %s %s::%s", channelUUID, app, args))
	return err
}

// Playback plays an audio file to a channel.
func (c *Client) Playback(ctx context.Context, channelUUID, path string) error {
	return c.ExecuteApp(ctx, channelUUID, "playback", path)
}

// Record captures channel audio to a file for up to maxSeconds.
func (c *Client) Record(ctx context.Context, channelUUID, path string, maxSeconds int) error {
	return c.ExecuteApp(ctx, channelUUID, "record", fmt.Sprintf("%s %d", path, maxSeconds))
}

// StreamToSocket attaches the channel's media to the agent's TCP bridge.
func (c *Client) StreamToSocket(ctx context.Context, channelUUID, addr string) error {
	return c.ExecuteApp(ctx, channelUUID, "socket", addr+" async full")
}

// Broadcast plays audio on one or both call legs without interrupting the
// dialplan; an empty leg means aleg.
func (c *Client) Broadcast(ctx context.Context, channelUUID, audioPath, leg string) error {
	if leg == "" {
		leg = "aleg"
	}
	_, err := c.api(ctx, fmt.Sprintf("uuid_broadcast %s %s %s", channelUUID, audioPath, leg))
	return err
}

// BreakAudio stops the current playback on a channel.
func (c *Client) BreakAudio(ctx context.Context, channelUUID string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_break %s", channelUUID))
	return err
}

// SendDTMF plays digits on the channel; duration is per digit.
func (c *Client) SendDTMF(ctx context.Context, channelUUID, digits string, duration time.Duration) error {
	if duration <= 0 {
		duration = 250 * time.Millisecond
	}
	_, err := c.api(ctx, fmt.Sprintf("uuid_send_dtmf %s %s@%d",
		channelUUID, digits, duration.Milliseconds()))
	return err
}

// SetVariable sets a channel variable.
func (c *Client) SetVariable(ctx context.Context, channelUUID, name, value string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_setvar %s %s %s", channelUUID, name, value))
	return err
}

// GetVariable reads a channel variable.
func (c *Client) GetVariable(ctx context.Context, channelUUID, name string) (string, error) {
	return c.api(ctx, fmt.Sprintf("uuid_getvar %s %s", channelUUID, name))
}

// Hold parks the channel on hold music.
func (c *Client) Hold(ctx context.Context, channelUUID string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_hold %s", channelUUID))
	return err
}

// Unhold takes the channel off hold.
func (c *Client) Unhold(ctx context.Context, channelUUID string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_hold off %s", channelUUID))
	return err
}

// Mute silences one direction of the channel ("read" mutes the caller).
func (c *Client) Mute(ctx context.Context, channelUUID, direction string) error {
	if direction == "" {
		direction = "read"
	}
	_, err := c.api(ctx, fmt.Sprintf("uuid_audio %s start %s mute", channelUUID, direction))
	return err
}

// Unmute reverses Mute for the given direction.
func (c *Client) Unmute(ctx context.Context, channelUUID, direction string) error {
	if direction == "" {
		direction = "read"
	}
	_, err := c.api(ctx, fmt.Sprintf("uuid_audio %s stop %s mute", channelUUID, direction))
	return err
}

// SendMessage delivers a SIP MESSAGE to the channel's endpoint.
func (c *Client) SendMessage(ctx context.Context, channelUUID, message string) error {
	_, err := c.api(ctx, fmt.Sprintf("uuid_send_message %s %s", channelUUID, message))
	return err
}

// ChannelInfo dumps the channel's state headers into a map.
func (c *Client) ChannelInfo(ctx context.Context, channelUUID string) (map[string]string, error) {
	result, err := c.api(ctx, fmt.Sprintf("uuid_dump %s", channelUUID))
	if err != nil {
		return nil, err
	}
	info := make(map[string]string)
	for _, line := range strings.Split(result, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return info, nil
}

// ActiveCall is one row of the PBX call table.
type ActiveCall struct {
	UUID           string
	Direction      string
	Created        string
	Name           string
	State          string
	CallerIDName   string
	CallerIDNumber string
}

// ActiveCalls lists the live calls from the PBX CSV call table.
func (c *Client) ActiveCalls(ctx context.Context) ([]ActiveCall, error) {
	result, err := c.api(ctx, "show calls")
	if err != nil {
		return nil, err
	}

	var calls []ActiveCall
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		if i == 0 { // header row
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		call := ActiveCall{
			UUID:      parts[0],
			Direction: parts[1],
			Created:   parts[2],
			Name:      parts[3],
			State:     parts[4],
		}
		if len(parts) > 5 {
			call.CallerIDName = parts[5]
		}
		if len(parts) > 6 {
			call.CallerIDNumber = parts[6]
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// =============================================================================
// Originate
// =============================================================================

// OriginateRequest describes one outbound leg. The new channel parks and
// waits for the dialplan (the dialer then attaches media and answers).
type OriginateRequest struct {
	Destination    string
	Gateway        string
	CallerIDNumber string
	CallerIDName   string
	Timeout        time.Duration
	Variables      map[string]string
}

// Originate places an outbound call through a SIP gateway and returns the
// new channel uuid. Variables are rendered sorted so the command line is
// deterministic.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	if req.Gateway == "" {
		req.Gateway = "sipgate"
	}
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}

	keys := make([]string, 0, len(req.Variables))
	for k := range req.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make([]string, 0, len(keys)+3)
	for _, k := range keys {
		vars = append(vars, fmt.Sprintf("%s=%s", k, req.Variables[k]))
	}
	if req.CallerIDName != "" {
		vars = append(vars, fmt.Sprintf("origination_caller_id_name=%s", req.CallerIDName))
	}
	if req.CallerIDNumber != "" {
		vars = append(vars, fmt.Sprintf("origination_caller_id_number=%s", req.CallerIDNumber))
	}
	vars = append(vars, fmt.Sprintf("originate_timeout=%d", int(req.Timeout.Seconds())))

	cmd := fmt.Sprintf("originate {%s}sofia/gateway/%s/%s &park()",
		strings.Join(vars, ","), req.Gateway, req.Destination)

	result, err := c.api(ctx, cmd)
	if err != nil {
		return "", err
	}
	match := originateUUIDPattern.FindStringSubmatch(result)
	if match == nil {
		return "", fmt.Errorf("%w: %s", ErrOriginateFailed, result)
	}

	channelUUID := match[1]
	c.logger.Infow("originated call",
		"destination", utils.MaskPhoneNumber(req.Destination), "channel_uuid", channelUUID)
	return channelUUID, nil
}
