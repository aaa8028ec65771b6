// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package sip_infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/praxisvoice/pkg/commons"
)

const (
	// Hash tags keep every pool key in the same Redis Cluster slot so
	// the Lua scripts can touch both sets atomically.
	portsFreeKey     = "{rtp:ports}:free"
	portsLeasedKey   = "{rtp:ports}:leased:"
	portsLeaseTTL    = 10 * time.Minute
	portsRedisBudget = 5 * time.Second
)

var (
	ErrPoolExhausted = errors.New("sip: rtp port pool exhausted")
	ErrNoRedis       = errors.New("sip: redis connection not available")
)

// initScript seeds the free-port set only when it does not exist yet,
// so a restart never puts leased ports back into rotation.
var initScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', KEYS[1], ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

// leaseScript pops a free port and records it against this instance in
// one round trip. Returns -1 when the pool is empty.
var leaseScript = redis.NewScript(`
	local port = redis.call('SPOP', KEYS[1])
	if port == false then
		return -1
	end
	redis.call('SADD', KEYS[2], port)
	return port
`)

// releaseScript moves a port from the instance lease set back to free.
var releaseScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

// PortAllocator leases even RTP ports out of a Redis-backed pool shared
// by every agent instance. Even ports only, per RFC 3550: the odd port
// above each is reserved for RTCP. Per-instance lease sets carry a TTL
// so ports held by a crashed process drift back into the pool.
type PortAllocator struct {
	client     *redis.Client
	logger     commons.Logger
	start, end int
	instanceID string
}

// NewPortAllocator builds an allocator for the even ports in
// [start, end). The instance id is hostname:pid so a restarted process
// reclaims its own stale leases on Init.
func NewPortAllocator(client *redis.Client, logger commons.Logger, start, end int) *PortAllocator {
	hostname, _ := os.Hostname()
	return &PortAllocator{
		client:     client,
		logger:     logger,
		start:      start,
		end:        end,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// Init seeds the pool if this is the first instance up, then reclaims
// any ports a previous incarnation of this instance left leased.
func (a *PortAllocator) Init(ctx context.Context) error {
	if a.client == nil {
		return ErrNoRedis
	}
	ctx, cancel := context.WithTimeout(ctx, portsRedisBudget)
	defer cancel()

	start := a.start
	if start%2 != 0 {
		start++
	}
	ports := make([]interface{}, 0, (a.end-start+1)/2)
	for p := start; p < a.end; p += 2 {
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return fmt.Errorf("sip: no even rtp ports in range %d-%d", a.start, a.end)
	}

	seeded, err := initScript.Run(ctx, a.client, []string{portsFreeKey}, ports...).Int()
	if err != nil {
		return fmt.Errorf("sip: seed rtp port pool: %w", err)
	}
	if seeded > 0 {
		a.logger.Infow("rtp port pool seeded",
			"ports", seeded, "range_start", a.start, "range_end", a.end)
	} else {
		a.logger.Debugw("sip: rtp port pool already seeded")
	}

	a.reclaimStaleLeases(ctx)
	return nil
}

// Allocate leases the next free even port. The lease is tracked under
// this instance with a sliding TTL.
func (a *PortAllocator) Allocate(ctx context.Context) (int, error) {
	if a.client == nil {
		return 0, ErrNoRedis
	}
	ctx, cancel := context.WithTimeout(ctx, portsRedisBudget)
	defer cancel()

	leaseKey := portsLeasedKey + a.instanceID
	port, err := leaseScript.Run(ctx, a.client, []string{portsFreeKey, leaseKey}).Int()
	if err != nil {
		return 0, fmt.Errorf("sip: lease rtp port: %w", err)
	}
	if port == -1 {
		leased, _ := a.InUse(ctx)
		return 0, fmt.Errorf("%w: range %d-%d (%d leased)",
			ErrPoolExhausted, a.start, a.end, leased)
	}

	a.client.Expire(ctx, leaseKey, portsLeaseTTL)
	a.logger.Debugw("sip: leased rtp port", "port", port, "instance", a.instanceID)
	return port, nil
}

// Release puts a port back into the free pool.
func (a *PortAllocator) Release(ctx context.Context, port int) error {
	if a.client == nil {
		return ErrNoRedis
	}
	ctx, cancel := context.WithTimeout(ctx, portsRedisBudget)
	defer cancel()

	leaseKey := portsLeasedKey + a.instanceID
	if _, err := releaseScript.Run(ctx, a.client, []string{portsFreeKey, leaseKey}, port).Result(); err != nil {
		return fmt.Errorf("sip: release rtp port %d: %w", port, err)
	}
	a.logger.Debugw("sip: released rtp port", "port", port, "instance", a.instanceID)
	return nil
}

// InUse reports how many ports are leased across all instances.
func (a *PortAllocator) InUse(ctx context.Context) (int, error) {
	if a.client == nil {
		return 0, ErrNoRedis
	}
	start := a.start
	if start%2 != 0 {
		start++
	}
	total := (a.end - start + 1) / 2

	free, err := a.client.SCard(ctx, portsFreeKey).Result()
	if err != nil {
		return 0, fmt.Errorf("sip: count free rtp ports: %w", err)
	}
	return total - int(free), nil
}

// reclaimStaleLeases frees ports still recorded against this instance
// id, left behind when a previous process with the same hostname:pid
// died without releasing.
func (a *PortAllocator) reclaimStaleLeases(ctx context.Context) {
	leaseKey := portsLeasedKey + a.instanceID
	ports, err := a.client.SMembers(ctx, leaseKey).Result()
	if err != nil {
		a.logger.Warnw("sip: check stale rtp leases", "error", err, "instance", a.instanceID)
		return
	}
	if len(ports) == 0 {
		return
	}

	for _, s := range ports {
		port, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		if _, err := releaseScript.Run(ctx, a.client, []string{portsFreeKey, leaseKey}, port).Result(); err != nil {
			a.logger.Warnw("sip: reclaim rtp port", "error", err, "port", port)
		}
	}
	a.logger.Infow("reclaimed stale rtp leases",
		"instance", a.instanceID, "ports", len(ports))
}

// ReleaseAll frees every port this instance holds. Called on shutdown.
func (a *PortAllocator) ReleaseAll(ctx context.Context) {
	if a.client == nil {
		return
	}
	leaseKey := portsLeasedKey + a.instanceID
	ports, err := a.client.SMembers(ctx, leaseKey).Result()
	if err != nil {
		a.logger.Errorw("sip: list leased rtp ports", "error", err)
		return
	}
	for _, s := range ports {
		port, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		if err := a.Release(ctx, port); err != nil {
			a.logger.Warnw("sip: release rtp port on shutdown", "error", err, "port", port)
		}
	}
	a.client.Del(ctx, leaseKey)
	a.logger.Infow("released rtp port leases", "instance", a.instanceID, "ports", len(ports))
}
