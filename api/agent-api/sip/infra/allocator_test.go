// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package sip_infra

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisvoice/pkg/commons"
)

func newTestAllocator(t *testing.T, start, end int) (*PortAllocator, redismock.ClientMock, string) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	alloc := NewPortAllocator(client, commons.NewNopLogger(), start, end)
	return alloc, mock, portsLeasedKey + alloc.instanceID
}

func TestAllocatorInitSeedsEvenPorts(t *testing.T) {
	alloc, mock, leaseKey := newTestAllocator(t, 10001, 10008)

	// 10001 rounds up to the first even port; the end is exclusive.
	mock.ExpectEvalSha(initScript.Hash(), []string{portsFreeKey}, 10002, 10004, 10006).
		SetVal(int64(3))
	mock.ExpectSMembers(leaseKey).SetVal([]string{})

	require.NoError(t, alloc.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocatorInitReclaimsStaleLeases(t *testing.T) {
	alloc, mock, leaseKey := newTestAllocator(t, 10000, 10004)

	mock.ExpectEvalSha(initScript.Hash(), []string{portsFreeKey}, 10000, 10002).
		SetVal(int64(0))
	mock.ExpectSMembers(leaseKey).SetVal([]string{"10000"})
	mock.ExpectEvalSha(releaseScript.Hash(), []string{portsFreeKey, leaseKey}, 10000).
		SetVal(int64(1))

	require.NoError(t, alloc.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocatorInitEmptyRange(t *testing.T) {
	alloc, _, _ := newTestAllocator(t, 10000, 10000)
	require.Error(t, alloc.Init(context.Background()))
}

func TestAllocatorAllocateRelease(t *testing.T) {
	alloc, mock, leaseKey := newTestAllocator(t, 10000, 10100)

	mock.ExpectEvalSha(leaseScript.Hash(), []string{portsFreeKey, leaseKey}).
		SetVal(int64(10004))
	mock.ExpectExpire(leaseKey, portsLeaseTTL).SetVal(true)

	port, err := alloc.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10004, port)

	mock.ExpectEvalSha(releaseScript.Hash(), []string{portsFreeKey, leaseKey}, 10004).
		SetVal(int64(1))
	require.NoError(t, alloc.Release(context.Background(), 10004))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocatorExhausted(t *testing.T) {
	alloc, mock, leaseKey := newTestAllocator(t, 10000, 10004)

	mock.ExpectEvalSha(leaseScript.Hash(), []string{portsFreeKey, leaseKey}).
		SetVal(int64(-1))
	mock.ExpectSCard(portsFreeKey).SetVal(0)

	_, err := alloc.Allocate(context.Background())
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocatorInUse(t *testing.T) {
	alloc, mock, _ := newTestAllocator(t, 10000, 10100)

	mock.ExpectSCard(portsFreeKey).SetVal(47)

	n, err := alloc.InUse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAllocatorReleaseAll(t *testing.T) {
	alloc, mock, leaseKey := newTestAllocator(t, 10000, 10100)

	mock.ExpectSMembers(leaseKey).SetVal([]string{"10002", "10004"})
	mock.ExpectEvalSha(releaseScript.Hash(), []string{portsFreeKey, leaseKey}, 10002).
		SetVal(int64(1))
	mock.ExpectEvalSha(releaseScript.Hash(), []string{portsFreeKey, leaseKey}, 10004).
		SetVal(int64(1))
	mock.ExpectDel(leaseKey).SetVal(1)

	alloc.ReleaseAll(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocatorNoRedis(t *testing.T) {
	alloc := NewPortAllocator(nil, commons.NewNopLogger(), 10000, 10100)

	require.ErrorIs(t, alloc.Init(context.Background()), ErrNoRedis)
	_, err := alloc.Allocate(context.Background())
	require.ErrorIs(t, err, ErrNoRedis)
	require.ErrorIs(t, alloc.Release(context.Background(), 10000), ErrNoRedis)
}
