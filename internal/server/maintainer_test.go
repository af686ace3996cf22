package server

import (
	"context"
	"testing"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"
)

func stateWith(vrps map[rtrstate.VRPKey]int) rtrstate.State {
	s := rtrstate.Empty()
	for k, v := range vrps {
		s.VRPs[k] = v
	}
	return s
}

func vrpKey(asn uint32, prefix string, maxLen uint8) rtrstate.VRPKey {
	return rtrstate.VRPKey{ASN: asn, Prefix: netaddr.MustParseIPPrefix(prefix), MaxLength: maxLen}
}

// S1: Reset v2, one prefix.
func TestMaintainerFullPDUsOnReset(t *testing.T) {
	key := vrpKey(4608, "1.0.0.0/24", 32)
	m := NewMaintainer(func(context.Context) (rtrstate.State, error) {
		return stateWith(map[rtrstate.VRPKey]int{key: 1}), nil
	})
	require.NoError(t, m.Bootstrap(context.Background()))

	pdus := m.FullPDUs(protocol.Version2)
	require.Len(t, pdus, 1)
	p, ok := pdus[0].(*protocol.IPv4PrefixPDU)
	require.True(t, ok)
	assert.Equal(t, protocol.Announce, p.Flags)
	assert.Equal(t, uint32(4608), p.ASN)
	assert.Equal(t, uint8(24), p.PrefixLen)
	assert.Equal(t, uint8(32), p.MaxLen)
}

func TestMaintainerRefreshBuildsWithdrawThenAnnounce(t *testing.T) {
	keyOld := vrpKey(100, "10.0.0.0/24", 24)
	keyNew := vrpKey(200, "10.0.1.0/24", 24)

	calls := 0
	m := NewMaintainer(func(context.Context) (rtrstate.State, error) {
		calls++
		if calls == 1 {
			return stateWith(map[rtrstate.VRPKey]int{keyOld: 1}), nil
		}
		return stateWith(map[rtrstate.VRPKey]int{keyNew: 1}), nil
	})
	require.NoError(t, m.Bootstrap(context.Background()))
	assert.Equal(t, uint32(0), m.Serial())

	changed, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint32(1), m.Serial())

	pdus, ok := m.Since(0, protocol.Version2)
	require.True(t, ok)
	require.Len(t, pdus, 2)
	withdraw := pdus[0].(*protocol.IPv4PrefixPDU)
	announce := pdus[1].(*protocol.IPv4PrefixPDU)
	assert.Equal(t, protocol.Withdraw, withdraw.Flags)
	assert.Equal(t, uint32(100), withdraw.ASN)
	assert.Equal(t, protocol.Announce, announce.Flags)
	assert.Equal(t, uint32(200), announce.ASN)
}

func TestMaintainerSinceUnrecoverableServial(t *testing.T) {
	m := NewMaintainer(func(context.Context) (rtrstate.State, error) {
		return rtrstate.Empty(), nil
	})
	require.NoError(t, m.Bootstrap(context.Background()))

	_, ok := m.Since(999, protocol.Version2)
	assert.False(t, ok)
}

func TestMaintainerSinceRendersAtRequestedVersion(t *testing.T) {
	calls := 0
	m := NewMaintainer(func(context.Context) (rtrstate.State, error) {
		calls++
		s := rtrstate.Empty()
		if calls > 1 {
			s.ASPAs[4708] = []uint32{10}
		}
		return s, nil
	})
	require.NoError(t, m.Bootstrap(context.Background()))

	changed, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	pdusV1, ok := m.Since(0, protocol.Version1)
	require.True(t, ok)
	assert.Empty(t, pdusV1, "ASPA delta must not be replayed to a v1 client")

	pdusV2, ok := m.Since(0, protocol.Version2)
	require.True(t, ok)
	require.Len(t, pdusV2, 1)
	for _, pdu := range pdusV2 {
		assert.Equal(t, protocol.Version2, pdu.Version())
	}
}

func TestMaintainerASPAFullDump(t *testing.T) {
	m := NewMaintainer(func(context.Context) (rtrstate.State, error) {
		s := rtrstate.Empty()
		s.ASPAs[4708] = []uint32{10, 20, 30}
		return s, nil
	})
	require.NoError(t, m.Bootstrap(context.Background()))

	pdusV1 := m.FullPDUs(protocol.Version1)
	assert.Empty(t, pdusV1, "ASPA must not be sent to a v1 client")

	pdusV2 := m.FullPDUs(protocol.Version2)
	require.Len(t, pdusV2, 1)
	a := pdusV2[0].(*protocol.ASPAPDU)
	assert.Equal(t, uint32(4708), a.CustomerASN)
	assert.Equal(t, []uint32{10, 20, 30}, a.ProviderASNs)
}
