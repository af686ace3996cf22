package changeset

import (
	"testing"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAddPayloadTypesOnly(t *testing.T) {
	c := New()
	assert.True(t, c.CanAdd(protocol.NewIPv4PrefixPDU(protocol.Version2, protocol.Announce, 24, 32, [4]byte{}, 1)))
	assert.False(t, c.CanAdd(protocol.NewCacheResponsePDU(protocol.Version2, 1)))
	assert.False(t, c.CanAdd(protocol.NewEndOfDataPDU(protocol.Version2, 1, 1, 0, 0, 0)))
}

func TestAddPreservesOrder(t *testing.T) {
	c := New()
	p1 := protocol.NewIPv4PrefixPDU(protocol.Version2, protocol.Announce, 24, 32, [4]byte{1}, 1)
	p2 := protocol.NewIPv4PrefixPDU(protocol.Version2, protocol.Withdraw, 24, 32, [4]byte{1}, 1)
	require.NoError(t, c.Add(p1))
	require.NoError(t, c.Add(p2))
	assert.Equal(t, []protocol.PDU{p1, p2}, c.PDUs())
	assert.Equal(t, 2, c.Len())
}

func TestAddRejectsNonPayload(t *testing.T) {
	c := New()
	err := c.Add(protocol.NewCacheResetPDU(protocol.Version2))
	assert.ErrorIs(t, err, ErrNotPayload)
}

func TestAddRejectsMixedVersions(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(protocol.NewIPv4PrefixPDU(protocol.Version1, protocol.Announce, 24, 32, [4]byte{1}, 1)))
	err := c.Add(protocol.NewIPv4PrefixPDU(protocol.Version2, protocol.Announce, 24, 32, [4]byte{1}, 1))
	assert.ErrorIs(t, err, ErrMixedVersion)
}

func TestVersionReportsEmpty(t *testing.T) {
	c := New()
	_, ok := c.Version()
	assert.False(t, ok)

	require.NoError(t, c.Add(protocol.NewIPv4PrefixPDU(protocol.Version2, protocol.Announce, 24, 32, [4]byte{1}, 1)))
	v, ok := c.Version()
	assert.True(t, ok)
	assert.Equal(t, protocol.Version2, v)
}
