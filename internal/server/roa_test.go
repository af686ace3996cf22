package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"
)

func TestDecodeASNAcceptsStringAndNumber(t *testing.T) {
	asn, err := decodeASN("AS4608")
	require.NoError(t, err)
	assert.Equal(t, uint32(4608), asn)

	asn, err = decodeASN(float64(4608))
	require.NoError(t, err)
	assert.Equal(t, uint32(4608), asn)

	_, err = decodeASN(true)
	assert.Error(t, err)
}

func TestIsValidVRP(t *testing.T) {
	p4 := netaddr.MustParseIPPrefix("1.0.0.0/24")
	assert.True(t, isValidVRP(p4, 24))
	assert.True(t, isValidVRP(p4, 32))
	assert.False(t, isValidVRP(p4, 0))
	assert.False(t, isValidVRP(p4, 23))
	assert.False(t, isValidVRP(p4, 33))

	p6 := netaddr.MustParseIPPrefix("2001:db8::/32")
	assert.True(t, isValidVRP(p6, 48))
	assert.False(t, isValidVRP(p6, 129))
}
