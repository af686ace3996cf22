package rtrstate

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"
)

func TestStateJSONRoundTrip(t *testing.T) {
	s := Empty()
	s.SessionID = 7
	s.Serial = 42
	s.VRPs[VRPKey{ASN: 4608, Prefix: netaddr.MustParseIPPrefix("1.0.0.0/24"), MaxLength: 32}] = 2
	s.RouterKeys[RouterKeyKey{ASN: 4608, SKI: [20]byte{1, 2, 3}}] = []byte{0xde, 0xad}
	s.ASPAs[4708] = []uint32{10, 20, 30}

	buf, err := json.Marshal(s)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(buf, &got))

	prefixCmp := cmp.Comparer(func(a, b netaddr.IPPrefix) bool { return a == b })
	if diff := cmp.Diff(s, got, prefixCmp); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStateJSONRejectsBadPrefix(t *testing.T) {
	body := []byte(`{"session_id":0,"serial_number":0,"vrps":[{"asn":1,"prefix":"not-a-prefix","max_length":24,"count":1}]}`)
	var s State
	err := json.Unmarshal(body, &s)
	require.Error(t, err)
}
