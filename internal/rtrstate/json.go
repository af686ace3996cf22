package rtrstate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"inet.af/netaddr"
)

// vrpJSON is the wire shape of one VRPKey/count pair. A flat list
// round-trips losslessly and is simpler to hand-author in a fixture
// file than the nested asn->address->prefix_length->max_length->count
// map the data model describes conceptually.
type vrpJSON struct {
	ASN       uint32 `json:"asn"`
	Prefix    string `json:"prefix"`
	MaxLength uint8  `json:"max_length"`
	Count     int    `json:"count"`
}

// routerKeyJSON is the wire shape of one RouterKeyKey/spki pair. SKI
// and SPKI are not valid JSON object keys, so both travel as hex/
// base64 text in a flat list alongside the VRPs and ASPAs.
type routerKeyJSON struct {
	ASN  uint32 `json:"asn"`
	SKI  string `json:"ski"`
	SPKI []byte `json:"spki"`
}

type stateJSON struct {
	SessionID  uint16            `json:"session_id"`
	Serial     uint32            `json:"serial_number"`
	VRPs       []vrpJSON         `json:"vrps"`
	RouterKeys []routerKeyJSON   `json:"router_keys"`
	ASPAs      map[uint32][]uint32 `json:"aspas"`
}

// MarshalJSON emits the State's three payload maps as the flat list
// shape above, each key emitted exactly once — there is no conditional-
// plus-map-loop path that could double-emit a field.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		SessionID: s.SessionID,
		Serial:    s.Serial,
		ASPAs:     s.ASPAs,
	}

	for k, count := range s.VRPs {
		out.VRPs = append(out.VRPs, vrpJSON{
			ASN:       k.ASN,
			Prefix:    k.Prefix.String(),
			MaxLength: k.MaxLength,
			Count:     count,
		})
	}
	for k, spki := range s.RouterKeys {
		out.RouterKeys = append(out.RouterKeys, routerKeyJSON{
			ASN:  k.ASN,
			SKI:  hex.EncodeToString(k.SKI[:]),
			SPKI: spki,
		})
	}

	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. Unknown top-level
// fields are rejected by the caller (internal/store uses
// json.Decoder.DisallowUnknownFields), not here: State only owns the
// shape of its own payload, not the policy for what to do with a
// field it has never heard of.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	out := Empty()
	out.SessionID = in.SessionID
	out.Serial = in.Serial

	for _, v := range in.VRPs {
		prefix, err := netaddr.ParseIPPrefix(v.Prefix)
		if err != nil {
			return fmt.Errorf("rtrstate: invalid vrp prefix %q: %w", v.Prefix, err)
		}
		out.VRPs[VRPKey{ASN: v.ASN, Prefix: prefix, MaxLength: v.MaxLength}] = v.Count
	}
	for _, rk := range in.RouterKeys {
		raw, err := hex.DecodeString(rk.SKI)
		if err != nil || len(raw) != 20 {
			return fmt.Errorf("rtrstate: invalid router key ski %q: %w", rk.SKI, err)
		}
		var ski [20]byte
		copy(ski[:], raw)
		out.RouterKeys[RouterKeyKey{ASN: rk.ASN, SKI: ski}] = append([]byte(nil), rk.SPKI...)
	}
	for customer, providers := range in.ASPAs {
		out.ASPAs[customer] = append([]uint32(nil), providers...)
	}

	*s = out
	return nil
}
