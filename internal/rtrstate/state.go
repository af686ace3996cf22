// Package rtrstate holds the authoritative per-cache payload set: the
// VRPs, Router Keys and ASPAs a client has synchronised, plus the
// session-ID and serial-number cursor that anchors future Serial
// queries. A State is only ever mutated by applying a changeset.Changeset;
// everything else is a pure, receiver-preserving read.
package rtrstate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mellowdrifter/rtrsync/internal/changeset"
	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"inet.af/netaddr"
)

// ErrWithdrawNotFound is returned by Apply when a withdraw PDU names a
// key that is not present in the State. RFC 8210 treats this as a
// cache inconsistency: the caller should escalate to a Reset episode.
var ErrWithdrawNotFound = errors.New("rtrstate: withdraw of unknown record")

// ErrMergeConflict is returned by Merge when two States disagree on
// the subject_public_key_info for the same (asn, ski) Router Key.
var ErrMergeConflict = errors.New("rtrstate: conflicting router key")

// VRPKey identifies one validated ROA payload tuple.
type VRPKey struct {
	ASN       uint32
	Prefix    netaddr.IPPrefix
	MaxLength uint8
}

// RouterKeyKey identifies one BGPsec router key.
type RouterKeyKey struct {
	ASN uint32
	SKI [20]byte
}

// State is the merged, authoritative payload set for one cache.
type State struct {
	SessionID uint16
	Serial    uint32

	VRPs       map[VRPKey]int
	RouterKeys map[RouterKeyKey][]byte
	ASPAs      map[uint32][]uint32
}

// Empty returns a State with initialized, empty maps: what a record
// holds before its first successful Reset episode, and what a Reset
// episode starts from.
func Empty() State {
	return State{
		VRPs:       make(map[VRPKey]int),
		RouterKeys: make(map[RouterKeyKey][]byte),
		ASPAs:      make(map[uint32][]uint32),
	}
}

func ipv4Key(p *protocol.IPv4PrefixPDU) VRPKey {
	ip := netaddr.IPv4(p.Prefix[0], p.Prefix[1], p.Prefix[2], p.Prefix[3])
	return VRPKey{ASN: p.ASN, Prefix: netaddr.IPPrefixFrom(ip, p.PrefixLen), MaxLength: p.MaxLen}
}

func ipv6Key(p *protocol.IPv6PrefixPDU) VRPKey {
	ip := netaddr.IPFrom16(p.Prefix)
	return VRPKey{ASN: p.ASN, Prefix: netaddr.IPPrefixFrom(ip, p.PrefixLen), MaxLength: p.MaxLen}
}

// Apply reduces a changeset.Changeset to this State in one pass,
// honouring the arrival order the caller already preserved. On any
// error the State is left exactly as it was before the call: the
// caller is expected to have built cs from a whole episode and should
// discard the whole episode on error, never apply a partial batch.
func (s *State) Apply(cs *changeset.Changeset) error {
	staged := s.clone()
	for _, pdu := range cs.PDUs() {
		if err := staged.applyOne(pdu); err != nil {
			return err
		}
	}
	*s = staged
	return nil
}

func (s *State) applyOne(pdu protocol.PDU) error {
	switch p := pdu.(type) {
	case *protocol.IPv4PrefixPDU:
		return s.applyVRP(ipv4Key(p), protocol.Flag(p.Flags))
	case *protocol.IPv6PrefixPDU:
		return s.applyVRP(ipv6Key(p), protocol.Flag(p.Flags))
	case *protocol.RouterKeyPDU:
		return s.applyRouterKey(p)
	case *protocol.ASPAPDU:
		return s.applyASPA(p)
	default:
		return fmt.Errorf("rtrstate: %T is not a payload PDU", pdu)
	}
}

func (s *State) applyVRP(key VRPKey, flag uint8) error {
	if flag == protocol.Announce {
		s.VRPs[key]++
		return nil
	}
	count, ok := s.VRPs[key]
	if !ok || count == 0 {
		return fmt.Errorf("%w: VRP asn=%d prefix=%s maxlen=%d", ErrWithdrawNotFound, key.ASN, key.Prefix, key.MaxLength)
	}
	if count == 1 {
		delete(s.VRPs, key)
	} else {
		s.VRPs[key] = count - 1
	}
	return nil
}

func (s *State) applyRouterKey(p *protocol.RouterKeyPDU) error {
	key := RouterKeyKey{ASN: p.ASN, SKI: p.SKI}
	if protocol.Flag(p.Flags) == protocol.Announce {
		s.RouterKeys[key] = append([]byte(nil), p.SPKI...)
		return nil
	}
	if _, ok := s.RouterKeys[key]; !ok {
		return fmt.Errorf("%w: router key asn=%d", ErrWithdrawNotFound, p.ASN)
	}
	delete(s.RouterKeys, key)
	return nil
}

func (s *State) applyASPA(p *protocol.ASPAPDU) error {
	if protocol.Flag(p.Flags) == protocol.Announce {
		s.ASPAs[p.CustomerASN] = append([]uint32(nil), p.ProviderASNs...)
		return nil
	}
	if _, ok := s.ASPAs[p.CustomerASN]; !ok {
		return fmt.Errorf("%w: ASPA customer_asn=%d", ErrWithdrawNotFound, p.CustomerASN)
	}
	delete(s.ASPAs, p.CustomerASN)
	return nil
}

// clone returns a deep-enough copy: every map gets its own backing
// store, and RouterKey/ASPA slice values are copied so later mutation
// of the original doesn't alias into the clone.
func (s State) clone() State {
	out := State{
		SessionID:  s.SessionID,
		Serial:     s.Serial,
		VRPs:       make(map[VRPKey]int, len(s.VRPs)),
		RouterKeys: make(map[RouterKeyKey][]byte, len(s.RouterKeys)),
		ASPAs:      make(map[uint32][]uint32, len(s.ASPAs)),
	}
	for k, v := range s.VRPs {
		out.VRPs[k] = v
	}
	for k, v := range s.RouterKeys {
		out.RouterKeys[k] = append([]byte(nil), v...)
	}
	for k, v := range s.ASPAs {
		out.ASPAs[k] = append([]uint32(nil), v...)
	}
	return out
}

// Merge produces a new State that is the union of s and other: VRP
// counts sum, Router Keys union (conflicting spki for the same
// (asn, ski) is an error), and ASPA provider lists become the sorted
// set-union for every customer_asn present in either input. Merge
// never mutates its receiver or its argument, and is commutative and
// associative over the VRP and ASPA dimensions (associativity for
// Router Keys holds only when no conflict is encountered). The
// SessionID and Serial of the result are zero: a merged State spans
// caches that each own an independent session and serial cursor, so
// neither value is meaningful past the merge.
func (s State) Merge(other State) (State, error) {
	out := Empty()

	for k, v := range s.VRPs {
		out.VRPs[k] += v
	}
	for k, v := range other.VRPs {
		out.VRPs[k] += v
	}

	for k, v := range s.RouterKeys {
		out.RouterKeys[k] = append([]byte(nil), v...)
	}
	for k, v := range other.RouterKeys {
		if existing, ok := out.RouterKeys[k]; ok {
			if !bytesEqual(existing, v) {
				return State{}, fmt.Errorf("%w: asn=%d ski=%x", ErrMergeConflict, k.ASN, k.SKI)
			}
			continue
		}
		out.RouterKeys[k] = append([]byte(nil), v...)
	}

	customers := make(map[uint32]struct{})
	for k := range s.ASPAs {
		customers[k] = struct{}{}
	}
	for k := range other.ASPAs {
		customers[k] = struct{}{}
	}
	for customer := range customers {
		out.ASPAs[customer] = sortedUnion(s.ASPAs[customer], other.ASPAs[customer])
	}

	return out, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedUnion(a, b []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(a)+len(b))
	out := make([]uint32, 0, len(a)+len(b))
	for _, list := range [][]uint32{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SerialLess implements the RFC 1982 §3.2 comparison for the 32-bit
// wrapping serial number: a < b iff 0 < (b-a) mod 2^32 < 2^31. This is
// the only correct way to order two serials; naive integer comparison
// breaks at the wrap boundary.
func SerialLess(a, b uint32) bool {
	diff := b - a
	return diff != 0 && diff < 1<<31
}
