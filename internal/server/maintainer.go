package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
)

// LoadFn produces a fresh full snapshot of the payload set the
// Maintainer should be serving. It is called once at startup and
// again on every periodic refresh; the Maintainer diffs the result
// against its current snapshot to build the next logged changeset.
type LoadFn func(ctx context.Context) (rtrstate.State, error)

// logEntry is one changeset in the Maintainer's append-only history,
// tagged with the serial number a client must have held before it to
// request a replay of exactly this entry. The diff is kept as plain
// State fragments rather than pre-rendered PDUs, since a log entry
// may be replayed to clients on different protocol versions: PDUs
// are only rendered, at the recipient's own version, by Since.
type logEntry struct {
	serial    uint32
	withdrawn rtrstate.State
	announced rtrstate.State
}

// Maintainer holds the authoritative VRP/RouterKey/ASPA set plus an
// append-only log of changesets, each bound to the session_id
// assigned once at startup. It answers the two queries the wire
// protocol defines: a full Reset dump, and a Serial replay from the
// log (or a CacheReset when the gap is not recoverable).
type Maintainer struct {
	mu        sync.RWMutex
	sessionID uint16
	serial    uint32
	current   rtrstate.State
	log       []logEntry

	load   LoadFn
	logCap int
}

// NewMaintainer returns a Maintainer with an empty payload set and a
// session_id derived from the current time, as RFC 8210 recommends
// (any value the cache will hold stable for its lifetime works; the
// wall clock gives a new session on every restart without needing
// persisted state of its own).
func NewMaintainer(load LoadFn) *Maintainer {
	return &Maintainer{
		sessionID: uint16(time.Now().Unix() & 0xffff),
		current:   rtrstate.Empty(),
		load:      load,
		logCap:    64,
	}
}

// SessionID returns the session_id every CacheResponse and EndOfData
// this Maintainer produces will carry.
func (m *Maintainer) SessionID() uint16 {
	return m.sessionID
}

// Serial returns the current serial number.
func (m *Maintainer) Serial() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serial
}

// Bootstrap runs one load and installs it as the current snapshot at
// serial 0, with no log entries (nothing to replay a Serial query
// against yet). It must be called once before Start begins accepting
// connections.
func (m *Maintainer) Bootstrap(ctx context.Context) error {
	state, err := m.load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = state
	m.serial = 0
	return nil
}

// Refresh loads a fresh snapshot and, if it differs from the current
// one, appends a changeset to the log and advances the serial number.
// It reports whether anything changed.
func (m *Maintainer) Refresh(ctx context.Context) (bool, error) {
	next, err := m.load(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	withdrawn, announced := diffState(m.current, next)
	if len(withdrawn.VRPs) == 0 && len(withdrawn.RouterKeys) == 0 && len(withdrawn.ASPAs) == 0 &&
		len(announced.VRPs) == 0 && len(announced.RouterKeys) == 0 && len(announced.ASPAs) == 0 {
		return false, nil
	}

	m.log = append(m.log, logEntry{serial: m.serial, withdrawn: withdrawn, announced: announced})
	m.serial++
	if len(m.log) > m.logCap {
		m.log = m.log[len(m.log)-m.logCap:]
	}
	m.current = next
	return true, nil
}

// Snapshot returns the current full payload set and serial number.
func (m *Maintainer) Snapshot() (rtrstate.State, uint32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.serial
}

// FullPDUs returns one announce PDU per entry in the current snapshot,
// at the given version, omitting payload kinds the version cannot
// carry (Router Keys need v1+, ASPAs need v2).
func (m *Maintainer) FullPDUs(version protocol.Version) []protocol.PDU {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return stateToPDUs(m.current, version, protocol.Announce)
}

// Since returns the concatenated PDUs of every logged changeset after
// serial, rendered at version, in log order, plus true if serial is
// still present in the log (i.e. the gap is recoverable). A caller
// that gets false back must answer with CacheReset instead of
// replaying anything. Rendering at delivery time, rather than storing
// PDUs in the log, lets two clients on different protocol versions
// replay the same history correctly.
func (m *Maintainer) Since(serial uint32, version protocol.Version) ([]protocol.PDU, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if serial == m.serial {
		return nil, true
	}
	idx := -1
	for i, e := range m.log {
		if e.serial == serial {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false
	}
	var out []protocol.PDU
	for _, e := range m.log[idx:] {
		out = append(out, stateToPDUs(e.withdrawn, version, protocol.Withdraw)...)
		out = append(out, stateToPDUs(e.announced, version, protocol.Announce)...)
	}
	return out, true
}

// stateToPDUs flattens a State to payload-bearing PDUs at version,
// with the given flag (Announce for a full dump, Withdraw when used
// from a diff). VRP multiplicity collapses to one PDU per key: the
// Maintainer's snapshot comes from a deduplicated external feed, never
// from merging multiple caches, so counts are always 0 or 1.
func stateToPDUs(s rtrstate.State, version protocol.Version, flag uint8) []protocol.PDU {
	var out []protocol.PDU

	keys := make([]rtrstate.VRPKey, 0, len(s.VRPs))
	for k := range s.VRPs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return vrpKeyLess(keys[i], keys[j]) })
	for _, k := range keys {
		out = append(out, vrpPDU(version, flag, k))
	}

	if version >= protocol.Version1 {
		rkKeys := make([]rtrstate.RouterKeyKey, 0, len(s.RouterKeys))
		for k := range s.RouterKeys {
			rkKeys = append(rkKeys, k)
		}
		sort.Slice(rkKeys, func(i, j int) bool {
			if rkKeys[i].ASN != rkKeys[j].ASN {
				return rkKeys[i].ASN < rkKeys[j].ASN
			}
			return string(rkKeys[i].SKI[:]) < string(rkKeys[j].SKI[:])
		})
		for _, k := range rkKeys {
			out = append(out, protocol.NewRouterKeyPDU(version, flag, k.SKI, k.ASN, s.RouterKeys[k]))
		}
	}

	if version >= protocol.Version2 {
		customers := make([]uint32, 0, len(s.ASPAs))
		for c := range s.ASPAs {
			customers = append(customers, c)
		}
		sort.Slice(customers, func(i, j int) bool { return customers[i] < customers[j] })
		for _, c := range customers {
			providers := s.ASPAs[c]
			if flag == protocol.Withdraw {
				providers = nil
			}
			out = append(out, protocol.NewASPAPDU(version, flag, 0, c, providers))
		}
	}

	return out
}

func vrpKeyLess(a, b rtrstate.VRPKey) bool {
	if a.ASN != b.ASN {
		return a.ASN < b.ASN
	}
	if a.Prefix != b.Prefix {
		return a.Prefix.String() < b.Prefix.String()
	}
	return a.MaxLength < b.MaxLength
}

func vrpPDU(version protocol.Version, flag uint8, k rtrstate.VRPKey) protocol.PDU {
	ip := k.Prefix.IP()
	if ip.Is4() {
		return protocol.NewIPv4PrefixPDU(version, flag, uint8(k.Prefix.Bits()), k.MaxLength, ip.As4(), k.ASN)
	}
	return protocol.NewIPv6PrefixPDU(version, flag, uint8(k.Prefix.Bits()), k.MaxLength, ip.As16(), k.ASN)
}

// diffState compares two snapshots and returns the withdrawn and
// announced fragments between them: withdrawn holds every key present
// in old but absent in next; announced holds every key new in next,
// plus every RouterKey or ASPA whose value changed (a changed entry is
// only announced, never withdrawn, since an announce overwrites it).
// Since always renders a log entry's withdrawn fragment before its
// announced one.
func diffState(old, next rtrstate.State) (withdrawn, announced rtrstate.State) {
	withdrawn, announced = rtrstate.Empty(), rtrstate.Empty()

	for k := range old.VRPs {
		if _, ok := next.VRPs[k]; !ok {
			withdrawn.VRPs[k] = 1
		}
	}
	for k := range old.RouterKeys {
		if _, ok := next.RouterKeys[k]; !ok {
			withdrawn.RouterKeys[k] = nil
		}
	}
	for c := range old.ASPAs {
		if _, ok := next.ASPAs[c]; !ok {
			withdrawn.ASPAs[c] = nil
		}
	}

	for k := range next.VRPs {
		if _, ok := old.VRPs[k]; !ok {
			announced.VRPs[k] = 1
		}
	}
	for k, spki := range next.RouterKeys {
		if old, ok := old.RouterKeys[k]; !ok || bytesDiffer(old, spki) {
			announced.RouterKeys[k] = spki
		}
	}
	for c, providers := range next.ASPAs {
		oldProviders, ok := old.ASPAs[c]
		if ok && equalUint32(oldProviders, providers) {
			continue
		}
		announced.ASPAs[c] = providers
	}

	return withdrawn, announced
}

func bytesDiffer(a, b []byte) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

func equalUint32(a, b []uint32) bool {
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
