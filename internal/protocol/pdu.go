package protocol

// PDU is the common interface satisfied by every RTR protocol data
// unit. Marshal produces the wire bytes, header included; Decode is
// the inverse, dispatching on the type byte of the 8-byte header.
type PDU interface {
	Type() PDUType
	Version() Version
	Marshal() ([]byte, error)
}

// SerialNotifyPDU tells a client that new data is available at a
// given serial number. Informational: the client is not required to
// act on it immediately.
//
//	0          8          16         24        31
//	.-------------------------------------------.
//	| Protocol |   PDU    |                     |
//	| Version  |   Type   |     Session ID      |
//	|    X     |    0     |                     |
//	+-------------------------------------------+
//	|                 Length=12                  |
//	+-------------------------------------------+
//	|               Serial Number               |
//	`-------------------------------------------'
type SerialNotifyPDU struct {
	Ver     Version
	Session uint16
	Serial  uint32
}

func NewSerialNotifyPDU(v Version, session uint16, serial uint32) *SerialNotifyPDU {
	return &SerialNotifyPDU{Ver: v, Session: session, Serial: serial}
}

func (p *SerialNotifyPDU) Type() PDUType    { return SerialNotify }
func (p *SerialNotifyPDU) Version() Version { return p.Ver }

// SerialQueryPDU asks the cache for everything that changed since
// Serial, under the session the client already holds.
//
//	Session ID in header, Length=12, Serial Number(u32) body.
type SerialQueryPDU struct {
	Ver     Version
	Session uint16
	Serial  uint32
}

func NewSerialQueryPDU(v Version, session uint16, serial uint32) *SerialQueryPDU {
	return &SerialQueryPDU{Ver: v, Session: session, Serial: serial}
}

func (p *SerialQueryPDU) Type() PDUType    { return SerialQuery }
func (p *SerialQueryPDU) Version() Version { return p.Ver }

// ResetQueryPDU asks the cache for the complete current payload set.
// Header's u16 field is reserved and must be zero. No body.
type ResetQueryPDU struct {
	Ver Version
}

func NewResetQueryPDU(v Version) *ResetQueryPDU { return &ResetQueryPDU{Ver: v} }

func (p *ResetQueryPDU) Type() PDUType    { return ResetQuery }
func (p *ResetQueryPDU) Version() Version { return p.Ver }

// CacheResponsePDU opens a synchronisation episode and carries the
// session_id the client must echo on subsequent Serial queries.
type CacheResponsePDU struct {
	Ver     Version
	Session uint16
}

func NewCacheResponsePDU(v Version, session uint16) *CacheResponsePDU {
	return &CacheResponsePDU{Ver: v, Session: session}
}

func (p *CacheResponsePDU) Type() PDUType    { return CacheResponse }
func (p *CacheResponsePDU) Version() Version { return p.Ver }

// IPv4PrefixPDU announces or withdraws a single IPv4 VRP.
//
//	header reserved(u16)=0, body: flags zero prefix_len max_len prefix(4) asn(u32)
type IPv4PrefixPDU struct {
	Ver       Version
	Flags     uint8
	PrefixLen uint8
	MaxLen    uint8
	Prefix    [4]byte
	ASN       uint32
}

func NewIPv4PrefixPDU(v Version, flags, prefixLen, maxLen uint8, prefix [4]byte, asn uint32) *IPv4PrefixPDU {
	return &IPv4PrefixPDU{Ver: v, Flags: flags, PrefixLen: prefixLen, MaxLen: maxLen, Prefix: prefix, ASN: asn}
}

func (p *IPv4PrefixPDU) Type() PDUType    { return IPv4Prefix }
func (p *IPv4PrefixPDU) Version() Version { return p.Ver }

// IPv6PrefixPDU announces or withdraws a single IPv6 VRP. Same shape
// as IPv4PrefixPDU with a 16-byte address.
type IPv6PrefixPDU struct {
	Ver       Version
	Flags     uint8
	PrefixLen uint8
	MaxLen    uint8
	Prefix    [16]byte
	ASN       uint32
}

func NewIPv6PrefixPDU(v Version, flags, prefixLen, maxLen uint8, prefix [16]byte, asn uint32) *IPv6PrefixPDU {
	return &IPv6PrefixPDU{Ver: v, Flags: flags, PrefixLen: prefixLen, MaxLen: maxLen, Prefix: prefix, ASN: asn}
}

func (p *IPv6PrefixPDU) Type() PDUType    { return IPv6Prefix }
func (p *IPv6PrefixPDU) Version() Version { return p.Ver }

// EndOfDataPDU closes a synchronisation episode. Refresh/Retry/Expire
// are only meaningful (and only written to the wire) at version 1+;
// version 0 callers should leave them zero.
type EndOfDataPDU struct {
	Ver     Version
	Session uint16
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
}

func NewEndOfDataPDU(v Version, session uint16, serial, refresh, retry, expire uint32) *EndOfDataPDU {
	return &EndOfDataPDU{Ver: v, Session: session, Serial: serial, Refresh: refresh, Retry: retry, Expire: expire}
}

func (p *EndOfDataPDU) Type() PDUType    { return EndOfData }
func (p *EndOfDataPDU) Version() Version { return p.Ver }

// CacheResetPDU tells the client to discard everything and start a
// Reset episode. No body; header's u16 field is reserved and zero.
type CacheResetPDU struct {
	Ver Version
}

func NewCacheResetPDU(v Version) *CacheResetPDU { return &CacheResetPDU{Ver: v} }

func (p *CacheResetPDU) Type() PDUType    { return CacheReset }
func (p *CacheResetPDU) Version() Version { return p.Ver }

// RouterKeyPDU announces or withdraws a BGPsec router key (v1+).
// Flags live in the body, not the header; the header's u16 is
// reserved and zero.
type RouterKeyPDU struct {
	Ver   Version
	Flags uint8
	SKI   [20]byte
	ASN   uint32
	SPKI  []byte
}

func NewRouterKeyPDU(v Version, flags uint8, ski [20]byte, asn uint32, spki []byte) *RouterKeyPDU {
	return &RouterKeyPDU{Ver: v, Flags: flags, SKI: ski, ASN: asn, SPKI: spki}
}

func (p *RouterKeyPDU) Type() PDUType    { return RouterKey }
func (p *RouterKeyPDU) Version() Version { return p.Ver }

// ErrorReportPDU reports a protocol error, optionally encapsulating
// the PDU that triggered it and a human-readable diagnostic.
type ErrorReportPDU struct {
	Ver             Version
	Code            uint16
	EncapsulatedPDU []byte
	Text            string
}

func NewErrorReportPDU(v Version, code uint16, encapsulated []byte, text string) *ErrorReportPDU {
	return &ErrorReportPDU{Ver: v, Code: code, EncapsulatedPDU: encapsulated, Text: text}
}

func (p *ErrorReportPDU) Type() PDUType    { return ErrorReport }
func (p *ErrorReportPDU) Version() Version { return p.Ver }

// ASPAPDU announces or withdraws the provider set for a customer ASN
// (v2 only). A withdraw MUST carry an empty provider list; an
// announce MUST carry at least one. The codec enforces this: Marshal
// and Decode both reject a PDU that breaks it with ErrMalformed.
type ASPAPDU struct {
	Ver          Version
	Flags        uint8
	AFIFlags     uint8
	CustomerASN  uint32
	ProviderASNs []uint32
}

func NewASPAPDU(v Version, flags, afiFlags uint8, customerASN uint32, providerASNs []uint32) *ASPAPDU {
	return &ASPAPDU{Ver: v, Flags: flags, AFIFlags: afiFlags, CustomerASN: customerASN, ProviderASNs: providerASNs}
}

func (p *ASPAPDU) Type() PDUType    { return ASPA }
func (p *ASPAPDU) Version() Version { return p.Ver }

// IsPayload reports whether t is one of the four PDU types a
// Changeset may accumulate (IPv4Prefix, IPv6Prefix, RouterKey, ASPA).
func IsPayload(t PDUType) bool {
	switch t {
	case IPv4Prefix, IPv6Prefix, RouterKey, ASPA:
		return true
	default:
		return false
	}
}

// Flag reports whether the low bit of a payload-bearing PDU's flags
// byte is set (Announce) or clear (Withdraw).
func Flag(flags uint8) uint8 {
	return flags & 0x1
}
