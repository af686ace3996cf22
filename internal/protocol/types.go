// Package protocol implements the RTR wire codec: the PDU types, their
// binary layout, and the marshal/unmarshal functions that move them
// to and from a byte stream. It knows nothing about sockets, sessions,
// or timers — those live in internal/rtrclient and internal/server.
package protocol

import "fmt"

// PDUType is the one-byte type tag that follows the version byte in
// every PDU header.
type PDUType uint8

const (
	SerialNotify  PDUType = 0
	SerialQuery   PDUType = 1
	ResetQuery    PDUType = 2
	CacheResponse PDUType = 3
	IPv4Prefix    PDUType = 4
	IPv6Prefix    PDUType = 6
	EndOfData     PDUType = 7
	CacheReset    PDUType = 8
	RouterKey     PDUType = 9
	ErrorReport   PDUType = 10
	ASPA          PDUType = 11
)

func (t PDUType) String() string {
	switch t {
	case SerialNotify:
		return "SerialNotify"
	case SerialQuery:
		return "SerialQuery"
	case ResetQuery:
		return "ResetQuery"
	case CacheResponse:
		return "CacheResponse"
	case IPv4Prefix:
		return "IPv4Prefix"
	case IPv6Prefix:
		return "IPv6Prefix"
	case EndOfData:
		return "EndOfData"
	case CacheReset:
		return "CacheReset"
	case RouterKey:
		return "RouterKey"
	case ErrorReport:
		return "ErrorReport"
	case ASPA:
		return "ASPA"
	default:
		return fmt.Sprintf("PDUType(%d)", uint8(t))
	}
}

// Version is the protocol version carried in every PDU header.
type Version uint8

const (
	Version0 Version = 0
	Version1 Version = 1
	Version2 Version = 2
)

// SupportedVersions lists every version this codec can encode and decode.
var SupportedVersions = []Version{Version0, Version1, Version2}

func (v Version) String() string {
	switch v {
	case Version0:
		return "v0"
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	default:
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
}

// Flags, the low bit of the one-byte flags field on payload-bearing PDUs.
const (
	Withdraw uint8 = 0
	Announce uint8 = 1
)

// Error codes from the RTR error-report registry (the subset this
// implementation sends or recognises).
const (
	ErrCodeCorruptData         uint16 = 0
	ErrCodeNoDataAvailable     uint16 = 2
	ErrCodeUnsupportedPDUType  uint16 = 3
	ErrCodeUnsupportedProtoVer uint16 = 4
	ErrCodeUnexpectedProtoVer  uint16 = 8
)

const (
	minPDULength  = 8
	maxPDULength  = 65535
	routerKeySKIN = 20
)
