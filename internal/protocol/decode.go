package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decode reads exactly one PDU from r: the 8-byte header, then
// whatever body the header's length field and type byte imply.
//
// It returns ErrUnknownType (wrapping the raw type byte and version)
// when the type is outside the eleven known PDU types — callers are
// expected to answer with ErrorReport{code: ErrCodeUnsupportedPDUType}
// rather than have the codec do it, since only the session knows
// whether a report is appropriate. Every other structural problem is
// ErrMalformed.
func Decode(r io.Reader) (PDU, error) {
	header := make([]byte, minPDULength)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("protocol: short header: %w", ErrMalformed)
		}
		return nil, fmt.Errorf("protocol: read header: %w", err)
	}

	version := Version(header[0])
	ptype := PDUType(header[1])
	field16 := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint32(header[4:8])

	if length < minPDULength || length > maxPDULength {
		return nil, fmt.Errorf("protocol: invalid PDU length %d: %w", length, ErrMalformed)
	}

	body := make([]byte, length-minPDULength)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("protocol: read body: %w", err)
		}
	}

	return decodeBody(version, ptype, field16, length, body)
}

func decodeBody(version Version, ptype PDUType, field16 uint16, length uint32, body []byte) (PDU, error) {
	switch ptype {
	case SerialNotify:
		if length != 12 {
			return nil, fmt.Errorf("protocol: SerialNotify length %d, want 12: %w", length, ErrMalformed)
		}
		return &SerialNotifyPDU{Ver: version, Session: field16, Serial: binary.BigEndian.Uint32(body[0:4])}, nil

	case SerialQuery:
		if length != 12 {
			return nil, fmt.Errorf("protocol: SerialQuery length %d, want 12: %w", length, ErrMalformed)
		}
		return &SerialQueryPDU{Ver: version, Session: field16, Serial: binary.BigEndian.Uint32(body[0:4])}, nil

	case ResetQuery:
		if length != 8 {
			return nil, fmt.Errorf("protocol: ResetQuery length %d, want 8: %w", length, ErrMalformed)
		}
		if field16 != 0 {
			return nil, fmt.Errorf("protocol: ResetQuery reserved field non-zero: %w", ErrMalformed)
		}
		return &ResetQueryPDU{Ver: version}, nil

	case CacheResponse:
		if length != 8 {
			return nil, fmt.Errorf("protocol: CacheResponse length %d, want 8: %w", length, ErrMalformed)
		}
		return &CacheResponsePDU{Ver: version, Session: field16}, nil

	case IPv4Prefix:
		if length != 20 {
			return nil, fmt.Errorf("protocol: IPv4Prefix length %d, want 20: %w", length, ErrMalformed)
		}
		if body[1] != 0 {
			return nil, fmt.Errorf("protocol: IPv4Prefix reserved byte non-zero: %w", ErrMalformed)
		}
		p := &IPv4PrefixPDU{
			Ver:       version,
			Flags:     body[0],
			PrefixLen: body[2],
			MaxLen:    body[3],
			ASN:       binary.BigEndian.Uint32(body[8:12]),
		}
		copy(p.Prefix[:], body[4:8])
		if p.PrefixLen > p.MaxLen || p.MaxLen > 32 {
			return nil, fmt.Errorf("protocol: invalid IPv4 prefix/max length %d/%d: %w", p.PrefixLen, p.MaxLen, ErrMalformed)
		}
		return p, nil

	case IPv6Prefix:
		if length != 32 {
			return nil, fmt.Errorf("protocol: IPv6Prefix length %d, want 32: %w", length, ErrMalformed)
		}
		if body[1] != 0 {
			return nil, fmt.Errorf("protocol: IPv6Prefix reserved byte non-zero: %w", ErrMalformed)
		}
		p := &IPv6PrefixPDU{
			Ver:       version,
			Flags:     body[0],
			PrefixLen: body[2],
			MaxLen:    body[3],
			ASN:       binary.BigEndian.Uint32(body[20:24]),
		}
		copy(p.Prefix[:], body[4:20])
		if p.PrefixLen > p.MaxLen || p.MaxLen > 128 {
			return nil, fmt.Errorf("protocol: invalid IPv6 prefix/max length %d/%d: %w", p.PrefixLen, p.MaxLen, ErrMalformed)
		}
		return p, nil

	case EndOfData:
		switch length {
		case 12:
			return &EndOfDataPDU{Ver: version, Session: field16, Serial: binary.BigEndian.Uint32(body[0:4])}, nil
		case 24:
			return &EndOfDataPDU{
				Ver:     version,
				Session: field16,
				Serial:  binary.BigEndian.Uint32(body[0:4]),
				Refresh: binary.BigEndian.Uint32(body[4:8]),
				Retry:   binary.BigEndian.Uint32(body[8:12]),
				Expire:  binary.BigEndian.Uint32(body[12:16]),
			}, nil
		default:
			return nil, fmt.Errorf("protocol: EndOfData length %d, want 12 or 24: %w", length, ErrMalformed)
		}

	case CacheReset:
		if length != 8 {
			return nil, fmt.Errorf("protocol: CacheReset length %d, want 8: %w", length, ErrMalformed)
		}
		if field16 != 0 {
			return nil, fmt.Errorf("protocol: CacheReset reserved field non-zero: %w", ErrMalformed)
		}
		return &CacheResetPDU{Ver: version}, nil

	case RouterKey:
		if len(body) < 1+1+routerKeySKIN+4 {
			return nil, fmt.Errorf("protocol: RouterKey body too short (%d bytes): %w", len(body), ErrMalformed)
		}
		if body[1] != 0 {
			return nil, fmt.Errorf("protocol: RouterKey reserved byte non-zero: %w", ErrMalformed)
		}
		p := &RouterKeyPDU{Ver: version, Flags: body[0]}
		copy(p.SKI[:], body[2:2+routerKeySKIN])
		off := 2 + routerKeySKIN
		p.ASN = binary.BigEndian.Uint32(body[off : off+4])
		if spkiLen := len(body) - (off + 4); spkiLen > 0 {
			p.SPKI = append([]byte(nil), body[off+4:]...)
		}
		return p, nil

	case ErrorReport:
		if len(body) < 4 {
			return nil, fmt.Errorf("protocol: ErrorReport body too short (%d bytes): %w", len(body), ErrMalformed)
		}
		pduLen := binary.BigEndian.Uint32(body[0:4])
		if uint64(pduLen) > uint64(len(body)-4) {
			return nil, fmt.Errorf("protocol: ErrorReport pdu_len %d exceeds body: %w", pduLen, ErrMalformed)
		}
		rest := body[4+pduLen:]
		if len(rest) < 4 {
			return nil, fmt.Errorf("protocol: ErrorReport missing text length: %w", ErrMalformed)
		}
		textLen := binary.BigEndian.Uint32(rest[0:4])
		if uint64(textLen) != uint64(len(rest)-4) {
			return nil, fmt.Errorf("protocol: ErrorReport text_len %d does not match remaining body: %w", textLen, ErrMalformed)
		}
		p := &ErrorReportPDU{Ver: version, Code: field16}
		if pduLen > 0 {
			p.EncapsulatedPDU = append([]byte(nil), body[4:4+pduLen]...)
		}
		if textLen > 0 {
			p.Text = string(rest[4:])
		}
		return p, nil

	case ASPA:
		if len(body) < 8 {
			return nil, fmt.Errorf("protocol: ASPA body too short (%d bytes): %w", len(body), ErrMalformed)
		}
		if (len(body)-8)%4 != 0 {
			return nil, fmt.Errorf("protocol: ASPA body length %d not a multiple of 4 after header: %w", len(body), ErrMalformed)
		}
		p := &ASPAPDU{
			Ver:         version,
			Flags:       body[0],
			AFIFlags:    body[1],
			CustomerASN: binary.BigEndian.Uint32(body[4:8]),
		}
		n := (len(body) - 8) / 4
		if n > 0 {
			p.ProviderASNs = make([]uint32, n)
			for i := 0; i < n; i++ {
				off := 8 + i*4
				p.ProviderASNs[i] = binary.BigEndian.Uint32(body[off : off+4])
			}
		}
		if Flag(p.Flags) == Withdraw && len(p.ProviderASNs) != 0 {
			return nil, fmt.Errorf("protocol: ASPA withdraw must carry an empty provider list: %w", ErrMalformed)
		}
		if Flag(p.Flags) == Announce && len(p.ProviderASNs) == 0 {
			return nil, fmt.Errorf("protocol: ASPA announce must carry at least one provider: %w", ErrMalformed)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: type %d, version %d", ErrUnknownType, ptype, version)
	}
}
