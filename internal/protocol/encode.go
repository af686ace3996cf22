package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode marshals pdu and writes it to w in a single call, retrying
// on short writes.
func Encode(w io.Writer, pdu PDU) error {
	buf, err := pdu.Marshal()
	if err != nil {
		return err
	}
	return writeFull(w, buf)
}

func writeFull(w io.Writer, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		if err != nil {
			return fmt.Errorf("protocol: write error after %d of %d bytes: %w", total, len(buf), err)
		}
		if n == 0 {
			return fmt.Errorf("protocol: short write: 0 bytes after %d", total)
		}
		total += n
	}
	return nil
}

func (p *SerialNotifyPDU) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	buf[0] = byte(p.Ver)
	buf[1] = byte(SerialNotify)
	binary.BigEndian.PutUint16(buf[2:4], p.Session)
	binary.BigEndian.PutUint32(buf[4:8], 12)
	binary.BigEndian.PutUint32(buf[8:12], p.Serial)
	return buf, nil
}

func (p *SerialQueryPDU) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	buf[0] = byte(p.Ver)
	buf[1] = byte(SerialQuery)
	binary.BigEndian.PutUint16(buf[2:4], p.Session)
	binary.BigEndian.PutUint32(buf[4:8], 12)
	binary.BigEndian.PutUint32(buf[8:12], p.Serial)
	return buf, nil
}

func (p *ResetQueryPDU) Marshal() ([]byte, error) {
	buf := make([]byte, 8)
	buf[0] = byte(p.Ver)
	buf[1] = byte(ResetQuery)
	binary.BigEndian.PutUint32(buf[4:8], 8)
	return buf, nil
}

func (p *CacheResponsePDU) Marshal() ([]byte, error) {
	buf := make([]byte, 8)
	buf[0] = byte(p.Ver)
	buf[1] = byte(CacheResponse)
	binary.BigEndian.PutUint16(buf[2:4], p.Session)
	binary.BigEndian.PutUint32(buf[4:8], 8)
	return buf, nil
}

func (p *IPv4PrefixPDU) Marshal() ([]byte, error) {
	if p.PrefixLen > p.MaxLen || p.MaxLen > 32 {
		return nil, fmt.Errorf("protocol: invalid IPv4 prefix/max length %d/%d: %w", p.PrefixLen, p.MaxLen, ErrMalformed)
	}
	buf := make([]byte, 20)
	buf[0] = byte(p.Ver)
	buf[1] = byte(IPv4Prefix)
	binary.BigEndian.PutUint32(buf[4:8], 20)
	buf[8] = p.Flags
	buf[9] = 0
	buf[10] = p.PrefixLen
	buf[11] = p.MaxLen
	copy(buf[12:16], p.Prefix[:])
	binary.BigEndian.PutUint32(buf[16:20], p.ASN)
	return buf, nil
}

func (p *IPv6PrefixPDU) Marshal() ([]byte, error) {
	if p.PrefixLen > p.MaxLen || p.MaxLen > 128 {
		return nil, fmt.Errorf("protocol: invalid IPv6 prefix/max length %d/%d: %w", p.PrefixLen, p.MaxLen, ErrMalformed)
	}
	buf := make([]byte, 32)
	buf[0] = byte(p.Ver)
	buf[1] = byte(IPv6Prefix)
	binary.BigEndian.PutUint32(buf[4:8], 32)
	buf[8] = p.Flags
	buf[9] = 0
	buf[10] = p.PrefixLen
	buf[11] = p.MaxLen
	copy(buf[12:28], p.Prefix[:])
	binary.BigEndian.PutUint32(buf[28:32], p.ASN)
	return buf, nil
}

func (p *EndOfDataPDU) Marshal() ([]byte, error) {
	if p.Ver == Version0 {
		buf := make([]byte, 12)
		buf[0] = byte(p.Ver)
		buf[1] = byte(EndOfData)
		binary.BigEndian.PutUint16(buf[2:4], p.Session)
		binary.BigEndian.PutUint32(buf[4:8], 12)
		binary.BigEndian.PutUint32(buf[8:12], p.Serial)
		return buf, nil
	}
	buf := make([]byte, 24)
	buf[0] = byte(p.Ver)
	buf[1] = byte(EndOfData)
	binary.BigEndian.PutUint16(buf[2:4], p.Session)
	binary.BigEndian.PutUint32(buf[4:8], 24)
	binary.BigEndian.PutUint32(buf[8:12], p.Serial)
	binary.BigEndian.PutUint32(buf[12:16], p.Refresh)
	binary.BigEndian.PutUint32(buf[16:20], p.Retry)
	binary.BigEndian.PutUint32(buf[20:24], p.Expire)
	return buf, nil
}

func (p *CacheResetPDU) Marshal() ([]byte, error) {
	buf := make([]byte, 8)
	buf[0] = byte(p.Ver)
	buf[1] = byte(CacheReset)
	binary.BigEndian.PutUint32(buf[4:8], 8)
	return buf, nil
}

func (p *RouterKeyPDU) Marshal() ([]byte, error) {
	length := 8 + 1 + 1 + routerKeySKIN + 4 + len(p.SPKI)
	if length > maxPDULength {
		return nil, fmt.Errorf("protocol: RouterKey PDU too large (%d bytes): %w", length, ErrMalformed)
	}
	buf := make([]byte, length)
	buf[0] = byte(p.Ver)
	buf[1] = byte(RouterKey)
	binary.BigEndian.PutUint32(buf[4:8], uint32(length))
	buf[8] = p.Flags
	buf[9] = 0
	copy(buf[10:10+routerKeySKIN], p.SKI[:])
	off := 10 + routerKeySKIN
	binary.BigEndian.PutUint32(buf[off:off+4], p.ASN)
	copy(buf[off+4:], p.SPKI)
	return buf, nil
}

func (p *ErrorReportPDU) Marshal() ([]byte, error) {
	pduLen := len(p.EncapsulatedPDU)
	textLen := len(p.Text)
	length := 8 + 4 + pduLen + 4 + textLen
	if length > maxPDULength {
		return nil, fmt.Errorf("protocol: ErrorReport PDU too large (%d bytes): %w", length, ErrMalformed)
	}
	buf := make([]byte, length)
	buf[0] = byte(p.Ver)
	buf[1] = byte(ErrorReport)
	binary.BigEndian.PutUint16(buf[2:4], p.Code)
	binary.BigEndian.PutUint32(buf[4:8], uint32(length))
	binary.BigEndian.PutUint32(buf[8:12], uint32(pduLen))
	copy(buf[12:12+pduLen], p.EncapsulatedPDU)
	off := 12 + pduLen
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(textLen))
	copy(buf[off+4:], p.Text)
	return buf, nil
}

func (p *ASPAPDU) Marshal() ([]byte, error) {
	if Flag(p.Flags) == Withdraw && len(p.ProviderASNs) != 0 {
		return nil, fmt.Errorf("protocol: ASPA withdraw must carry an empty provider list: %w", ErrMalformed)
	}
	if Flag(p.Flags) == Announce && len(p.ProviderASNs) == 0 {
		return nil, fmt.Errorf("protocol: ASPA announce must carry at least one provider: %w", ErrMalformed)
	}
	length := 16 + 4*len(p.ProviderASNs)
	if length > maxPDULength {
		return nil, fmt.Errorf("protocol: ASPA PDU too large (%d bytes): %w", length, ErrMalformed)
	}
	buf := make([]byte, length)
	buf[0] = byte(p.Ver)
	buf[1] = byte(ASPA)
	binary.BigEndian.PutUint32(buf[4:8], uint32(length))
	buf[8] = p.Flags
	buf[9] = p.AFIFlags
	// buf[10:12] reserved, left zero
	binary.BigEndian.PutUint32(buf[12:16], p.CustomerASN)
	for i, asn := range p.ProviderASNs {
		off := 16 + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], asn)
	}
	return buf, nil
}
