package protocol

import "errors"

// ErrMalformed is returned by Decode when the byte stream does not
// contain a structurally valid PDU: a short header, a length field
// that disagrees with the body, or a reserved field that must be zero
// but isn't.
var ErrMalformed = errors.New("protocol: malformed PDU")

// ErrUnknownType is returned by Decode when the header names a type
// outside the eleven known PDU types. Callers translate this into an
// ErrorReport{code: ErrCodeUnsupportedPDUType} response; the codec
// itself never writes to the wire.
var ErrUnknownType = errors.New("protocol: unknown PDU type")
