// Package changeset accumulates the payload-bearing PDUs of one
// synchronisation episode into an ordered batch that is later applied
// to rtrstate.State as a single atomic step.
package changeset

import (
	"errors"
	"fmt"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
)

// ErrMixedVersion is returned by Add when a PDU's version disagrees
// with the version of PDUs already in the Changeset.
var ErrMixedVersion = errors.New("changeset: mixed PDU versions")

// ErrNotPayload is returned by Add when the PDU is not one of the
// four payload-bearing types a Changeset may hold.
var ErrNotPayload = errors.New("changeset: PDU is not a payload type")

// Changeset is an ordered, type-tagged accumulator of announce/
// withdraw PDUs. Order is preserved: the protocol requires producers
// to emit withdraws before any announce that re-instates the same
// key, and State.Apply relies on that ordering being honoured here.
type Changeset struct {
	version protocol.Version
	hasAny  bool
	pdus    []protocol.PDU
}

// New returns an empty Changeset.
func New() *Changeset {
	return &Changeset{}
}

// CanAdd reports whether pdu is a type this Changeset may accumulate:
// IPv4Prefix, IPv6Prefix, RouterKey or ASPA. Every other PDU type
// (SerialNotify, CacheResponse, EndOfData, CacheReset, ErrorReport,
// the queries) must be handled directly by the session engine.
func (c *Changeset) CanAdd(pdu protocol.PDU) bool {
	return protocol.IsPayload(pdu.Type())
}

// Add appends pdu to the Changeset, preserving arrival order.
func (c *Changeset) Add(pdu protocol.PDU) error {
	if !c.CanAdd(pdu) {
		return fmt.Errorf("%w: %s", ErrNotPayload, pdu.Type())
	}
	if c.hasAny && pdu.Version() != c.version {
		return fmt.Errorf("%w: have %s, got %s", ErrMixedVersion, c.version, pdu.Version())
	}
	if !c.hasAny {
		c.version = pdu.Version()
		c.hasAny = true
	}
	c.pdus = append(c.pdus, pdu)
	return nil
}

// PDUs returns the accumulated PDUs in arrival order. The returned
// slice is owned by the caller; Changeset keeps no reference to it.
func (c *Changeset) PDUs() []protocol.PDU {
	out := make([]protocol.PDU, len(c.pdus))
	copy(out, c.pdus)
	return out
}

// Len returns the number of accumulated PDUs.
func (c *Changeset) Len() int {
	return len(c.pdus)
}

// Version returns the shared version of all accumulated PDUs. The
// second return is false if the Changeset is still empty.
func (c *Changeset) Version() (protocol.Version, bool) {
	return c.version, c.hasAny
}
