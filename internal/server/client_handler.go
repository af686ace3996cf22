package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"go.uber.org/zap"
)

// client is one accepted connection's session. It owns the socket for
// the lifetime of Handle and is never shared across goroutines.
type client struct {
	conn    net.Conn
	logger  *zap.SugaredLogger
	maint   *Maintainer
	id      string
	version protocol.Version
}

func newClient(conn net.Conn, logger *zap.SugaredLogger, maint *Maintainer) *client {
	remote := conn.RemoteAddr().String()
	return &client{
		conn:   conn,
		logger: logger.With("client", remote),
		maint:  maint,
		id:     remote,
	}
}

// Handle negotiates a version on the first query, then answers every
// Reset or Serial query read from the same connection until the peer
// disconnects or sends something invalid. A PDU at a version other
// than the negotiated one is answered with ErrorReport{code=8}.
// Every exit path closes conn.
func (c *client) Handle() error {
	defer c.conn.Close()
	c.logger.Info("client connected")

	negotiated := false
	for {
		pdu, err := protocol.Decode(c.conn)
		if err != nil {
			if isDisconnect(err) {
				c.logger.Info("client disconnected")
				return nil
			}
			if errors.Is(err, protocol.ErrUnknownType) {
				c.sendError(c.version, protocol.ErrCodeUnsupportedPDUType, "unsupported PDU type")
				return err
			}
			c.sendError(c.version, protocol.ErrCodeCorruptData, "malformed PDU")
			return err
		}

		if negotiated && pdu.Version() != c.version {
			c.sendError(c.version, protocol.ErrCodeUnexpectedProtoVer, "unexpected protocol version")
			return fmt.Errorf("server: client switched from version %s to %s", c.version, pdu.Version())
		}

		switch p := pdu.(type) {
		case *protocol.ResetQueryPDU:
			if err := c.negotiate(p.Ver); err != nil {
				return err
			}
			c.serveReset()

		case *protocol.SerialQueryPDU:
			if err := c.negotiate(p.Ver); err != nil {
				return err
			}
			c.serveSerial(p)

		default:
			c.logger.Warnf("unexpected PDU type %s before a query", pdu.Type())
			c.sendError(c.version, protocol.ErrCodeCorruptData, "expected a query PDU")
			return fmt.Errorf("server: unexpected PDU type %s", pdu.Type())
		}
		negotiated = true
	}
}

// negotiate accepts want if this server speaks it, otherwise answers
// ErrorReport{code=4} naming the server's highest supported version
// and lets the client retry once, per the version-negotiation rule in
// §4.4 of the protocol's client-side counterpart.
func (c *client) negotiate(want protocol.Version) error {
	highest := protocol.SupportedVersions[0]
	for _, v := range protocol.SupportedVersions {
		if v > highest {
			highest = v
		}
		if v == want {
			c.version = want
			return nil
		}
	}
	c.sendError(highest, protocol.ErrCodeUnsupportedProtoVer, "unsupported protocol version")
	return fmt.Errorf("server: client requested unsupported version %d", want)
}

func (c *client) serveReset() {
	c.logger.Debug("serving reset query")
	if err := c.writeAll(protocol.NewCacheResponsePDU(c.version, c.maint.SessionID())); err != nil {
		c.logger.Warnf("write CacheResponse: %v", err)
		return
	}
	for _, pdu := range c.maint.FullPDUs(c.version) {
		if err := c.writeAll(pdu); err != nil {
			c.logger.Warnf("write payload PDU: %v", err)
			return
		}
	}
	_, serial := c.maint.Snapshot()
	c.sendEndOfData(serial)
}

func (c *client) serveSerial(p *protocol.SerialQueryPDU) {
	c.logger.Debugf("serving serial query: session=%d serial=%d", p.Session, p.Serial)
	if p.Session != c.maint.SessionID() {
		c.logger.Infof("session_id mismatch (have %d, want %d); sending CacheReset", p.Session, c.maint.SessionID())
		_ = c.writeAll(protocol.NewCacheResetPDU(c.version))
		return
	}

	pdus, ok := c.maint.Since(p.Serial, c.version)
	if !ok {
		c.logger.Infof("serial %d no longer recoverable; sending CacheReset", p.Serial)
		_ = c.writeAll(protocol.NewCacheResetPDU(c.version))
		return
	}

	if err := c.writeAll(protocol.NewCacheResponsePDU(c.version, c.maint.SessionID())); err != nil {
		c.logger.Warnf("write CacheResponse: %v", err)
		return
	}
	for _, pdu := range pdus {
		if err := c.writeAll(pdu); err != nil {
			c.logger.Warnf("write delta PDU: %v", err)
			return
		}
	}
	_, serial := c.maint.Snapshot()
	c.sendEndOfData(serial)
}

func (c *client) sendEndOfData(serial uint32) {
	pdu := protocol.NewEndOfDataPDU(c.version, c.maint.SessionID(), serial,
		DefaultRefreshInterval, DefaultRetryInterval, DefaultExpireInterval)
	if err := c.writeAll(pdu); err != nil {
		c.logger.Warnf("write EndOfData: %v", err)
	}
}

// notify sends an unsolicited SerialNotify, used by the periodic
// refresher to tell a connected client new data is available.
func (c *client) notify(serial uint32) {
	pdu := protocol.NewSerialNotifyPDU(c.version, c.maint.SessionID(), serial)
	if err := c.writeAll(pdu); err != nil {
		c.logger.Warnf("write SerialNotify: %v", err)
	}
}

func (c *client) sendError(version protocol.Version, code uint16, text string) {
	pdu := protocol.NewErrorReportPDU(version, code, nil, text)
	if err := c.writeAll(pdu); err != nil {
		c.logger.Warnf("write ErrorReport: %v", err)
	}
}

func (c *client) writeAll(pdu protocol.PDU) error {
	return protocol.Encode(c.conn, pdu)
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
