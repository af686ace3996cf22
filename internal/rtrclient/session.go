// Package rtrclient implements the client side of one RTR
// synchronisation episode: dialling a cache, negotiating a protocol
// version, running either a Reset or Serial query to completion, and
// folding the resulting changeset into a Record's State. Persistence,
// multi-cache fan-out and scheduling live one layer up, in
// internal/orchestrator.
package rtrclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/changeset"
	"github.com/mellowdrifter/rtrsync/internal/clock"
	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
	"go.uber.org/zap"
)

// Dialer opens the transport connection to a cache. Tests substitute
// an in-process dialer against a net.Pipe or local listener;
// production uses DialTCP.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// DialTCP is the production Dialer: a plain TCP connection with
// Nagle's algorithm disabled, since RTR is a small-message, low-
// latency protocol.
func DialTCP(ctx context.Context, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrIO, address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// Engine runs synchronisation episodes against a single cache at a
// time. It holds no per-cache state itself; every call is given the
// Record to read and mutate.
type Engine struct {
	Dial  Dialer
	Clock clock.Clock
	Log   *zap.SugaredLogger
}

// NewEngine returns an Engine ready to run episodes. A nil dial uses
// DialTCP; a nil clk uses the real wall clock.
func NewEngine(dial Dialer, clk clock.Clock, log *zap.SugaredLogger) *Engine {
	if dial == nil {
		dial = DialTCP
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{Dial: dial, Clock: clk, Log: log}
}

// Sync runs one synchronisation attempt against rec if the timer
// policy allows it (or force bypasses that gate), mutating rec in
// place. A transient failure records LastFailure and returns the
// error; rec.State from the prior success is left untouched.
func (e *Engine) Sync(ctx context.Context, rec *Record, force bool) error {
	now := e.Clock.Now()
	rec.applyExpiry(now)
	if !rec.allowed(now, force) {
		return nil
	}

	wantReset := rec.EOD == nil
	err := e.runEpisode(ctx, rec, rec.negotiatedVersion(), wantReset, true)
	if errors.Is(err, rtrstate.ErrWithdrawNotFound) {
		if e.Log != nil {
			e.Log.Warnw("withdraw of unknown record, escalating to reset", "server", rec.Server, "error", err)
		}
		rec.State = rtrstate.Empty()
		rec.EOD = nil
		rec.LastRun = time.Time{}
		err = e.runEpisode(ctx, rec, rec.negotiatedVersion(), true, true)
	}
	now = e.Clock.Now()
	if err != nil {
		rec.recordFailure(now)
		return err
	}
	rec.recordSuccess(now)
	return nil
}

// runEpisode drives exactly one connection's worth of protocol
// exchange. allowEscalation permits one automatic Reset retry if the
// cache answers a Serial query with CacheReset; the recursive retry
// call passes false so a misbehaving cache cannot loop forever.
func (e *Engine) runEpisode(ctx context.Context, rec *Record, version protocol.Version, wantReset bool, allowEscalation bool) error {
	conn, err := e.Dial(ctx, net.JoinHostPort(rec.Server, rec.Port))
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := e.sendQuery(conn, rec, version, wantReset); err != nil {
		return err
	}

	cs := changeset.New()
	inEpisode := false
	var sessionID uint16

	for {
		pdu, err := protocol.Decode(conn)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}

		if report, ok := pdu.(*protocol.ErrorReportPDU); ok && !inEpisode {
			return e.handleErrorReport(ctx, rec, report, wantReset, allowEscalation)
		}

		if pdu.Version() != version {
			e.sendErrorReport(conn, version, protocol.ErrCodeUnexpectedProtoVer,
				fmt.Sprintf("expected protocol version %s", version))
			return fmt.Errorf("%w: peer sent version %s, expected %s", ErrProtocolViolation, pdu.Version(), version)
		}

		switch p := pdu.(type) {
		case *protocol.CacheResponsePDU:
			if !wantReset && rec.EOD.SessionID != p.Session {
				e.sendErrorReport(conn, version, protocol.ErrCodeCorruptData, "session_id mismatch")
				return fmt.Errorf("%w: session_id mismatch, want %d got %d", ErrProtocolViolation, rec.EOD.SessionID, p.Session)
			}
			sessionID = p.Session
			inEpisode = true

		case *protocol.ErrorReportPDU:
			return e.handleErrorReport(ctx, rec, p, wantReset, false)

		case *protocol.SerialNotifyPDU:
			if e.Log != nil {
				e.Log.Debugw("serial notify received mid-episode", "serial", p.Serial)
			}

		case *protocol.CacheResetPDU:
			if !allowEscalation {
				return fmt.Errorf("%w: repeated CacheReset during Reset escalation", ErrProtocolViolation)
			}
			rec.State = rtrstate.Empty()
			rec.EOD = nil
			rec.LastRun = time.Time{}
			return e.runEpisode(ctx, rec, version, true, false)

		case *protocol.EndOfDataPDU:
			if !inEpisode {
				return fmt.Errorf("%w: EndOfData before CacheResponse", ErrProtocolViolation)
			}
			if err := rec.State.Apply(cs); err != nil {
				return err
			}
			rec.State.SessionID = sessionID
			rec.State.Serial = p.Serial
			rec.EOD = endOfDataFromPDU(p, sessionID)
			rec.CurrentVersion = version
			return nil

		default:
			if !cs.CanAdd(pdu) {
				e.sendErrorReport(conn, version, protocol.ErrCodeUnsupportedPDUType, pdu.Type().String())
				return fmt.Errorf("%w: unexpected PDU type %s", ErrProtocolViolation, pdu.Type())
			}
			if !inEpisode {
				return fmt.Errorf("%w: payload PDU before CacheResponse", ErrProtocolViolation)
			}
			if err := cs.Add(pdu); err != nil {
				return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}
		}
	}
}

func (e *Engine) sendQuery(conn net.Conn, rec *Record, version protocol.Version, wantReset bool) error {
	var pdu protocol.PDU
	if wantReset {
		pdu = protocol.NewResetQueryPDU(version)
	} else {
		pdu = protocol.NewSerialQueryPDU(version, rec.EOD.SessionID, rec.State.Serial)
	}
	if err := protocol.Encode(conn, pdu); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (e *Engine) sendErrorReport(conn net.Conn, version protocol.Version, code uint16, text string) {
	pdu := protocol.NewErrorReportPDU(version, code, nil, text)
	_ = protocol.Encode(conn, pdu)
}

// handleErrorReport interprets an ErrorReport received before a
// CacheResponse: code 4 (UnsupportedProtocolVersion) triggers a
// single renegotiation at the version carried in the report's own
// header, provided this client supports it; code 2 (NoDataAvailable)
// is transient; anything else is a protocol violation.
func (e *Engine) handleErrorReport(ctx context.Context, rec *Record, report *protocol.ErrorReportPDU, wantReset bool, allowEscalation bool) error {
	switch report.Code {
	case protocol.ErrCodeUnsupportedProtoVer:
		if !allowEscalation {
			return fmt.Errorf("%w: server rejected renegotiated version %s", ErrUnsupportedVersion, report.Ver)
		}
		if !rec.supports(report.Ver) {
			return fmt.Errorf("%w: server requires version %s", ErrUnsupportedVersion, report.Ver)
		}
		rec.CurrentVersion = report.Ver
		rec.EOD = nil
		return e.runEpisode(ctx, rec, report.Ver, wantReset, false)

	case protocol.ErrCodeNoDataAvailable:
		return fmt.Errorf("%w: %s", ErrNoData, report.Text)

	default:
		return fmt.Errorf("%w: server reported error %d: %s", ErrProtocolViolation, report.Code, report.Text)
	}
}
