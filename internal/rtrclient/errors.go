package rtrclient

import "errors"

// ErrIO covers transport failures: dial, read, write, unexpected
// connection close.
var ErrIO = errors.New("rtrclient: transport error")

// ErrProtocolViolation covers anything the peer sent that is
// structurally valid RTR but violates the session state machine: a
// payload PDU outside a CacheResponse frame, an ErrorReport the
// session did not ask for, a session_id mismatch on a Serial query.
var ErrProtocolViolation = errors.New("rtrclient: protocol violation")

// ErrUnsupportedVersion is returned when the server's ErrorReport{code:
// UnsupportedProtocolVersion} names a version this Engine was never
// configured to speak.
var ErrUnsupportedVersion = errors.New("rtrclient: unsupported protocol version")

// ErrNoData is returned when the server answers with
// ErrorReport{code: NoDataAvailable}: a transient condition, not a
// cache inconsistency.
var ErrNoData = errors.New("rtrclient: no data available")
