package rtrclient

import (
	"time"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
)

// Default timer values used until a cache's own EndOfData supplies
// its own (RFC 8210 §5.3 suggests these as sane defaults).
const (
	DefaultRefreshInterval = 3600 * time.Second
	DefaultRetryInterval   = 600 * time.Second
	DefaultExpireInterval  = 7200 * time.Second

	// version0ExpireInterval is the fixed expiry used for version 0
	// caches, which never send an expire_interval of their own.
	version0ExpireInterval = 3600 * time.Second
)

// EndOfData is the persisted shape of the last EndOfData PDU a
// session received: enough to resume Serial synchronisation and to
// drive the timer policy.
type EndOfData struct {
	SessionID uint16 `json:"session_id"`
	Serial    uint32 `json:"serial_number"`
	Refresh   uint32 `json:"refresh_interval"`
	Retry     uint32 `json:"retry_interval"`
	Expire    uint32 `json:"expire_interval"`
}

func endOfDataFromPDU(p *protocol.EndOfDataPDU, sessionID uint16) *EndOfData {
	return &EndOfData{
		SessionID: sessionID,
		Serial:    p.Serial,
		Refresh:   p.Refresh,
		Retry:     p.Retry,
		Expire:    p.Expire,
	}
}

// Record is the per-cache state the orchestrator owns and persists
// across invocations, and that the session engine borrows for the
// duration of one episode.
type Record struct {
	Server            string            `json:"server"`
	Port              string            `json:"port"`
	SupportedVersions []protocol.Version `json:"supported_versions"`
	CurrentVersion    protocol.Version  `json:"current_version"`

	State rtrstate.State `json:"state"`
	EOD   *EndOfData     `json:"eod,omitempty"`

	LastRun     time.Time `json:"last_run"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// NewRecord returns a freshly initialized Record for server:port,
// willing to speak any of supportedVersions. No episode has run yet.
func NewRecord(server, port string, supportedVersions []protocol.Version) *Record {
	return &Record{
		Server:            server,
		Port:              port,
		SupportedVersions: append([]protocol.Version(nil), supportedVersions...),
		State:             rtrstate.Empty(),
	}
}

// negotiatedVersion returns the version to open the next episode
// with: the version that last succeeded, or the highest supported
// version if no episode has ever completed.
func (r *Record) negotiatedVersion() protocol.Version {
	if r.EOD != nil {
		return r.CurrentVersion
	}
	best := r.SupportedVersions[0]
	for _, v := range r.SupportedVersions[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func (r *Record) supports(v protocol.Version) bool {
	for _, sv := range r.SupportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}

func (r *Record) refreshInterval() time.Duration {
	if r.EOD == nil {
		return 0
	}
	return time.Duration(r.EOD.Refresh) * time.Second
}

func (r *Record) retryInterval() time.Duration {
	if r.EOD == nil {
		return DefaultRetryInterval
	}
	return time.Duration(r.EOD.Retry) * time.Second
}

func (r *Record) expireInterval() time.Duration {
	if r.CurrentVersion == protocol.Version0 {
		return version0ExpireInterval
	}
	if r.EOD == nil {
		return DefaultExpireInterval
	}
	return time.Duration(r.EOD.Expire) * time.Second
}

// allowed reports whether a sync attempt at time now may proceed,
// per the refresh/retry timer gates. force bypasses both gates. A
// gate's boundary instant itself (now == last_failure+retry_interval,
// or now == last_run+refresh_interval) still blocks; only an instant
// strictly after it opens the gate.
func (r *Record) allowed(now time.Time, force bool) bool {
	if force {
		return true
	}
	if !r.LastFailure.IsZero() && !now.After(r.LastFailure.Add(r.retryInterval())) {
		return false
	}
	if !r.LastRun.IsZero() && !now.After(r.LastRun.Add(r.refreshInterval())) {
		return false
	}
	return true
}

// applyExpiry discards cached State when the expire gate has passed:
// the last failure is later than the last success, and the expire
// interval has elapsed since that failure.
func (r *Record) applyExpiry(now time.Time) {
	if r.LastFailure.IsZero() || !r.LastFailure.After(r.LastRun) {
		return
	}
	if now.After(r.LastFailure.Add(r.expireInterval())) {
		r.State = rtrstate.Empty()
		r.EOD = nil
		r.LastRun = time.Time{}
	}
}

func (r *Record) recordSuccess(now time.Time) {
	r.LastRun = now
	r.LastFailure = time.Time{}
}

func (r *Record) recordFailure(now time.Time) {
	r.LastFailure = now
}
