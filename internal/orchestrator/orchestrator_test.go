package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/clock"
	"github.com/mellowdrifter/rtrsync/internal/config"
	"github.com/mellowdrifter/rtrsync/internal/logging"
	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrclient"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
	"github.com/mellowdrifter/rtrsync/internal/server"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"
)

// memStore is an in-memory Store for tests; internal/store's JSON
// implementation is exercised separately against the filesystem.
type memStore struct {
	recs map[int]*rtrclient.Record
}

func newMemStore() *memStore { return &memStore{recs: make(map[int]*rtrclient.Record)} }

func (m *memStore) Load(id int) (*rtrclient.Record, error) { return m.recs[id], nil }
func (m *memStore) Save(id int, rec *rtrclient.Record) error {
	m.recs[id] = rec
	return nil
}
func (m *memStore) List() ([]int, error) {
	ids := make([]int, 0, len(m.recs))
	for id := range m.recs {
		ids = append(ids, id)
	}
	return ids, nil
}

// startTestServer runs a reference server seeded with a single VRP,
// on an ephemeral port, and returns its address and a stop func.
func startTestServer(t *testing.T, vrp rtrstate.VRPKey) string {
	t.Helper()
	cfg := &config.Config{ListenAddr: "127.0.0.1:0"}
	logger := logging.New("error")
	maint := server.NewMaintainer(func(context.Context) (rtrstate.State, error) {
		s := rtrstate.Empty()
		s.VRPs[vrp] = 1
		return s, nil
	})
	srv := server.NewWithMaintainer(cfg, logger, maint)

	ready := make(chan string, 1)
	go func() {
		l, err := net.Listen("tcp", cfg.ListenAddr)
		require.NoError(t, err)
		cfg.ListenAddr = l.Addr().String()
		l.Close()
		ready <- cfg.ListenAddr
		_ = srv.Start()
	}()
	addr := <-ready

	t.Cleanup(func() { _ = srv.Stop(time.Second) })

	// Give the listener a moment to rebind on the now-known address.
	for i := 0; i < 50; i++ {
		conn, err := net.DialTimeout("tcp", addr, 20*time.Millisecond)
		if err == nil {
			conn.Close()
			return addr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server on %s never became reachable", addr)
	return addr
}

func vrpKey(asn uint32, prefix string) rtrstate.VRPKey {
	return rtrstate.VRPKey{ASN: asn, Prefix: netaddr.MustParseIPPrefix(prefix), MaxLength: uint8(netaddr.MustParseIPPrefix(prefix).Bits())}
}

// S3: two-cache merge over VRPs.
func TestOrchestratorMergedTwoCaches(t *testing.T) {
	addrA := startTestServer(t, vrpKey(4608, "1.0.0.0/24"))
	addrB := startTestServer(t, vrpKey(2000, "10.0.0.0/24"))

	store := newMemStore()
	engine := rtrclient.NewEngine(nil, clock.Real{}, nil)
	orch := New(store, engine)

	require.NoError(t, orch.Init([]Cache{splitAddr(addrA), splitAddr(addrB)}, protocol.SupportedVersions))

	require.NoError(t, orch.Refresh(context.Background(), 0, true))
	require.NoError(t, orch.Refresh(context.Background(), 1, true))

	merged, err := orch.Merged()
	require.NoError(t, err)

	require.Len(t, merged.VRPs, 2)
	assert4608 := false
	assert2000 := false
	for k, count := range merged.VRPs {
		if k.ASN == 4608 {
			assert4608 = true
			require.Equal(t, 1, count)
		}
		if k.ASN == 2000 {
			assert2000 = true
			require.Equal(t, 1, count)
		}
	}
	require.True(t, assert4608)
	require.True(t, assert2000)
}

func TestRefreshAllCollectsPerRecordFailures(t *testing.T) {
	addrA := startTestServer(t, vrpKey(1, "1.1.1.0/24"))

	store := newMemStore()
	engine := rtrclient.NewEngine(nil, clock.Real{}, nil)
	orch := New(store, engine)

	require.NoError(t, orch.Init([]Cache{
		splitAddr(addrA),
		{Server: "127.0.0.1", Port: "1"}, // unreachable: nothing listens on port 1
	}, protocol.SupportedVersions))

	failures := orch.RefreshAll(context.Background(), true)
	require.Len(t, failures, 1)
	_, ok := failures[1]
	require.True(t, ok)

	// The healthy cache's record must still have synced despite its
	// sibling's failure.
	state, err := orch.State(0)
	require.NoError(t, err)
	require.Len(t, state.VRPs, 1)
}

func splitAddr(addr string) Cache {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		panic(err)
	}
	return Cache{Server: host, Port: port}
}
