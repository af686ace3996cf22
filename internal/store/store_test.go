package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrclient"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	rec := rtrclient.NewRecord("rtr.example.net", "323", []protocol.Version{protocol.Version1, protocol.Version2})
	rec.State.VRPs[rtrstate.VRPKey{ASN: 4608, Prefix: netaddr.MustParseIPPrefix("1.0.0.0/24"), MaxLength: 24}] = 1
	rec.LastRun = time.Now().Truncate(time.Second).UTC()

	require.NoError(t, s.Save(3, rec))

	got, err := s.Load(3)
	require.NoError(t, err)
	require.Equal(t, rec.Server, got.Server)
	require.Equal(t, rec.Port, got.Port)
	require.Len(t, got.State.VRPs, 1)
	require.True(t, rec.LastRun.Equal(got.LastRun))
}

func TestListOnlyMatchesClientFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	require.NoError(t, s.Save(2, rtrclient.NewRecord("a", "323", nil)))
	require.NoError(t, s.Save(0, rtrclient.NewRecord("b", "323", nil)))
	require.NoError(t, s.Save(1, rtrclient.NewRecord("c", "323", nil)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

	ids, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, ids)
}

func TestListOnMissingDirReturnsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	ids, err := s.List()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save(5, rtrclient.NewRecord("a", "323", nil)))

	path := filepath.Join(dir, "client5.json")
	badContents := `{"server":"a","port":"323","supported_versions":null,"current_version":0,"state":{"session_id":0,"serial_number":0,"vrps":null,"router_keys":null,"aspas":null},"last_run":"0001-01-01T00:00:00Z","unexpected_field":true}`
	require.NoError(t, os.WriteFile(path, []byte(badContents), 0o644))

	_, err := s.Load(5)
	require.Error(t, err)
}
