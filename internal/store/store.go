// Package store is the persistence adapter the orchestrator depends
// on through a narrow interface: one JSON file per ClientRecord,
// consuming only the record's public fields. It is an external
// collaborator, not part of the protocol core — internal/orchestrator
// never imports encoding/json or os directly.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mellowdrifter/rtrsync/internal/rtrclient"
)

// JSONDir persists one clientN.json file per record inside Dir.
type JSONDir struct {
	Dir string
}

// New returns a JSONDir-backed Store rooted at dir. dir is created on
// first Save if it does not already exist.
func New(dir string) *JSONDir {
	return &JSONDir{Dir: dir}
}

func (s *JSONDir) path(id int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("client%d.json", id))
}

// Load reads and strictly decodes the record for id. Unknown
// top-level fields are rejected: a persisted record is a closed,
// versioned shape, not a grab-bag a forward-compatible header would
// tolerate.
func (s *JSONDir) Load(id int) (*rtrclient.Record, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("store: open client %d: %w", id, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var rec rtrclient.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("store: decode client %d: %w", id, err)
	}
	return &rec, nil
}

// Save writes rec for id, replacing any previous contents atomically
// (write to a temp file, then rename) so a crash mid-write never
// leaves a half-written record behind.
func (s *JSONDir) Save(id int, rec *rtrclient.Record) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", s.Dir, err)
	}

	buf, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode client %d: %w", id, err)
	}

	tmp, err := os.CreateTemp(s.Dir, fmt.Sprintf(".client%d-*.json", id))
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write client %d: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// List returns every client id with a persisted record in Dir, sorted
// ascending.
func (s *JSONDir) List() ([]int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.Dir, err)
	}

	var ids []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "client") || !strings.HasSuffix(name, ".json") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "client"), ".json")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
