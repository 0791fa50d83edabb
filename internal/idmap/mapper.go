// Package idmap tracks source-to-destination identifier mappings for the
// import so that re-runs skip rows that were already written.
package idmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Entity types.
const (
	User     = "user"
	Project  = "project"
	Group    = "group"
	Task     = "task"
	Comment  = "comment"
	Document = "document"
)

// DefaultPath is the id-map location relative to the output root.
const DefaultPath = "_import/id-map.json"

// ErrMappingNotFound is matched by every *MappingNotFoundError.
var ErrMappingNotFound = errors.New("mapping not found")

// MappingNotFoundError reports a missing mapping for a required reference.
type MappingNotFoundError struct {
	Entity   string
	SourceID int64
}

func (e *MappingNotFoundError) Error() string {
	return fmt.Sprintf("no %s mapping for source id %d", e.Entity, e.SourceID)
}

// Is makes errors.Is(err, ErrMappingNotFound) hold.
func (e *MappingNotFoundError) Is(target error) bool {
	return target == ErrMappingNotFound
}

// Mapper is a goroutine-safe entity -> source id -> destination id table.
// The first mapping recorded for an id wins.
type Mapper struct {
	mu sync.RWMutex
	m  map[string]map[int64]string
}

// New returns an empty mapper.
func New() *Mapper {
	return &Mapper{m: make(map[string]map[int64]string)}
}

// Set records a mapping unless one already exists. It reports whether the
// mapping was added.
func (m *Mapper) Set(entity string, srcID int64, destID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(entity, srcID, destID)
}

func (m *Mapper) set(entity string, srcID int64, destID string) bool {
	byID := m.m[entity]
	if byID == nil {
		byID = make(map[int64]string)
		m.m[entity] = byID
	}
	if _, ok := byID[srcID]; ok {
		return false
	}
	byID[srcID] = destID
	return true
}

// Get returns the destination id for srcID.
func (m *Mapper) Get(entity string, srcID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.m[entity][srcID]
	return id, ok
}

// GetRequired is Get for references that must already be mapped.
func (m *Mapper) GetRequired(entity string, srcID int64) (string, error) {
	if id, ok := m.Get(entity, srcID); ok {
		return id, nil
	}
	return "", &MappingNotFoundError{Entity: entity, SourceID: srcID}
}

// Has reports whether srcID is mapped.
func (m *Mapper) Has(entity string, srcID int64) bool {
	_, ok := m.Get(entity, srcID)
	return ok
}

// Count returns the number of mappings for an entity type.
func (m *Mapper) Count(entity string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m[entity])
}

// Entities returns the entity types with at least one mapping, sorted.
func (m *Mapper) Entities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.m))
	for e, byID := range m.m {
		if len(byID) > 0 {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// Summary returns the mapping count per entity type.
func (m *Mapper) Summary() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.m))
	for e, byID := range m.m {
		out[e] = len(byID)
	}
	return out
}

// Save writes the table as {"entity": {"srcID": "destID"}} through a temp
// file and rename.
func (m *Mapper) Save(path string) error {
	m.mu.RLock()
	doc := make(map[string]map[string]string, len(m.m))
	for e, byID := range m.m {
		inner := make(map[string]string, len(byID))
		for src, dest := range byID {
			inner[strconv.FormatInt(src, 10)] = dest
		}
		doc[e] = inner
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding id map: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".id-map-*.json")
	if err != nil {
		return fmt.Errorf("creating temp id map: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing id map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing id map: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing id map: %w", err)
	}
	return nil
}

// Load merges a saved table into m. Existing mappings are kept. A missing
// file is not an error.
func (m *Mapper) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading id map: %w", err)
	}

	var doc map[string]map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding id map: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for e, inner := range doc {
		for src, dest := range inner {
			id, err := strconv.ParseInt(src, 10, 64)
			if err != nil {
				return fmt.Errorf("id map %s: invalid source id %q", e, src)
			}
			m.set(e, id, dest)
		}
	}
	return nil
}
