package fhir

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRecord struct {
	versionID   int
	lastUpdated time.Time
	deleted     bool
	resource    Resource
}

type memVersion struct {
	versionID int
	resource  Resource
}

// MemStore is an in-memory Store used by unit tests and the dev server. It
// mirrors PGStore semantics exactly, including primary-key collisions with
// deleted records.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*memRecord
	history map[string][]memVersion
	index   map[string][]IndexEntry
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]*memRecord),
		history: make(map[string][]memVersion),
		index:   make(map[string][]IndexEntry),
	}
}

func memKey(resourceType, id string) string {
	return resourceType + "/" + id
}

func (s *MemStore) Create(_ context.Context, res Resource) (string, error) {
	resourceType := res.Type()
	if resourceType == "" {
		return "", ErrInvalidResource
	}
	if res.ID() == "" {
		res.SetID(uuid.New().String())
	}
	now := time.Now().UTC()
	res.SetMeta(1, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(resourceType, res.ID())
	if _, ok := s.records[key]; ok {
		return "", ErrDuplicate
	}
	stored := res.Clone()
	s.records[key] = &memRecord{versionID: 1, lastUpdated: now, resource: stored}
	s.history[key] = append(s.history[key], memVersion{versionID: 1, resource: stored})
	s.index[key] = Extract(stored)
	return res.ID(), nil
}

func (s *MemStore) Get(_ context.Context, resourceType, id string) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memKey(resourceType, id)]
	if !ok || rec.deleted {
		return nil, ErrNotFound
	}
	return rec.resource.Clone(), nil
}

func (s *MemStore) GetVersion(_ context.Context, resourceType, id string, versionID int) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.history[memKey(resourceType, id)] {
		if v.versionID == versionID {
			return v.resource.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) History(_ context.Context, resourceType, id string) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.history[memKey(resourceType, id)]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Resource, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i].resource.Clone())
	}
	return out, nil
}

func (s *MemStore) Search(_ context.Context, resourceType, code, value string) ([]Resource, error) {
	want := strings.ToLower(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*memRecord
	for key, entries := range s.index {
		rec, ok := s.records[key]
		if !ok || rec.deleted {
			continue
		}
		for _, e := range entries {
			if e.ResourceType == resourceType && e.Code == code && e.Value == want {
				matched = append(matched, rec)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].lastUpdated.After(matched[j].lastUpdated)
	})
	results := make([]Resource, 0, len(matched))
	for _, rec := range matched {
		results = append(results, rec.resource.Clone())
	}
	return results, nil
}

func (s *MemStore) Update(_ context.Context, id string, res Resource) error {
	resourceType := res.Type()
	if resourceType == "" {
		return ErrInvalidResource
	}
	switch res.ID() {
	case "":
		res.SetID(id)
	case id:
	default:
		return ErrIDMismatch
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(resourceType, id)
	rec, ok := s.records[key]
	if !ok || rec.deleted {
		return ErrNotFound
	}
	version := rec.versionID + 1
	res.SetMeta(version, now)
	stored := res.Clone()
	rec.versionID = version
	rec.lastUpdated = now
	rec.resource = stored
	s.history[key] = append(s.history[key], memVersion{versionID: version, resource: stored})
	s.index[key] = Extract(stored)
	return nil
}

func (s *MemStore) Delete(_ context.Context, resourceType, id string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(resourceType, id)
	rec, ok := s.records[key]
	if !ok || rec.deleted {
		return ErrNotFound
	}
	version := rec.versionID + 1
	snapshot := rec.resource.Clone()
	snapshot.SetMeta(version, now)
	rec.versionID = version
	rec.lastUpdated = now
	rec.deleted = true
	rec.resource = snapshot
	s.history[key] = append(s.history[key], memVersion{versionID: version, resource: snapshot})
	delete(s.index, key)
	return nil
}

func (s *MemStore) ResourceIndex(_ context.Context, resourceType, id string) ([]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.index[memKey(resourceType, id)]
	out := make([]IndexEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemStore) FindIndex(_ context.Context, resourceType, code, value string) ([]IndexEntry, error) {
	want := strings.ToLower(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []IndexEntry
	for _, list := range s.index {
		for _, e := range list {
			if e.ResourceType == resourceType && e.Code == code && e.Value == want {
				entries = append(entries, e)
			}
		}
	}
	return entries, nil
}
