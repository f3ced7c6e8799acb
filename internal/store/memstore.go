package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/memory"
)

// MemStore is an in-memory Store and memory.Backend. It is safe for
// concurrent use and relies on per-record copy-on-write so callers never
// share map state with the store.
type MemStore struct {
	mu        sync.RWMutex
	actions   map[string]*action.Action
	decisions []*action.OverrideDecision
	memories  []*memory.Row
	settings  map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		actions:  make(map[string]*action.Action),
		settings: make(map[string]string),
	}
}

var _ Store = (*MemStore)(nil)
var _ memory.Backend = (*MemStore)(nil)

// CreateAction persists a new action record.
func (s *MemStore) CreateAction(ctx context.Context, a *action.Action) error {
	if a.ID == "" {
		return errors.New("action ID cannot be empty")
	}
	if a.TenantID == "" {
		return action.ErrEmptyTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actions[a.ID]; exists {
		return errors.New("action already exists: " + a.ID)
	}
	s.actions[a.ID] = cloneAction(a)
	return nil
}

// GetAction returns the action by ID.
func (s *MemStore) GetAction(ctx context.Context, id string) (*action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, action.ErrActionNotFound
	}
	return cloneAction(a), nil
}

// UpdateAction replaces the stored record for a.ID.
func (s *MemStore) UpdateAction(ctx context.Context, a *action.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actions[a.ID]; !ok {
		return action.ErrActionNotFound
	}
	s.actions[a.ID] = cloneAction(a)
	return nil
}

// ListActions returns matching actions, newest first.
func (s *MemStore) ListActions(ctx context.Context, f ActionFilter) ([]*action.Action, error) {
	if f.TenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	s.mu.RLock()
	matched := make([]*action.Action, 0)
	for _, a := range s.actions {
		if a.TenantID != f.TenantID {
			continue
		}
		if f.matches(a) {
			matched = append(matched, cloneAction(a))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return page(matched, f.Offset, f.Limit), nil
}

// CountActions counts matching actions.
func (s *MemStore) CountActions(ctx context.Context, f ActionFilter) (int, error) {
	if f.TenantID == "" {
		return 0, action.ErrEmptyTenantID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.actions {
		if a.TenantID == f.TenantID && f.matches(a) {
			n++
		}
	}
	return n, nil
}

// CreateDecision appends one decision row.
func (s *MemStore) CreateDecision(ctx context.Context, d *action.OverrideDecision) error {
	if d.ID == "" {
		return errors.New("decision ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *d
	s.decisions = append(s.decisions, &clone)
	return nil
}

// ListDecisions returns matching decisions, newest first.
func (s *MemStore) ListDecisions(ctx context.Context, f DecisionFilter) ([]*action.OverrideDecision, error) {
	if f.TenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	s.mu.RLock()
	matched := make([]*action.OverrideDecision, 0)
	for _, d := range s.decisions {
		owner, ok := s.actions[d.ActionID]
		if !ok || owner.TenantID != f.TenantID {
			continue
		}
		if len(f.Decisions) > 0 && !containsDecision(f.Decisions, d.Decision) {
			continue
		}
		clone := *d
		matched = append(matched, &clone)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return pageDecisions(matched, f.Offset, f.Limit), nil
}

// GetSetting returns the value and whether it was present.
func (s *MemStore) GetSetting(ctx context.Context, tenantID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[tenantID+"/"+key]
	return v, ok, nil
}

// SetSetting creates or replaces the value.
func (s *MemStore) SetSetting(ctx context.Context, tenantID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[tenantID+"/"+key] = value
	return nil
}

// Close releases nothing; it exists to satisfy Store.
func (s *MemStore) Close() error { return nil }

// InsertMemory persists one memory row.
func (s *MemStore) InsertMemory(ctx context.Context, row *memory.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memories = append(s.memories, cloneMemory(row))
	return nil
}

// ListMemories returns rows for a tenant, optionally by kind, newest first.
func (s *MemStore) ListMemories(ctx context.Context, tenantID, kind string) ([]*memory.Row, error) {
	s.mu.RLock()
	matched := make([]*memory.Row, 0)
	for _, row := range s.memories {
		if row.TenantID != tenantID {
			continue
		}
		if kind != "" && row.Kind != kind {
			continue
		}
		matched = append(matched, cloneMemory(row))
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

// DeleteMemories removes rows by ID.
func (s *MemStore) DeleteMemories(ctx context.Context, tenantID string, ids []string) (int, error) {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.memories[:0]
	deleted := 0
	for _, row := range s.memories {
		if _, hit := idSet[row.ID]; hit && row.TenantID == tenantID {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.memories = kept
	return deleted, nil
}

// CountMemories counts rows for a tenant, optionally by kind.
func (s *MemStore) CountMemories(ctx context.Context, tenantID, kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, row := range s.memories {
		if row.TenantID != tenantID {
			continue
		}
		if kind != "" && row.Kind != kind {
			continue
		}
		n++
	}
	return n, nil
}

func cloneAction(a *action.Action) *action.Action {
	clone := *a
	if a.Params != nil {
		clone.Params = make(map[string]any, len(a.Params))
		for k, v := range a.Params {
			clone.Params[k] = v
		}
	}
	if a.Result != nil {
		clone.Result = make(map[string]any, len(a.Result))
		for k, v := range a.Result {
			clone.Result[k] = v
		}
	}
	if a.ExecutedAt != nil {
		t := *a.ExecutedAt
		clone.ExecutedAt = &t
	}
	return &clone
}

func cloneMemory(row *memory.Row) *memory.Row {
	clone := *row
	if row.Payload != nil {
		clone.Payload = make(map[string]any, len(row.Payload))
		for k, v := range row.Payload {
			clone.Payload[k] = v
		}
	}
	clone.Tags = append([]string(nil), row.Tags...)
	clone.ACL = append([]string(nil), row.ACL...)
	if row.ExpiresAt != nil {
		t := *row.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}

func page(items []*action.Action, offset, limit int) []*action.Action {
	if offset >= len(items) {
		return []*action.Action{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func pageDecisions(items []*action.OverrideDecision, offset, limit int) []*action.OverrideDecision {
	if offset >= len(items) {
		return []*action.OverrideDecision{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func containsDecision(set []action.Decision, d action.Decision) bool {
	for _, v := range set {
		if v == d {
			return true
		}
	}
	return false
}
