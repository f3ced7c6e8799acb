package memory

import (
	"context"
	"errors"
	"time"
)

// Common errors for memory store operations.
var (
	ErrEmptyTenantID = errors.New("tenant ID cannot be empty")
	ErrEmptyKind     = errors.New("memory kind cannot be empty")
	ErrNoTags        = errors.New("at least one tag is required")
)

// Row is one persisted memory: a tagged fact owned by a tenant.
//
// Kind is a namespacing string by convention, e.g. "action:ban_agent",
// "effectiveness:alert", "feedback:action_outcome". There is no foreign-key
// relation to actions; linkage is by convention (the payload carries
// "action_id"/"agent_id" fields).
type Row struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Tags      []string       `json:"tags,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	ACL       []string       `json:"acl,omitempty"`
}

// HasTag reports whether the row carries the given tag.
func (r *Row) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the row carries every tag in the set.
func (r *Row) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if !r.HasTag(t) {
			return false
		}
	}
	return true
}

// HasAnyTag reports whether the row carries at least one tag in the set.
func (r *Row) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if r.HasTag(t) {
			return true
		}
	}
	return false
}

// Options carries optional metadata for Remember.
type Options struct {
	ExpiresAt *time.Time
	ACL       []string
}

// TagQuery configures RecallByTags.
type TagQuery struct {
	// MatchAll switches from "any tag" (OR) to "all tags" (AND) semantics.
	MatchAll bool

	// Limit caps the number of rows returned. Zero means the default (10).
	Limit int
}

// ForgetQuery configures Forget.
type ForgetQuery struct {
	// All deletes every match instead of the single oldest one.
	All bool

	// OlderThan, when set together with All, restricts deletion to rows
	// created before the cutoff.
	OlderThan *time.Time
}

// Backend is the persistence port the service drives. Implementations
// live in internal/store (in-memory and SQLite).
type Backend interface {
	// InsertMemory persists one row.
	InsertMemory(ctx context.Context, row *Row) error

	// ListMemories returns all rows for a tenant, optionally restricted to
	// one kind (empty kind means all), newest first.
	ListMemories(ctx context.Context, tenantID, kind string) ([]*Row, error)

	// DeleteMemories removes rows by ID and returns how many were deleted.
	DeleteMemories(ctx context.Context, tenantID string, ids []string) (int, error)

	// CountMemories counts rows for a tenant, optionally by kind.
	CountMemories(ctx context.Context, tenantID, kind string) (int, error)
}
