package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/yseeku/braind/internal/memory"

// Service provides tagged memory operations.
type Service interface {
	// Remember creates one memory row.
	Remember(ctx context.Context, tenantID, kind string, payload map[string]any, tags []string, opts Options) (*Row, error)

	// Recall returns the most recent row for (tenant, kind), or nil when
	// nothing matches.
	Recall(ctx context.Context, tenantID, kind string) (*Row, error)

	// RecallMany returns the most recent rows for (tenant, kind),
	// newest first. A zero limit means the default of 10.
	RecallMany(ctx context.Context, tenantID, kind string, limit int) ([]*Row, error)

	// RecallByTags returns rows matching the tag set: any tag (OR) by
	// default, every tag (AND) when q.MatchAll is set. Newest first.
	RecallByTags(ctx context.Context, tenantID string, tags []string, q TagQuery) ([]*Row, error)

	// Forget deletes the single oldest match by default, or every match
	// (optionally older than a cutoff) when q.All is set. Returns the
	// deleted count; an empty result is 0, never an error.
	Forget(ctx context.Context, tenantID, kind string, q ForgetQuery) (int, error)

	// ForgetByTags bulk-deletes rows carrying any of the given tags and
	// returns the deleted count.
	ForgetByTags(ctx context.Context, tenantID string, tags []string) (int, error)

	// HasMemory reports whether at least one row exists for (tenant, kind).
	HasMemory(ctx context.Context, tenantID, kind string) (bool, error)

	// CountMemories counts rows for a tenant, optionally by kind
	// (empty kind counts everything).
	CountMemories(ctx context.Context, tenantID, kind string) (int, error)
}

// Config configures the memory service.
type Config struct {
	// DefaultRecallLimit is used by RecallMany and RecallByTags when the
	// caller passes no limit (default: 10).
	DefaultRecallLimit int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		DefaultRecallLimit: 10,
	}
}

// service implements the Service interface.
type service struct {
	config  *Config
	backend Backend
	logger  *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	rememberCounter metric.Int64Counter
	forgetCounter   metric.Int64Counter
}

// NewService creates a new memory service.
func NewService(cfg *Config, backend Backend, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.DefaultRecallLimit <= 0 {
		cfg.DefaultRecallLimit = 10
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:  cfg,
		backend: backend,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.rememberCounter, err = s.meter.Int64Counter(
		"braind.memory.remembered_total",
		metric.WithDescription("Total number of memories written"),
		metric.WithUnit("{memory}"),
	)
	if err != nil {
		s.logger.Warn("failed to create remember counter", zap.Error(err))
	}

	s.forgetCounter, err = s.meter.Int64Counter(
		"braind.memory.forgotten_total",
		metric.WithDescription("Total number of memories deleted"),
		metric.WithUnit("{memory}"),
	)
	if err != nil {
		s.logger.Warn("failed to create forget counter", zap.Error(err))
	}
}

// Remember creates one memory row.
func (s *service) Remember(ctx context.Context, tenantID, kind string, payload map[string]any, tags []string, opts Options) (*Row, error) {
	ctx, span := s.tracer.Start(ctx, "memory.remember")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("kind", kind),
	)

	if tenantID == "" {
		return nil, ErrEmptyTenantID
	}
	if kind == "" {
		return nil, ErrEmptyKind
	}

	row := &Row{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Kind:      kind,
		Payload:   payload,
		Tags:      tags,
		CreatedAt: time.Now(),
		ExpiresAt: opts.ExpiresAt,
		ACL:       opts.ACL,
	}

	if err := s.backend.InsertMemory(ctx, row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	if s.rememberCounter != nil {
		s.rememberCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
		))
	}

	s.logger.Debug("remembered",
		zap.String("tenant_id", tenantID),
		zap.String("kind", kind),
		zap.Strings("tags", tags),
	)

	return row, nil
}

// Recall returns the most recent row for (tenant, kind), or nil.
func (s *service) Recall(ctx context.Context, tenantID, kind string) (*Row, error) {
	rows, err := s.RecallMany(ctx, tenantID, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// RecallMany returns the most recent rows for (tenant, kind).
func (s *service) RecallMany(ctx context.Context, tenantID, kind string, limit int) ([]*Row, error) {
	ctx, span := s.tracer.Start(ctx, "memory.recall_many")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("kind", kind),
		attribute.Int("limit", limit),
	)

	if tenantID == "" {
		return nil, ErrEmptyTenantID
	}
	if kind == "" {
		return nil, ErrEmptyKind
	}
	if limit <= 0 {
		limit = s.config.DefaultRecallLimit
	}

	rows, err := s.backend.ListMemories(ctx, tenantID, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	sortNewestFirst(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	span.SetAttributes(attribute.Int("result_count", len(rows)))
	return rows, nil
}

// RecallByTags returns rows matching the tag set.
func (s *service) RecallByTags(ctx context.Context, tenantID string, tags []string, q TagQuery) ([]*Row, error) {
	ctx, span := s.tracer.Start(ctx, "memory.recall_by_tags")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.StringSlice("tags", tags),
		attribute.Bool("match_all", q.MatchAll),
	)

	if tenantID == "" {
		return nil, ErrEmptyTenantID
	}
	if len(tags) == 0 {
		return nil, ErrNoTags
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.config.DefaultRecallLimit
	}

	rows, err := s.backend.ListMemories(ctx, tenantID, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	matched := make([]*Row, 0, len(rows))
	for _, row := range rows {
		if q.MatchAll {
			if row.HasAllTags(tags) {
				matched = append(matched, row)
			}
		} else if row.HasAnyTag(tags) {
			matched = append(matched, row)
		}
	}

	sortNewestFirst(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	span.SetAttributes(attribute.Int("result_count", len(matched)))
	return matched, nil
}

// Forget deletes the oldest match, or every match when q.All is set.
func (s *service) Forget(ctx context.Context, tenantID, kind string, q ForgetQuery) (int, error) {
	ctx, span := s.tracer.Start(ctx, "memory.forget")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("kind", kind),
		attribute.Bool("all", q.All),
	)

	if tenantID == "" {
		return 0, ErrEmptyTenantID
	}
	if kind == "" {
		return 0, ErrEmptyKind
	}

	rows, err := s.backend.ListMemories(ctx, tenantID, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to list memories: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var ids []string
	if q.All {
		for _, row := range rows {
			if q.OlderThan != nil && !row.CreatedAt.Before(*q.OlderThan) {
				continue
			}
			ids = append(ids, row.ID)
		}
	} else {
		oldest := rows[0]
		for _, row := range rows[1:] {
			if row.CreatedAt.Before(oldest.CreatedAt) {
				oldest = row
			}
		}
		ids = []string{oldest.ID}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.backend.DeleteMemories(ctx, tenantID, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}

	if s.forgetCounter != nil {
		s.forgetCounter.Add(ctx, int64(deleted), metric.WithAttributes(
			attribute.String("kind", kind),
		))
	}

	span.SetAttributes(attribute.Int("deleted", deleted))
	return deleted, nil
}

// ForgetByTags bulk-deletes rows carrying any of the given tags.
func (s *service) ForgetByTags(ctx context.Context, tenantID string, tags []string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "memory.forget_by_tags")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.StringSlice("tags", tags),
	)

	if tenantID == "" {
		return 0, ErrEmptyTenantID
	}
	if len(tags) == 0 {
		return 0, ErrNoTags
	}

	rows, err := s.backend.ListMemories(ctx, tenantID, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to list memories: %w", err)
	}

	var ids []string
	for _, row := range rows {
		if row.HasAnyTag(tags) {
			ids = append(ids, row.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.backend.DeleteMemories(ctx, tenantID, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}

	if s.forgetCounter != nil {
		s.forgetCounter.Add(ctx, int64(deleted))
	}

	return deleted, nil
}

// HasMemory reports whether at least one row exists for (tenant, kind).
func (s *service) HasMemory(ctx context.Context, tenantID, kind string) (bool, error) {
	n, err := s.CountMemories(ctx, tenantID, kind)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountMemories counts rows for a tenant, optionally by kind.
func (s *service) CountMemories(ctx context.Context, tenantID, kind string) (int, error) {
	if tenantID == "" {
		return 0, ErrEmptyTenantID
	}
	return s.backend.CountMemories(ctx, tenantID, kind)
}

func sortNewestFirst(rows []*Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}
