package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/config"
	"github.com/brensch/mpduck/internal/db"
)

// withDefaults fills zero values and rejects negative ones.
func (p EventPlan) withDefaults() (EventPlan, error) {
	if p.MaxWorkers < 0 {
		return p, fmt.Errorf("%w: max workers must not be negative, got %d", ErrInvalidPlan, p.MaxWorkers)
	}
	if p.BatchSize < 0 {
		return p, fmt.Errorf("%w: batch size must not be negative, got %d", ErrInvalidPlan, p.BatchSize)
	}
	if p.ChunkDays == 0 {
		p.ChunkDays = config.DefaultChunkDays
	}
	if p.BatchSize == 0 {
		p.BatchSize = config.DefaultBatchSize
	}
	return p, nil
}

func (p ProfilePlan) withDefaults() (ProfilePlan, error) {
	if p.MaxWorkers < 0 {
		return p, fmt.Errorf("%w: max workers must not be negative, got %d", ErrInvalidPlan, p.MaxWorkers)
	}
	if p.BatchSize < 0 {
		return p, fmt.Errorf("%w: batch size must not be negative, got %d", ErrInvalidPlan, p.BatchSize)
	}
	if p.BatchSize == 0 {
		p.BatchSize = config.DefaultBatchSize
	}
	if p.PageWarningThreshold <= 0 {
		p.PageWarningThreshold = config.DefaultPageWarningThreshold
	}
	return p, nil
}

// checkTarget enforces the table name, the exists-versus-append rules and,
// when appending, that the table holds the same kind of data. All of it runs
// before any fetch starts.
func checkTarget(ctx context.Context, store Store, table string, kind db.TableKind, appendMode bool) error {
	if err := db.ValidateTableName(table); err != nil {
		return err
	}
	exists, err := store.TableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to check target table: %w", err)
	}
	if exists && !appendMode {
		return &db.TableExistsError{Table: table}
	}
	if !exists && appendMode {
		return &db.TableNotFoundError{Table: table}
	}
	if !appendMode {
		return nil
	}
	meta, err := store.GetMetadata(ctx, table)
	switch {
	case db.IsTableNotFound(err):
		// Created outside mpduck; the first append reports any schema mismatch.
		return nil
	case err != nil:
		return fmt.Errorf("failed to read target table metadata: %w", err)
	case meta.Kind != kind:
		return &db.TableKindMismatchError{Table: table, Have: meta.Kind, Want: kind}
	}
	return nil
}

// describeProfileFilter renders the profile scope for table metadata.
func describeProfileFilter(q api.ProfileQuery) string {
	var parts []string
	if q.CohortID != "" {
		parts = append(parts, "cohort="+q.CohortID)
	}
	if n := len(q.DistinctIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("distinct_ids=%d", n))
	}
	if q.Behaviors != "" {
		parts = append(parts, "behaviors")
	}
	if q.AsOfTimestamp > 0 {
		parts = append(parts, fmt.Sprintf("as_of=%d", q.AsOfTimestamp))
	}
	if q.IncludeAllUsers {
		parts = append(parts, "include_all_users")
	}
	return strings.Join(parts, ", ")
}
