package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Prune applies policy and returns the number of removed associations.
func (s *SQLiteStorage) Prune(ctx context.Context, policy PrunePolicy) (int, error) {
	ids, err := s.PruneIDs(ctx, policy)
	return len(ids), err
}

// PruneIDs applies policy in a single transaction and returns the removed IDs.
//
// Steps run in order:
//  1. delete associations with confidence below MinConfidence, if set
//  2. delete associations not used within UnusedDays
//  3. if more than SizeThreshold remain, keep only the top 90% of the
//     threshold by confidence, so the next insert does not trigger another prune
//
// Either every step is applied or none is.
func (s *SQLiteStorage) PruneIDs(ctx context.Context, policy PrunePolicy) ([]string, error) {
	policy = policy.WithDefaults()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	cutoff := s.now().Unix() - int64(policy.UnusedDays)*86400

	var lowConfidence []string
	if policy.MinConfidence > 0 {
		lowConfidence, err = deleteReturning(ctx, tx,
			"DELETE FROM learned_associations WHERE confidence < ? RETURNING id", policy.MinConfidence)
		if err != nil {
			return nil, fmt.Errorf("prune low confidence: %w", err)
		}
	}

	stale, err := deleteReturning(ctx, tx,
		"DELETE FROM learned_associations WHERE last_used_at < ? RETURNING id", cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune stale: %w", err)
	}
	removed := append(lowConfidence, stale...)

	var remaining int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM learned_associations").Scan(&remaining); err != nil {
		return nil, fmt.Errorf("prune count: %w", err)
	}
	var overflow []string
	if remaining > policy.SizeThreshold {
		keep := policy.SizeThreshold * 9 / 10
		overflow, err = deleteReturning(ctx, tx, `
			DELETE FROM learned_associations
			WHERE id NOT IN (
				SELECT id FROM learned_associations
				ORDER BY confidence DESC, last_used_at DESC, id
				LIMIT ?
			)
			RETURNING id`, keep)
		if err != nil {
			return nil, fmt.Errorf("prune size: %w", err)
		}
		removed = append(removed, overflow...)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prune: %w", err)
	}

	if len(removed) > 0 {
		s.logger.Info("pruned learned associations",
			zap.Int("removed", len(removed)),
			zap.Int("low_confidence", len(lowConfidence)),
			zap.Int("stale", len(stale)),
			zap.Int("over_size", len(overflow)),
		)
	}
	return removed, nil
}

func deleteReturning(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
