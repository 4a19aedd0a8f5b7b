package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoadAll returns every association in insertion order.
func (s *SQLiteStorage) LoadAll(ctx context.Context) ([]Association, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, vector, capability, query, confidence, created_at, last_used_at
		FROM learned_associations
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load associations: %w", err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var (
			a                 Association
			blob              []byte
			created, lastUsed int64
		)
		if err := rows.Scan(&a.ID, &blob, &a.Capability, &a.Query, &a.Confidence, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		if a.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("association %s: %w", a.ID, err)
		}
		a.CreatedAt = time.Unix(created, 0)
		a.LastUsedAt = time.Unix(lastUsed, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Upsert inserts a, or on ID conflict overwrites vector, query and confidence
// and sets last use to now, so the row always mirrors the caller's in-memory
// entry. Creation time is kept unless the vector length changed, which means
// the association was re-embedded by a different model and starts over.
func (s *SQLiteStorage) Upsert(ctx context.Context, a Association) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	now := s.now().Unix()
	created := now
	if !a.CreatedAt.IsZero() {
		created = a.CreatedAt.Unix()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO learned_associations (id, vector, capability, query, confidence, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = CASE WHEN length(vector) = length(excluded.vector) THEN created_at ELSE excluded.created_at END,
			vector = excluded.vector,
			query = excluded.query,
			confidence = excluded.confidence,
			last_used_at = excluded.last_used_at
	`, a.ID, encodeVector(a.Vector), a.Capability, a.Query, a.Confidence, created, now)
	if err != nil {
		return fmt.Errorf("failed to upsert association %s: %w", a.ID, err)
	}
	return nil
}

// Remove deletes an association. Removing an unknown ID is not an error.
func (s *SQLiteStorage) Remove(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM learned_associations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove association %s: %w", id, err)
	}
	return nil
}

// Size returns the number of stored associations.
func (s *SQLiteStorage) Size(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM learned_associations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count associations: %w", err)
	}
	return n, nil
}

// Clear deletes every association.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM learned_associations"); err != nil {
		return fmt.Errorf("failed to clear associations: %w", err)
	}
	return nil
}

// Stats summarizes confidence, recency and the most associated capabilities.
func (s *SQLiteStorage) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db, err := s.conn()
	if err != nil {
		return st, err
	}

	var (
		minC, avgC, maxC sql.NullFloat64
		oldest, newest   sql.NullInt64
	)
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(confidence), AVG(confidence), MAX(confidence),
		       MIN(last_used_at), MAX(last_used_at)
		FROM learned_associations
	`).Scan(&st.Total, &minC, &avgC, &maxC, &oldest, &newest)
	if err != nil {
		return st, fmt.Errorf("failed to query stats: %w", err)
	}
	st.MinConfidence, st.AvgConfidence, st.MaxConfidence = minC.Float64, avgC.Float64, maxC.Float64
	if oldest.Valid {
		st.OldestUse = time.Unix(oldest.Int64, 0)
		st.NewestUse = time.Unix(newest.Int64, 0)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT capability, COUNT(*) AS n
		FROM learned_associations
		GROUP BY capability
		ORDER BY n DESC, capability
		LIMIT 10
	`)
	if err != nil {
		return st, fmt.Errorf("failed to query capability counts: %w", err)
	}
	defer rows.Close()

	st.TopCapabilities = []CapabilityCount{}
	for rows.Next() {
		var c CapabilityCount
		if err := rows.Scan(&c.Capability, &c.Count); err != nil {
			return st, err
		}
		st.TopCapabilities = append(st.TopCapabilities, c)
	}
	return st, rows.Err()
}
