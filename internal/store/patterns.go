package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const candidateColumns = `id, tenant_id, regulator, document_type, pattern_body, fingerprint, occurrence_count,
	scope, owner_approved, shared_pattern_id, created_at, updated_at`

const sharedColumns = `id, regulator, document_type, pattern_body, fingerprint, occurrence_count,
	source_candidate_id, created_at`

func scanCandidate(row pgx.Row) (*models.PatternCandidate, error) {
	var (
		c     models.PatternCandidate
		body  []byte
		scope string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Regulator, &c.DocumentType, &body, &c.Fingerprint,
		&c.OccurrenceCount, &scope, &c.OwnerApproved, &c.SharedPatternID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.PatternBody = body
	c.Scope = models.PatternScope(scope)
	return &c, nil
}

func scanShared(row pgx.Row) (*models.SharedPattern, error) {
	var (
		p    models.SharedPattern
		body []byte
	)
	err := row.Scan(&p.ID, &p.Regulator, &p.DocumentType, &body, &p.Fingerprint, &p.OccurrenceCount,
		&p.SourceCandidateID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.PatternBody = body
	return &p, nil
}

// NominatePattern records the tenant's occurrence of a pattern fingerprint and
// creates or refreshes the tenant's candidate. occurrence_count on every candidate
// sharing the fingerprint is set to the number of distinct tenants seen so far.
func (s *PostgresStore) NominatePattern(ctx context.Context, candidate *models.PatternCandidate) (*models.PatternCandidate, error) {
	var result *models.PatternCandidate
	err := s.inTx(ctx, "nominate pattern", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO pattern_occurrences (fingerprint, regulator, document_type, tenant_id)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			candidate.Fingerprint, candidate.Regulator, candidate.DocumentType, candidate.TenantID)
		if err != nil {
			return fmt.Errorf("record pattern occurrence: %w", err)
		}

		var count int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(DISTINCT tenant_id) FROM pattern_occurrences
			 WHERE fingerprint = $1 AND regulator = $2 AND document_type = $3`,
			candidate.Fingerprint, candidate.Regulator, candidate.DocumentType,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count pattern occurrences: %w", err)
		}

		result, err = scanCandidate(tx.QueryRow(ctx,
			`INSERT INTO pattern_candidates (id, tenant_id, regulator, document_type, pattern_body, fingerprint,
			   occurrence_count, scope, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 'TENANT', $8, $9)
			 ON CONFLICT (tenant_id, regulator, document_type, fingerprint) DO UPDATE SET
			   occurrence_count = EXCLUDED.occurrence_count,
			   updated_at = NOW()
			 RETURNING `+candidateColumns,
			candidate.ID, candidate.TenantID, candidate.Regulator, candidate.DocumentType,
			[]byte(candidate.PatternBody), candidate.Fingerprint, count, candidate.CreatedAt, candidate.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert pattern candidate: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE pattern_candidates SET occurrence_count = $4, updated_at = NOW()
			 WHERE fingerprint = $1 AND regulator = $2 AND document_type = $3 AND occurrence_count <> $4`,
			candidate.Fingerprint, candidate.Regulator, candidate.DocumentType, count)
		if err != nil {
			return fmt.Errorf("sync occurrence counts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) GetPatternCandidate(ctx context.Context, id uuid.UUID) (*models.PatternCandidate, error) {
	c, err := scanCandidate(s.pool.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM pattern_candidates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern candidate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ApprovePatternCandidate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pattern_candidates SET owner_approved = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("approve pattern candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTenantPatterns returns the tenant's owner-approved candidates, most widely
// seen first.
func (s *PostgresStore) ListTenantPatterns(ctx context.Context, tenantID uuid.UUID, regulator, documentType string) ([]*models.PatternCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM pattern_candidates
		 WHERE tenant_id = $1 AND regulator = $2 AND document_type = $3 AND owner_approved
		 ORDER BY occurrence_count DESC, created_at ASC`, tenantID, regulator, documentType)
	if err != nil {
		return nil, fmt.Errorf("list tenant patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.PatternCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PromotePattern publishes the candidate as a shared pattern. The bool result is
// false when the candidate, or another tenant's identical pattern, was already
// promoted; the existing shared pattern is returned in that case.
func (s *PostgresStore) PromotePattern(ctx context.Context, candidateID uuid.UUID) (*models.SharedPattern, bool, error) {
	var (
		shared  *models.SharedPattern
		created bool
	)
	err := s.inTx(ctx, "promote pattern", func(tx pgx.Tx) error {
		c, err := scanCandidate(tx.QueryRow(ctx,
			`SELECT `+candidateColumns+` FROM pattern_candidates WHERE id = $1 FOR UPDATE`, candidateID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock pattern candidate: %w", err)
		}

		if c.SharedPatternID == nil {
			tag, err := tx.Exec(ctx,
				`INSERT INTO shared_patterns (id, regulator, document_type, pattern_body, fingerprint,
				   occurrence_count, source_candidate_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (regulator, document_type, fingerprint) DO NOTHING`,
				uuid.New(), c.Regulator, c.DocumentType, []byte(c.PatternBody), c.Fingerprint,
				c.OccurrenceCount, c.ID)
			if err != nil {
				return fmt.Errorf("insert shared pattern: %w", err)
			}
			created = tag.RowsAffected() > 0
		}

		shared, err = scanShared(tx.QueryRow(ctx,
			`SELECT `+sharedColumns+` FROM shared_patterns
			 WHERE regulator = $1 AND document_type = $2 AND fingerprint = $3`,
			c.Regulator, c.DocumentType, c.Fingerprint))
		if err != nil {
			return fmt.Errorf("load shared pattern: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE pattern_candidates SET scope = 'GLOBAL', shared_pattern_id = $2, updated_at = NOW()
			 WHERE id = $1`, c.ID, shared.ID)
		if err != nil {
			return fmt.Errorf("mark candidate global: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return shared, created, nil
}

func (s *PostgresStore) GetSharedPattern(ctx context.Context, id uuid.UUID) (*models.SharedPattern, error) {
	p, err := scanShared(s.pool.QueryRow(ctx,
		`SELECT `+sharedColumns+` FROM shared_patterns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shared pattern: %w", err)
	}
	return p, nil
}

// ListSharedPatterns filters by regulator and document type; empty strings match any.
func (s *PostgresStore) ListSharedPatterns(ctx context.Context, regulator, documentType string) ([]*models.SharedPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sharedColumns+` FROM shared_patterns
		 WHERE ($1 = '' OR regulator = $1) AND ($2 = '' OR document_type = $2)
		 ORDER BY created_at DESC`, regulator, documentType)
	if err != nil {
		return nil, fmt.Errorf("list shared patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.SharedPattern
	for rows.Next() {
		p, err := scanShared(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shared pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
