package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// --- Obligations ---

// RecordCandidate inserts the obligation and its optional review item atomically.
// A candidate already recorded for (document_id, source_key) is skipped and
// reported as false, which makes re-running an extraction job idempotent.
func (s *PostgresStore) RecordCandidate(ctx context.Context, rec CandidateRecord) (bool, error) {
	o := rec.Obligation
	if o == nil {
		return false, fmt.Errorf("record candidate: obligation is required")
	}
	rawFields := o.RawFields
	if rawFields == nil {
		rawFields = map[string]string{}
	}

	created := false
	err := s.inTx(ctx, "record candidate", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO obligations (id, tenant_id, document_id, site_id, source_key, regulator, document_type,
			   title, text, raw_fields, source, confidence, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (document_id, source_key) DO NOTHING`,
			o.ID, o.TenantID, o.DocumentID, o.SiteID, o.SourceKey, o.Regulator, o.DocumentType,
			o.Title, o.Text, rawFields, string(o.Source), o.Confidence, string(o.Status), o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert obligation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		item := rec.ReviewItem
		if item == nil {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO review_queue_items (id, tenant_id, document_id, obligation_id, pattern_id, review_type,
			   is_blocking, requires_dual_signoff, priority, hallucination_risk, original_data, review_status,
			   created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			item.ID, item.TenantID, item.DocumentID, item.ObligationID, item.PatternID, string(item.ReviewType),
			item.IsBlocking, item.RequiresDualSignoff, string(item.Priority), string(item.HallucinationRisk),
			[]byte(item.OriginalData), string(item.ReviewStatus), item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert review item: %w", err)
		}
		return nil
	})
	return created, err
}

func (s *PostgresStore) GetObligation(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Obligation, error) {
	var (
		o              models.Obligation
		source, status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, document_id, site_id, source_key, regulator, document_type, title, text,
		   raw_fields, source, confidence, status, created_at, updated_at
		 FROM obligations WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&o.ID, &o.TenantID, &o.DocumentID, &o.SiteID, &o.SourceKey, &o.Regulator, &o.DocumentType,
		&o.Title, &o.Text, &o.RawFields, &source, &o.Confidence, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get obligation: %w", err)
	}
	o.Source = models.CandidateSource(source)
	o.Status = models.ObligationStatus(status)
	return &o, nil
}

// --- Review queue ---

const reviewItemColumns = `id, tenant_id, document_id, obligation_id, pattern_id, review_type, is_blocking,
	requires_dual_signoff, priority, hallucination_risk, original_data, review_status, approval_state,
	escalation_reason, dispute_resolved, reviewed_by, reviewed_at, created_at, updated_at`

func scanReviewItem(row pgx.Row) (*models.ReviewQueueItem, error) {
	var (
		item                                   models.ReviewQueueItem
		reviewType, priority, risk, reviewStat string
		approval                               *string
		original                               []byte
	)
	err := row.Scan(&item.ID, &item.TenantID, &item.DocumentID, &item.ObligationID, &item.PatternID,
		&reviewType, &item.IsBlocking, &item.RequiresDualSignoff, &priority, &risk, &original,
		&reviewStat, &approval, &item.EscalationReason, &item.DisputeResolved, &item.ReviewedBy,
		&item.ReviewedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.ReviewType = models.ReviewType(reviewType)
	item.Priority = models.Priority(priority)
	item.HallucinationRisk = models.HallucinationRisk(risk)
	item.ReviewStatus = models.ReviewStatus(reviewStat)
	item.OriginalData = original
	if approval != nil {
		st := models.ApprovalState(*approval)
		item.ApprovalState = &st
	}
	return &item, nil
}

func (s *PostgresStore) GetReviewItem(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ReviewQueueItem, error) {
	item, err := scanReviewItem(s.pool.QueryRow(ctx,
		`SELECT `+reviewItemColumns+` FROM review_queue_items WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review item: %w", err)
	}
	return item, nil
}

// ListReviewItems returns items ordered by priority (HIGH first) and then age.
func (s *PostgresStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]*models.ReviewQueueItem, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("review_status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ApprovalState != "" {
		conditions = append(conditions, fmt.Sprintf("approval_state = $%d", argIdx))
		args = append(args, string(filter.ApprovalState))
		argIdx++
	}
	if filter.BlockingOnly {
		conditions = append(conditions, "is_blocking")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := fmt.Sprintf(`SELECT %s FROM review_queue_items WHERE %s
		ORDER BY CASE priority WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END, created_at ASC
		LIMIT $%d`, reviewItemColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	defer rows.Close()

	var items []*models.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// TransitionReviewItem applies t as a compare-and-set on review_status. It returns
// ErrNotFound when the item does not exist for the tenant and ErrStateConflict when
// it is no longer in t.From.
func (s *PostgresStore) TransitionReviewItem(ctx context.Context, t ReviewTransition) (*models.ReviewQueueItem, error) {
	var item *models.ReviewQueueItem
	err := s.inTx(ctx, "transition review item", func(tx pgx.Tx) error {
		var err error
		item, err = scanReviewItem(tx.QueryRow(ctx,
			`UPDATE review_queue_items SET
			   review_status = $3,
			   reviewed_by = $4,
			   reviewed_at = NOW(),
			   escalation_reason = COALESCE($5, escalation_reason),
			   approval_state = COALESCE($6, approval_state),
			   updated_at = NOW()
			 WHERE id = $1 AND tenant_id = $2 AND review_status = $7
			 RETURNING `+reviewItemColumns,
			t.ItemID, t.TenantID, string(t.To), t.ActorID, t.EscalationReason,
			approvalStateArg(t.ApprovalState), string(t.From)))
		if errors.Is(err, pgx.ErrNoRows) {
			return missingOrConflict(ctx, tx, t.ItemID, t.TenantID)
		}
		if err != nil {
			return fmt.Errorf("update review item: %w", err)
		}

		if t.ObligationStatus != nil && item.ObligationID != nil {
			if err := setObligationStatus(ctx, tx, *item.ObligationID, *t.ObligationStatus); err != nil {
				return err
			}
		}
		if t.OpenApprovalLevel > 0 {
			if err := openApprovalRecord(ctx, tx, t.ItemID, t.OpenApprovalLevel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ResolveDispute marks a rejected, pattern-linked item as resolved so it no longer
// blocks promotion of that pattern.
func (s *PostgresStore) ResolveDispute(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	return s.inTx(ctx, "resolve dispute", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE review_queue_items SET dispute_resolved = TRUE, updated_at = NOW()
			 WHERE id = $1 AND tenant_id = $2 AND review_status = 'REJECTED' AND pattern_id IS NOT NULL`,
			id, tenantID)
		if err != nil {
			return fmt.Errorf("resolve dispute: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missingOrConflict(ctx, tx, id, tenantID)
		}
		return nil
	})
}

func (s *PostgresStore) CountUnresolvedDisputes(ctx context.Context, patternID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_queue_items
		 WHERE pattern_id = $1 AND review_status = 'REJECTED' AND NOT dispute_resolved`, patternID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved disputes: %w", err)
	}
	return n, nil
}

// --- Approvals ---

func (s *PostgresStore) ListApprovalRecords(ctx context.Context, itemID uuid.UUID) ([]*models.ApprovalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, level, decision, approver_id, comment, decided_at, created_at
		 FROM approval_records WHERE item_id = $1 ORDER BY level`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list approval records: %w", err)
	}
	defer rows.Close()

	var records []*models.ApprovalRecord
	for rows.Next() {
		var (
			r        models.ApprovalRecord
			level    int16
			decision string
		)
		if err := rows.Scan(&r.ItemID, &level, &decision, &r.ApproverID, &r.Comment, &r.DecidedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval record: %w", err)
		}
		r.Level = int(level)
		r.Decision = models.ApprovalDecision(decision)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// DecideApproval closes the PENDING record at t.Level and moves the item's approval
// state from t.From to t.To in one transaction.
func (s *PostgresStore) DecideApproval(ctx context.Context, t ApprovalTransition) (*models.ReviewQueueItem, error) {
	var item *models.ReviewQueueItem
	err := s.inTx(ctx, "decide approval", func(tx pgx.Tx) error {
		var err error
		item, err = scanReviewItem(tx.QueryRow(ctx,
			`UPDATE review_queue_items SET approval_state = $3, updated_at = NOW()
			 WHERE id = $1 AND tenant_id = $2 AND review_status = 'ESCALATED' AND approval_state = $4
			 RETURNING `+reviewItemColumns,
			t.ItemID, t.TenantID, string(t.To), string(t.From)))
		if errors.Is(err, pgx.ErrNoRows) {
			return missingOrConflict(ctx, tx, t.ItemID, t.TenantID)
		}
		if err != nil {
			return fmt.Errorf("update approval state: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE approval_records SET decision = $3, approver_id = $4, comment = $5, decided_at = NOW()
			 WHERE item_id = $1 AND level = $2 AND decision = 'PENDING'`,
			t.ItemID, int16(t.Level), string(t.Decision), t.ApproverID, t.Comment)
		if err != nil {
			return fmt.Errorf("record approval decision: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStateConflict
		}

		if t.OpenApprovalLevel > 0 {
			if err := openApprovalRecord(ctx, tx, t.ItemID, t.OpenApprovalLevel); err != nil {
				return err
			}
		}
		if t.ObligationStatus != nil && item.ObligationID != nil {
			if err := setObligationStatus(ctx, tx, *item.ObligationID, *t.ObligationStatus); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *PostgresStore) CanApprove(ctx context.Context, tenantID uuid.UUID, userID string, level int) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM approver_grants WHERE tenant_id = $1 AND user_id = $2 AND level = $3)`,
		tenantID, userID, int16(level),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check approver grant: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) GrantApprover(ctx context.Context, tenantID uuid.UUID, userID string, level int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approver_grants (tenant_id, user_id, level) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`, tenantID, userID, int16(level))
	if err != nil {
		return fmt.Errorf("grant approver: %w", err)
	}
	return nil
}

func setObligationStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.ObligationStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE obligations SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update obligation status: %w", err)
	}
	return nil
}

func openApprovalRecord(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, level int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO approval_records (item_id, level, decision) VALUES ($1, $2, 'PENDING')`,
		itemID, int16(level))
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrStateConflict
		}
		return fmt.Errorf("open approval record: %w", err)
	}
	return nil
}

func missingOrConflict(ctx context.Context, tx pgx.Tx, id, tenantID uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM review_queue_items WHERE id = $1 AND tenant_id = $2)`, id, tenantID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check review item: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStateConflict
}

func approvalStateArg(st *models.ApprovalState) *string {
	if st == nil {
		return nil
	}
	v := string(*st)
	return &v
}
