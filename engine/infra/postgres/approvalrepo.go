package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/approval"
	"github.com/compozy/orchestra/engine/core"
	"github.com/jackc/pgx/v5"
)

var approvalColumns = []string{
	"id", "workflow_execution_id", "workflow_step_id", "status", "required_role",
	"resolved_by", "resolved_at", "comments", "timeout_at", "requested_at",
}

type approvalRow struct {
	ID                  core.ID    `db:"id"`
	WorkflowExecutionID core.ID    `db:"workflow_execution_id"`
	WorkflowStepID      core.ID    `db:"workflow_step_id"`
	Status              string     `db:"status"`
	RequiredRole        string     `db:"required_role"`
	ResolvedBy          string     `db:"resolved_by"`
	ResolvedAt          *time.Time `db:"resolved_at"`
	Comments            string     `db:"comments"`
	TimeoutAt           time.Time  `db:"timeout_at"`
	RequestedAt         time.Time  `db:"requested_at"`
}

func (r *approvalRow) toRequest() *approval.Request {
	return &approval.Request{
		ID:                  r.ID,
		WorkflowExecutionID: r.WorkflowExecutionID,
		WorkflowStepID:      r.WorkflowStepID,
		Status:              core.ApprovalStatus(r.Status),
		RequiredRole:        r.RequiredRole,
		ResolvedBy:          r.ResolvedBy,
		ResolvedAt:          r.ResolvedAt,
		Comments:            r.Comments,
		TimeoutAt:           r.TimeoutAt,
		RequestedAt:         r.RequestedAt,
	}
}

// ApprovalRepo implements approval.Repository against the approval_requests
// table, using an optimistic `WHERE status='PENDING'` update for Resolve so
// concurrent resolutions surface as AlreadyResolved rather than clobbering
// each other.
type ApprovalRepo struct {
	db DB
}

// NewApprovalRepo builds an ApprovalRepo over db.
func NewApprovalRepo(db DB) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

// Create inserts a new PENDING approval request.
func (r *ApprovalRepo) Create(ctx context.Context, req *approval.Request) error {
	sql, args, err := squirrel.Insert("approval_requests").
		Columns(approvalColumns...).
		Values(
			req.ID, req.WorkflowExecutionID, req.WorkflowStepID, string(req.Status), req.RequiredRole,
			req.ResolvedBy, req.ResolvedAt, req.Comments, req.TimeoutAt, req.RequestedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert approval request: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting approval request: %w", err)
	}
	return nil
}

// Resolve performs the optimistic PENDING -> status transition, returning the
// number of rows affected so the Coordinator can detect a race.
func (r *ApprovalRepo) Resolve(
	ctx context.Context,
	id core.ID,
	status approval.Status,
	resolvedBy, comments string,
	resolvedAt time.Time,
) (int64, error) {
	sql, args, err := squirrel.Update("approval_requests").
		Set("status", string(status)).
		Set("resolved_by", resolvedBy).
		Set("resolved_at", resolvedAt).
		Set("comments", comments).
		Where(squirrel.Eq{"id": id, "status": string(core.ApprovalPending)}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building resolve approval request: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("resolving approval request: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get loads an approval request by ID.
func (r *ApprovalRepo) Get(ctx context.Context, id core.ID) (*approval.Request, error) {
	sql, args, err := squirrel.Select(approvalColumns...).
		From("approval_requests").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select approval request: %w", err)
	}
	var row approvalRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeNotFound, "approval request %s not found", id)
		}
		return nil, fmt.Errorf("scanning approval request: %w", err)
	}
	return row.toRequest(), nil
}

// ListPending lists PENDING requests, optionally filtered to a required role.
func (r *ApprovalRepo) ListPending(ctx context.Context, role string) ([]*approval.Request, error) {
	q := squirrel.Select(approvalColumns...).
		From("approval_requests").
		Where(squirrel.Eq{"status": string(core.ApprovalPending)}).
		OrderBy("requested_at")
	if role != "" {
		q = q.Where(squirrel.Eq{"required_role": role})
	}
	sql, args, err := q.PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list pending approvals: %w", err)
	}
	var rows []approvalRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning pending approvals: %w", err)
	}
	out := make([]*approval.Request, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRequest())
	}
	return out, nil
}

// CountPending returns the total number of PENDING requests.
func (r *ApprovalRepo) CountPending(ctx context.Context) (int64, error) {
	sql, args, err := squirrel.Select("count(*)").
		From("approval_requests").
		Where(squirrel.Eq{"status": string(core.ApprovalPending)}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count pending approvals: %w", err)
	}
	var count int64
	if err := scanOne(ctx, r.db, &count, sql, args...); err != nil {
		return 0, fmt.Errorf("counting pending approvals: %w", err)
	}
	return count, nil
}

// ListTimedOut returns PENDING requests whose timeout_at has already passed.
func (r *ApprovalRepo) ListTimedOut(ctx context.Context, now time.Time) ([]*approval.Request, error) {
	sql, args, err := squirrel.Select(approvalColumns...).
		From("approval_requests").
		Where(squirrel.Eq{"status": string(core.ApprovalPending)}).
		Where(squirrel.LtOrEq{"timeout_at": now}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list timed out approvals: %w", err)
	}
	var rows []approvalRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning timed out approvals: %w", err)
	}
	out := make([]*approval.Request, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRequest())
	}
	return out, nil
}
