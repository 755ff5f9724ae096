// Package approval implements the Approval Coordinator: durable
// human-gate requests and the bridge back into the orchestrator.
package approval

import (
	"context"
	"strings"
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/metrics"
)

// Status is the lifecycle of an ApprovalRequest.
type Status = core.ApprovalStatus

// Request is a human gate on a workflow step.
type Request struct {
	ID                  core.ID    `json:"id"`
	WorkflowExecutionID core.ID    `json:"workflow_execution_id"`
	WorkflowStepID      core.ID    `json:"workflow_step_id"`
	Status              Status     `json:"status"`
	RequiredRole        string     `json:"required_role"`
	ResolvedBy          string     `json:"resolved_by,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	Comments            string     `json:"comments,omitempty"`
	TimeoutAt           time.Time  `json:"timeout_at"`
	RequestedAt         time.Time  `json:"requested_at"`
}

// New creates a PENDING approval request with timeout_at = now + timeoutMinutes.
func New(executionID, stepID core.ID, requiredRole string, timeoutMinutes int) *Request {
	now := core.Now()
	return &Request{
		ID:                  core.NewID(),
		WorkflowExecutionID: executionID,
		WorkflowStepID:      stepID,
		Status:              core.ApprovalPending,
		RequiredRole:        requiredRole,
		TimeoutAt:           now.Add(time.Duration(timeoutMinutes) * time.Minute),
		RequestedAt:         now,
	}
}

// Resolution is what the orchestrator receives back after an approval settles.
type Resolution struct {
	Approved   bool
	ApprovedBy string
	Comments   string
	Reason     string
}

// OrchestratorCallback is the orchestrator's resume hook, invoked after a
// request transitions out of PENDING.
type OrchestratorCallback interface {
	ResumeAfterApproval(ctx context.Context, executionID, stepID core.ID, resolution Resolution) error
}

// Repository persists approval requests with optimistic status transitions:
// implementations must treat a zero-rowcount UPDATE as AlreadyResolved.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	// Resolve performs `UPDATE ... WHERE id=$1 AND status='PENDING'`, returning
	// the number of rows affected (0 means another caller already resolved it).
	Resolve(ctx context.Context, id core.ID, status Status, resolvedBy, comments string, resolvedAt time.Time) (int64, error)
	Get(ctx context.Context, id core.ID) (*Request, error)
	ListPending(ctx context.Context, role string) ([]*Request, error)
	CountPending(ctx context.Context) (int64, error)
	// ListTimedOut returns PENDING rows whose timeout_at has passed, for SweepTimeouts.
	ListTimedOut(ctx context.Context, now time.Time) ([]*Request, error)
}

// Coordinator implements the Approval Coordinator operations.
type Coordinator struct {
	repo         Repository
	orchestrator OrchestratorCallback
	metrics      *metrics.Metrics
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics tracks the pending gauge and resolution counter.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator wires a Coordinator to its repository and the orchestrator
// callback used to resume suspended executions.
func NewCoordinator(repo Repository, orchestrator OrchestratorCallback, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{repo: repo, orchestrator: orchestrator}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create persists a new pending approval request.
func (c *Coordinator) Create(
	ctx context.Context,
	executionID, stepID core.ID,
	requiredRole string,
	timeoutMinutes int,
) (*Request, error) {
	req := New(executionID, stepID, requiredRole, timeoutMinutes)
	if err := c.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.ApprovalsPending.Inc()
	}
	return req, nil
}

// Approve transitions a pending request to APPROVED and resumes the orchestrator.
func (c *Coordinator) Approve(ctx context.Context, id core.ID, identity, comments string) error {
	return c.resolve(ctx, id, core.ApprovalApproved, identity, comments, Resolution{
		Approved:   true,
		ApprovedBy: identity,
		Comments:   comments,
	})
}

// Reject transitions a pending request to REJECTED and resumes the orchestrator.
func (c *Coordinator) Reject(ctx context.Context, id core.ID, identity, reason string) error {
	return c.resolve(ctx, id, core.ApprovalRejected, identity, reason, Resolution{
		Approved:   false,
		ApprovedBy: identity,
		Comments:   reason,
		Reason:     reason,
	})
}

func (c *Coordinator) resolve(
	ctx context.Context,
	id core.ID,
	status Status,
	identity, comments string,
	resolution Resolution,
) error {
	now := core.Now()
	affected, err := c.repo.Resolve(ctx, id, status, identity, comments, now)
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewErrorf(core.CodeAlreadyResolved, "approval %s already resolved", id)
	}
	c.recordResolution(status)
	req, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.orchestrator.ResumeAfterApproval(ctx, req.WorkflowExecutionID, req.WorkflowStepID, resolution)
}

func (c *Coordinator) recordResolution(status Status) {
	if c.metrics == nil {
		return
	}
	c.metrics.ApprovalsPending.Dec()
	c.metrics.ApprovalsResolved.WithLabelValues(strings.ToLower(string(status))).Inc()
}

// SweepTimeouts scans for PENDING rows past their deadline, transitions them
// to TIMEOUT, and resumes the orchestrator as if REJECTED with reason="timeout".
func (c *Coordinator) SweepTimeouts(ctx context.Context) (int, error) {
	now := core.Now()
	due, err := c.repo.ListTimedOut(ctx, now)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, req := range due {
		affected, err := c.repo.Resolve(ctx, req.ID, core.ApprovalTimeout, "", "timeout", now)
		if err != nil {
			return swept, err
		}
		if affected == 0 {
			continue
		}
		c.recordResolution(core.ApprovalTimeout)
		if err := c.orchestrator.ResumeAfterApproval(ctx, req.WorkflowExecutionID, req.WorkflowStepID, Resolution{
			Approved: false,
			Reason:   "timeout",
		}); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// ListPending lists pending requests, optionally filtered by role.
func (c *Coordinator) ListPending(ctx context.Context, role string) ([]*Request, error) {
	return c.repo.ListPending(ctx, role)
}

// CountPending returns the number of pending requests.
func (c *Coordinator) CountPending(ctx context.Context) (int64, error) {
	return c.repo.CountPending(ctx)
}
