package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/compozy/orchestra/engine/approval"
	"github.com/compozy/orchestra/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	requests map[core.ID]*approval.Request
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{requests: map[core.ID]*approval.Request{}}
}

func (f *fakeRepo) Create(_ context.Context, req *approval.Request) error {
	f.requests[req.ID] = req
	return nil
}

func (f *fakeRepo) Resolve(
	_ context.Context,
	id core.ID,
	status approval.Status,
	resolvedBy, comments string,
	resolvedAt time.Time,
) (int64, error) {
	req, ok := f.requests[id]
	if !ok || req.Status != core.ApprovalPending {
		return 0, nil
	}
	req.Status = status
	req.ResolvedBy = resolvedBy
	req.Comments = comments
	req.ResolvedAt = &resolvedAt
	return 1, nil
}

func (f *fakeRepo) Get(_ context.Context, id core.ID) (*approval.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, core.NewErrorf(core.CodeNotFound, "not found")
	}
	return req, nil
}

func (f *fakeRepo) ListPending(_ context.Context, _ string) ([]*approval.Request, error) {
	var out []*approval.Request
	for _, r := range f.requests {
		if r.Status == core.ApprovalPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountPending(_ context.Context) (int64, error) {
	var n int64
	for _, r := range f.requests {
		if r.Status == core.ApprovalPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListTimedOut(_ context.Context, now time.Time) ([]*approval.Request, error) {
	var out []*approval.Request
	for _, r := range f.requests {
		if r.Status == core.ApprovalPending && !r.TimeoutAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeOrchestrator struct {
	calls []approval.Resolution
}

func (f *fakeOrchestrator) ResumeAfterApproval(
	_ context.Context,
	_, _ core.ID,
	resolution approval.Resolution,
) error {
	f.calls = append(f.calls, resolution)
	return nil
}

func TestCoordinator_Approve(t *testing.T) {
	t.Run("Should approve a pending request and resume the orchestrator", func(t *testing.T) {
		repo := newFakeRepo()
		orch := &fakeOrchestrator{}
		c := approval.NewCoordinator(repo, orch)
		req, err := c.Create(t.Context(), core.NewID(), core.NewID(), "manager", 60)
		require.NoError(t, err)

		err = c.Approve(t.Context(), req.ID, "alice", "ok")

		require.NoError(t, err)
		assert.Len(t, orch.calls, 1)
		assert.True(t, orch.calls[0].Approved)
		assert.Equal(t, "alice", orch.calls[0].ApprovedBy)
	})

	t.Run("Should fail AlreadyResolved on a second approve", func(t *testing.T) {
		repo := newFakeRepo()
		orch := &fakeOrchestrator{}
		c := approval.NewCoordinator(repo, orch)
		req, err := c.Create(t.Context(), core.NewID(), core.NewID(), "manager", 60)
		require.NoError(t, err)
		require.NoError(t, c.Approve(t.Context(), req.ID, "alice", "ok"))

		err = c.Approve(t.Context(), req.ID, "bob", "also ok")

		require.Error(t, err)
		assert.Len(t, orch.calls, 1)
	})
}

func TestCoordinator_SweepTimeouts(t *testing.T) {
	t.Run("Should time out due requests and resume as rejected", func(t *testing.T) {
		repo := newFakeRepo()
		orch := &fakeOrchestrator{}
		c := approval.NewCoordinator(repo, orch)
		req, err := c.Create(t.Context(), core.NewID(), core.NewID(), "manager", 1)
		require.NoError(t, err)
		repo.requests[req.ID].TimeoutAt = core.Now().Add(-time.Minute)

		swept, err := c.SweepTimeouts(t.Context())

		require.NoError(t, err)
		assert.Equal(t, 1, swept)
		assert.Equal(t, core.ApprovalTimeout, repo.requests[req.ID].Status)
		assert.Len(t, orch.calls, 1)
		assert.False(t, orch.calls[0].Approved)
		assert.Equal(t, "timeout", orch.calls[0].Reason)
	})
}
