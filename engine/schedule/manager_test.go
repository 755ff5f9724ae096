package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/schedule"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManagerRepo struct {
	created      *workflow.Schedule
	byID         map[core.ID]*workflow.Schedule
	enabled      map[core.ID]bool
	cronUpdates  int
	triggerDatas int
}

func newFakeManagerRepo() *fakeManagerRepo {
	return &fakeManagerRepo{byID: map[core.ID]*workflow.Schedule{}, enabled: map[core.ID]bool{}}
}

func (f *fakeManagerRepo) Create(_ context.Context, s *workflow.Schedule) error {
	f.created = s
	f.byID[s.ID] = s
	f.enabled[s.ID] = s.Enabled
	return nil
}

func (f *fakeManagerRepo) Get(_ context.Context, id core.ID) (*workflow.Schedule, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, core.NewErrorf(core.CodeNotFound, "schedule %s not found", id)
	}
	return s, nil
}

func (f *fakeManagerRepo) ListByWorkflow(_ context.Context, workflowID core.ID) ([]*workflow.Schedule, error) {
	var out []*workflow.Schedule
	for _, s := range f.byID {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeManagerRepo) SetEnabled(_ context.Context, id core.ID, enabled bool) error {
	f.enabled[id] = enabled
	return nil
}

func (f *fakeManagerRepo) UpdateCron(_ context.Context, id core.ID, cronExpr string, nextRunAt time.Time) error {
	f.cronUpdates++
	s := f.byID[id]
	s.CronExpr = cronExpr
	s.NextRunAt = nextRunAt
	return nil
}

func (f *fakeManagerRepo) UpdateTriggerData(
	_ context.Context,
	id core.ID,
	triggerData map[string]any,
	nextRunAt time.Time,
) error {
	f.triggerDatas++
	s := f.byID[id]
	s.TriggerData = triggerData
	s.NextRunAt = nextRunAt
	return nil
}

func TestManager_Create(t *testing.T) {
	t.Run("Should reject an invalid cron expression", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)

		_, err := m.Create(t.Context(), core.NewID(), "not-a-cron", nil)

		require.Error(t, err)
		assert.Nil(t, repo.created)
	})

	t.Run("Should persist an enabled schedule with next_run_at computed from the cron expression", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)
		wfID := core.NewID()

		s, err := m.Create(t.Context(), wfID, "*/5 * * * *", map[string]any{"source": "cli"})

		require.NoError(t, err)
		assert.Equal(t, wfID, s.WorkflowID)
		assert.True(t, s.Enabled)
		assert.True(t, s.NextRunAt.After(core.Now().Add(-time.Minute)))
		assert.Same(t, s, repo.created)
	})
}

func TestManager_CancelReactivate(t *testing.T) {
	t.Run("Should disable then re-enable a schedule", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)
		id := core.NewID()

		require.NoError(t, m.Cancel(t.Context(), id))
		assert.False(t, repo.enabled[id])

		require.NoError(t, m.Reactivate(t.Context(), id))
		assert.True(t, repo.enabled[id])
	})
}

func TestManager_UpdateCron(t *testing.T) {
	t.Run("Should reject an invalid cron expression without touching the repo", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)

		err := m.UpdateCron(t.Context(), core.NewID(), "garbage")

		require.Error(t, err)
		assert.Equal(t, 0, repo.cronUpdates)
	})

	t.Run("Should recompute next_run_at strictly after now when the cron expression changes", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)
		wfID := core.NewID()
		s := workflow.NewSchedule(wfID, "0 0 * * *", core.Now())
		require.NoError(t, repo.Create(t.Context(), s))
		before := s.NextRunAt

		require.NoError(t, m.UpdateCron(t.Context(), s.ID, "*/1 * * * *"))

		assert.Equal(t, 1, repo.cronUpdates)
		assert.Equal(t, "*/1 * * * *", s.CronExpr)
		assert.True(t, s.NextRunAt.After(before))
	})
}

func TestManager_UpdateTriggerData(t *testing.T) {
	t.Run("Should replace trigger data and recompute next_run_at from the current cron expression", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)
		wfID := core.NewID()
		s := workflow.NewSchedule(wfID, "*/1 * * * *", core.Now().Add(time.Hour))
		require.NoError(t, repo.Create(t.Context(), s))
		before := s.NextRunAt

		err := m.UpdateTriggerData(t.Context(), s.ID, map[string]any{"reason": "manual"})

		require.NoError(t, err)
		assert.Equal(t, 1, repo.triggerDatas)
		assert.Equal(t, map[string]any{"reason": "manual"}, s.TriggerData)
		assert.True(t, s.NextRunAt.Before(before))
	})

	t.Run("Should return an error when the schedule does not exist", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)

		err := m.UpdateTriggerData(t.Context(), core.NewID(), map[string]any{"x": 1})

		require.Error(t, err)
	})
}

func TestManager_ListForWorkflow(t *testing.T) {
	t.Run("Should list only schedules bound to the requested workflow", func(t *testing.T) {
		repo := newFakeManagerRepo()
		m := schedule.NewManager(repo)
		wfID := core.NewID()
		other := core.NewID()
		require.NoError(t, repo.Create(t.Context(), workflow.NewSchedule(wfID, "*/1 * * * *", core.Now())))
		require.NoError(t, repo.Create(t.Context(), workflow.NewSchedule(other, "*/1 * * * *", core.Now())))

		out, err := m.ListForWorkflow(t.Context(), wfID)

		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, wfID, out[0].WorkflowID)
	})
}
