package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/models"
)

func newService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.UnixMilli(1700000000000))
	return NewService(NewMemory(), Options{Clock: clk}), clk
}

func sampleWorkflow(name string) models.Workflow {
	return models.Workflow{
		Name:     name,
		Category: "smoke",
		Steps: models.Steps{
			&models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, Timestamp: 1, URL: "https://example.com"}},
			&models.ClickStep{
				StepBase: models.StepBase{Type: models.StepClick, Timestamp: 2},
				Locator:  models.Locator{XPath: "//button[@id=\"go\"]", ElementTag: "BUTTON"},
			},
		},
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v))
	v[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileKV(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	kv, err := NewFileKV(fs, "/data")
	require.NoError(t, err)

	_, err = kv.Get(ctx, WorkflowsKey)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, WorkflowsKey, []byte(`[]`)))
	require.NoError(t, kv.Set(ctx, WorkflowsKey, []byte(`[{"name":"a"}]`)))
	got, err := kv.Get(ctx, WorkflowsKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"a"}]`, string(got))

	ok, err := afero.Exists(fs, "/data/"+WorkflowsKey+".json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = afero.Exists(fs, "/data/"+WorkflowsKey+".json.tmp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkflowIDFormat(t *testing.T) {
	gen := WorkflowIDs(clock.NewFake(time.UnixMilli(1700000000123)))
	a, b := gen(), gen()
	assert.Regexp(t, `^workflow_1700000000123_[0-9a-z]{9}$`, a)
	assert.NotEqual(t, a, b)
}

func TestSaveAndLoadWorkflow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	saved, err := svc.SaveWorkflow(ctx, sampleWorkflow("login"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, int64(1700000000000), saved.CreatedAt)
	assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)

	got, err := svc.Workflow(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "login", got.Name)
	require.Len(t, got.Steps, 2)
	click, ok := got.Steps[1].(*models.ClickStep)
	require.True(t, ok)
	assert.Equal(t, "BUTTON", click.ElementTag)

	_, err = svc.Workflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)

	wf, err := svc.SaveWorkflow(ctx, sampleWorkflow("a"))
	require.NoError(t, err)
	created := wf.CreatedAt

	// the clock does not move between saves
	last := wf.UpdatedAt
	for i := 0; i < 3; i++ {
		wf.Name = "renamed"
		wf, err = svc.SaveWorkflow(ctx, wf)
		require.NoError(t, err)
		assert.Greater(t, wf.UpdatedAt, last)
		assert.Equal(t, created, wf.CreatedAt)
		last = wf.UpdatedAt
	}

	clk.Advance(time.Minute)
	wf, err = svc.SaveWorkflow(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000060000), wf.UpdatedAt)

	all, err := svc.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteAndDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	wf, err := svc.SaveWorkflow(ctx, sampleWorkflow("checkout"))
	require.NoError(t, err)
	dup, err := svc.DuplicateWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.NotEqual(t, wf.ID, dup.ID)
	assert.Equal(t, "checkout (copy)", dup.Name)
	assert.Len(t, dup.Steps, 2)

	require.NoError(t, svc.DeleteWorkflow(ctx, wf.ID))
	assert.ErrorIs(t, svc.DeleteWorkflow(ctx, wf.ID), ErrNotFound)

	all, err := svc.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, dup.ID, all[0].ID)
}

func TestWorkflowsByCategory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	_, err := svc.SaveWorkflow(ctx, sampleWorkflow("a"))
	require.NoError(t, err)
	other := sampleWorkflow("b")
	other.Category = "regression"
	_, err = svc.SaveWorkflow(ctx, other)
	require.NoError(t, err)

	smoke, err := svc.WorkflowsByCategory(ctx, "smoke")
	require.NoError(t, err)
	require.Len(t, smoke, 1)
	assert.Equal(t, "a", smoke[0].Name)

	all, err := svc.WorkflowsByCategory(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveRecordingAlwaysInserts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	wf, err := svc.SaveRecording(ctx, sampleWorkflow("Recorded"), "Signup")
	require.NoError(t, err)
	again, err := svc.SaveRecording(ctx, wf, "")
	require.NoError(t, err)
	assert.NotEqual(t, wf.ID, again.ID)
	assert.Equal(t, "Signup", again.Name)
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	wf, err := svc.SaveWorkflow(ctx, sampleWorkflow("a"))
	require.NoError(t, err)
	g, err := svc.CreateGroup(ctx, "Team")
	require.NoError(t, err)
	assert.Empty(t, g.Workflows)

	g, err = svc.AddToGroup(ctx, g.ID, wf.ID)
	require.NoError(t, err)
	g, err = svc.AddToGroup(ctx, g.ID, wf.ID)
	require.NoError(t, err)
	assert.Len(t, g.Workflows, 1)

	g, err = svc.RenameGroup(ctx, g.ID, "Core")
	require.NoError(t, err)
	assert.Equal(t, "Core", g.Name)

	_, err = svc.RenameGroup(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AddToGroup(ctx, g.ID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.DeleteGroup(ctx, g.ID))
	groups, err := svc.Groups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	_, err := svc.SaveWorkflow(ctx, sampleWorkflow("a"))
	require.NoError(t, err)
	_, err = svc.CreateGroup(ctx, "g")
	require.NoError(t, err)

	data, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"workflows\"")

	other, _ := newService(t)
	require.NoError(t, other.Import(ctx, data))
	wfs, err := other.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, "a", wfs[0].Name)
	groups, err := other.Groups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	// groups absent from the document stay as they are
	require.NoError(t, other.Import(ctx, []byte(`{"workflows":[]}`)))
	wfs, err = other.Workflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, wfs)
	groups, err = other.Groups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	assert.Error(t, other.Import(ctx, []byte(`{not json`)))
}

func TestUnknownStepsSurviveStorage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	raw := `[{"name":"x","steps":[{"type":"hover","timestamp":5,"extra":{"a":1}}]}]`
	require.NoError(t, svc.Import(ctx, []byte(`{"workflows":`+raw+`}`)))

	data, err := svc.Export(ctx)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, string(doc["workflows"]), `"extra"`)
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	wf, err := svc.SaveWorkflow(ctx, sampleWorkflow("nightly"))
	require.NoError(t, err)

	_, err = svc.SaveSchedule(ctx, models.Schedule{WorkflowID: wf.ID, Cron: "not a cron"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = svc.SaveSchedule(ctx, models.Schedule{Cron: "@daily"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = svc.SaveSchedule(ctx, models.Schedule{WorkflowID: "missing", Cron: "@daily"})
	assert.ErrorIs(t, err, ErrNotFound)

	sch, err := svc.SaveSchedule(ctx, models.Schedule{WorkflowID: wf.ID, Cron: "0 30 2 * * *", Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, sch.ID)
	assert.Equal(t, int64(1700000000000), sch.CreatedAt)

	sch.Enabled = false
	_, err = svc.SaveSchedule(ctx, sch)
	require.NoError(t, err)
	all, err := svc.Schedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)

	require.NoError(t, svc.DeleteSchedule(ctx, sch.ID))
	assert.ErrorIs(t, svc.DeleteSchedule(ctx, sch.ID), ErrNotFound)
}
