package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/jobs"
	"github.com/MimeLyc/contextual-book-translator/internal/placeholder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "booktrans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedGroup creates a project, a running run and one group with n units.
func seedGroup(t *testing.T, store *SQLiteStore, n int) (*book.Project, *book.Run, *book.Group, []*book.Unit) {
	t.Helper()
	ctx := context.Background()

	project := &book.Project{ID: "proj-1", Name: "Novel", SourcePath: "/books/novel", SourceLang: "en", TargetLang: "de"}
	require.NoError(t, store.CreateProject(ctx, project))
	run := &book.Run{ID: "run-1", ProjectID: project.ID, Status: book.RunRunning}
	require.NoError(t, store.CreateRun(ctx, run))

	units := make([]*book.Unit, n)
	for i := range units {
		units[i] = &book.Unit{
			UnitKey:        fmt.Sprintf("/body/p[%d]", i+1),
			Position:       i,
			RawMarkup:      fmt.Sprintf("<p>line %d</p>", i),
			ProtectedText:  fmt.Sprintf("[[0]]line %d[[1]]", i),
			PlaceholderMap: placeholder.Map{0: "<p>", 1: "</p>"},
			TaggedText:     fmt.Sprintf("[[p_1]]line %d[[/p_1]]", i),
			SemanticIndex:  placeholder.SemanticIndex{"p_1": 0, "/p_1": 1},
			ContentHash:    fmt.Sprintf("hash-%d", i),
		}
	}
	group := &book.Group{ProjectID: project.ID, GroupKey: "text/ch01.xhtml"}
	require.NoError(t, store.CreateGroup(ctx, group, units))
	return project, run, group, units
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "booktrans.db")
	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSQLiteStore_ProjectAndRun(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	project, run, _, _ := seedGroup(t, store, 1)

	got, err := store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ProjectActive, got.Status)
	assert.Equal(t, "de", got.TargetLang)

	require.NoError(t, store.SetProjectStatus(ctx, project.ID, book.ProjectPaused))
	got, err = store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ProjectPaused, got.Status)

	later := &book.Run{ID: "run-2", ProjectID: project.ID, CreatedAt: run.CreatedAt.Add(time.Second)}
	require.NoError(t, store.CreateRun(ctx, later))
	latest, err := store.LatestRun(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, book.RunPending, latest.Status)

	require.NoError(t, store.SetRunStatus(ctx, run.ID, book.RunFailed, "boom"))
	gotRun, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, book.RunFailed, gotRun.Status)
	assert.Equal(t, "boom", gotRun.Error)

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetProjectStatus(ctx, "missing", book.ProjectActive), ErrNotFound)

	all, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_CreateGroupRoundTripsUnits(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	_, _, group, units := seedGroup(t, store, 3)

	require.NotZero(t, group.ID)
	assert.Equal(t, 3, group.UnitCount)

	got, err := store.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, book.GroupPending, got.Status)
	assert.Equal(t, 0, got.Cursor)

	unit, err := store.GetUnit(ctx, units[1].ID)
	require.NoError(t, err)
	assert.Equal(t, units[1].UnitKey, unit.UnitKey)
	assert.Equal(t, placeholder.Map{0: "<p>", 1: "</p>"}, unit.PlaceholderMap)
	assert.Equal(t, placeholder.SemanticIndex{"p_1": 0, "/p_1": 1}, unit.SemanticIndex)
	assert.Equal(t, book.UnitPending, unit.Status)
	assert.False(t, unit.Dirty)
}

func TestSQLiteStore_FetchPendingUnits(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	_, _, group, units := seedGroup(t, store, 6)

	require.NoError(t, store.SetUnitStatus(ctx, units[2].ID, book.UnitTranslated))
	require.NoError(t, store.SetUnitStatus(ctx, units[3].ID, book.UnitTranslating))

	got, err := store.FetchPendingUnits(ctx, group.ID, 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{got[0].Position, got[1].Position, got[2].Position})

	got, err = store.FetchPendingUnits(ctx, group.ID, 6, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_AdvanceCursorIsMonotonicAndBounded(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	_, _, group, _ := seedGroup(t, store, 5)

	steps := []struct {
		position int
		want     int
	}{
		{position: 0, want: 1},
		{position: 3, want: 4},
		{position: 1, want: 4},
		{position: 9, want: 5},
		{position: 2, want: 5},
	}
	for _, step := range steps {
		got, err := store.AdvanceCursor(ctx, group.ID, step.position)
		require.NoError(t, err)
		assert.Equal(t, step.want, got, "position %d", step.position)
	}

	_, err := store.AdvanceCursor(ctx, 999, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_WithinTxCommitsAndRollsBack(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	_, run, group, units := seedGroup(t, store, 3)

	err := store.WithinTx(ctx, func(w UnitWriter) error {
		require.NoError(t, w.UpsertBlockTranslation(ctx, &book.BlockTranslation{
			RunID: run.ID, UnitID: units[0].ID, TranslatedText: "Zeile 0", TranslatedMarkup: "<p>Zeile 0</p>", Status: book.BlockOK,
		}))
		require.NoError(t, w.SetUnitStatus(ctx, units[0].ID, book.UnitTranslated))
		_, err := w.AdvanceCursor(ctx, group.ID, units[0].Position)
		require.NoError(t, err)
		return w.SetGroupContext(ctx, group.ID, "intro")
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(w UnitWriter) error {
		require.NoError(t, w.SetUnitStatus(ctx, units[1].ID, book.UnitTranslated))
		_, err := w.AdvanceCursor(ctx, group.ID, units[1].Position)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := store.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor, "second transaction was rolled back")
	assert.Equal(t, "intro", got.ContextSummary)

	unit, err := store.GetUnit(ctx, units[1].ID)
	require.NoError(t, err)
	assert.Equal(t, book.UnitPending, unit.Status)

	bts, err := store.ListBlockTranslations(ctx, run.ID, group.ID)
	require.NoError(t, err)
	require.Len(t, bts, 1)
	assert.Equal(t, "<p>Zeile 0</p>", bts[units[0].ID].TranslatedMarkup)
}

func TestSQLiteStore_UpsertBlockTranslationIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	_, run, group, units := seedGroup(t, store, 1)

	bt := &book.BlockTranslation{RunID: run.ID, UnitID: units[0].ID, TranslatedText: "a", TranslatedMarkup: "<p>a</p>", Status: book.BlockUnvalidated}
	require.NoError(t, store.UpsertBlockTranslation(ctx, bt))
	bt.TranslatedMarkup = "<p>b</p>"
	bt.Status = book.BlockHealingFailed
	require.NoError(t, store.UpsertBlockTranslation(ctx, bt))

	bts, err := store.ListBlockTranslations(ctx, run.ID, group.ID)
	require.NoError(t, err)
	require.Len(t, bts, 1)
	assert.Equal(t, "<p>b</p>", bts[units[0].ID].TranslatedMarkup)
	assert.Equal(t, book.BlockHealingFailed, bts[units[0].ID].Status)

	progress, err := store.GroupProgress(ctx, run.ID, group.ProjectID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].HealingFailed)
}

func TestSQLiteStore_DirtyUnitsAndReset(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	project, run, group, units := seedGroup(t, store, 4)

	for _, u := range units {
		require.NoError(t, store.SetUnitStatus(ctx, u.ID, book.UnitTranslated))
		_, err := store.AdvanceCursor(ctx, group.ID, u.Position)
		require.NoError(t, err)
	}
	require.NoError(t, store.SetUnitDirty(ctx, units[3].ID, true))
	require.NoError(t, store.SetUnitDirty(ctx, units[1].ID, true))
	require.NoError(t, store.SetGroupStatus(ctx, group.ID, book.GroupReady))

	dirty, err := store.ListDirtyUnits(ctx, group.ID, 0)
	require.NoError(t, err)
	require.Len(t, dirty, 2)
	assert.Equal(t, 1, dirty[0].Position)

	progress, err := store.GroupProgress(ctx, run.ID, project.ID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 4, progress[0].Translated)
	assert.Equal(t, 2, progress[0].Dirty)
	assert.InDelta(t, 100.0, progress[0].Percent, 0.001)

	require.NoError(t, store.ResetProject(ctx, project.ID))
	got, err := store.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cursor)
	assert.Equal(t, book.GroupPending, got.Status)
	pending, err := store.FetchPendingUnits(ctx, group.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	dirty, err = store.ListDirtyUnits(ctx, group.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestSQLiteStore_JobsRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := &jobs.Job{
		ID:          "job-1",
		Kind:        jobs.KindTranslateGroup,
		RunID:       "run-1",
		GroupID:     7,
		DedupeKey:   jobs.DedupeKey(jobs.KindTranslateGroup, "run-1", 7),
		Status:      jobs.StatusPending,
		MaxAttempts: 5,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.UpsertJob(ctx, job))

	all, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, jobs.KindTranslateGroup, all[0].Kind)
	assert.Equal(t, int64(7), all[0].GroupID)
	assert.True(t, all[0].StartedAt.IsZero())

	job.Status = jobs.StatusRunning
	job.Attempt = 1
	job.StartedAt = now.Add(time.Second)
	require.NoError(t, store.UpsertJob(ctx, job))

	all, err = store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, jobs.StatusRunning, all[0].Status)
	assert.Equal(t, 1, all[0].Attempt)
	assert.True(t, job.StartedAt.Equal(all[0].StartedAt))

	require.NoError(t, store.DeleteJob(ctx, job.ID))
	all, err = store.LoadJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
