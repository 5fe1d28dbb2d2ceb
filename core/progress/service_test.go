package progress_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/progress"
	"github.com/ibam/learnsync/storage/database/inmem"
	"github.com/ibam/learnsync/tests"
)

func setup(t *testing.T) (*progress.Service, progress.Repository, *testutil.Logger) {
	logger := testutil.NewLogger(t)
	repo := inmemdb.NewProgressRepository(inmemdb.NewDB())
	return progress.NewService(repo, logger), repo, logger
}

func flags(sections ...string) progress.SectionFlagsUpdate {
	var f progress.SectionFlagsUpdate
	for _, s := range sections {
		f.SetSection(s)
	}
	return f
}

func update(userID string, moduleID, sessionID int, sections ...string) progress.Update {
	return progress.Update{
		Key:    progress.Key{UserID: userID, ModuleID: moduleID, SessionID: sessionID},
		Fields: progress.Fields{SectionCompleted: flags(sections...)},
	}
}

func TestService_UpdateSession_weights(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	sp, err := svc.UpdateSession(ctx, update("u1", 1, 1, progress.SectionLookback))
	require.NoError(t, err)
	assert.Equal(t, 34, sp.CompletionPercentage)
	assert.False(t, sp.CompletedAt.Valid)

	sp, err = svc.UpdateSession(ctx, update("u2", 1, 1, progress.SectionLookback, progress.SectionLookup, progress.SectionLookforward))
	require.NoError(t, err)
	assert.Equal(t, 100, sp.CompletionPercentage)
	assert.True(t, sp.CompletedAt.Valid)

	u := update("u3", 1, 1)
	u.SubsectionProgress.LookingUp = progress.Subsections{"wealth": true, "case": true}
	sp, err = svc.UpdateSession(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 13, sp.CompletionPercentage)
}

func TestService_UpdateSession_idempotentRePost(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	u := update("u1", 2, 3, progress.SectionLookback)
	u.TimeSpentSeconds = testutil.Int64Ptr(60)

	first, err := svc.UpdateSession(ctx, u)
	require.NoError(t, err)
	second, err := svc.UpdateSession(ctx, u)
	require.NoError(t, err)

	assert.Equal(t, first.CompletionPercentage, second.CompletionPercentage)
	assert.EqualValues(t, 60, first.TimeSpentSeconds)
	assert.EqualValues(t, 120, second.TimeSpentSeconds, "replays accumulate time spent")
}

func TestService_UpdateSession_completedAtIsImmutable(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	all := update("u1", 1, 1, progress.SectionLookback, progress.SectionLookup, progress.SectionLookforward)
	first, err := svc.UpdateSession(ctx, all)
	require.NoError(t, err)
	require.True(t, first.CompletedAt.Valid)

	time.Sleep(2 * time.Millisecond)
	second, err := svc.UpdateSession(ctx, all)
	require.NoError(t, err)
	assert.True(t, first.CompletedAt.Time.Equal(second.CompletedAt.Time))
	assert.True(t, second.LastAccessed.After(first.LastAccessed))
}

func TestService_UpdateSession_monotonic(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	partial := update("u1", 1, 1)
	partial.SubsectionProgress.LookingForward = progress.Subsections{"business_actions_completed": true}
	reset := update("u1", 1, 1)
	reset.SectionCompleted = progress.SectionFlagsUpdate{
		Lookback: testutil.BoolPtr(false), Lookup: testutil.BoolPtr(false), Lookforward: testutil.BoolPtr(false),
	}

	sequences := map[string][]progress.Update{
		"forward": {
			partial,
			update("u1", 1, 1, progress.SectionLookback),
			reset,
			update("u1", 1, 1, progress.SectionLookup),
			update("u1", 1, 1, progress.SectionLookforward),
		},
		"backward": {
			update("u1", 1, 1, progress.SectionLookforward),
			reset,
			update("u1", 1, 1, progress.SectionLookup),
			partial,
			update("u1", 1, 1, progress.SectionLookback),
		},
	}
	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			svc, _, _ = setup(t)
			var prev int
			for i, u := range seq {
				sp, err := svc.UpdateSession(ctx, u)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, sp.CompletionPercentage, prev, "step %d", i)
				prev = sp.CompletionPercentage
			}
			assert.Equal(t, 100, prev)
		})
	}
}

func TestService_UpdateSession_invalidInput(t *testing.T) {
	svc, _, _ := setup(t)

	tests := []struct {
		name string
		key  progress.Key
	}{
		{name: "no user", key: progress.Key{ModuleID: 1, SessionID: 1}},
		{name: "blank user", key: progress.Key{UserID: "  ", ModuleID: 1, SessionID: 1}},
		{name: "no module", key: progress.Key{UserID: "u1", SessionID: 1}},
		{name: "no session", key: progress.Key{UserID: "u1", ModuleID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateSession(context.Background(), progress.Update{Key: tt.key})
			assert.True(t, core.IsValidationError(err), "got %v", err)
		})
	}
}

func TestService_moduleCompletion(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	mc, err := repo.GetModule(ctx, "u1", 3)
	assert.Equal(t, progress.ErrNotFound, err)

	_, err = svc.UpdateSession(ctx, update("u1", 3, 1, progress.SectionLookback))
	require.NoError(t, err)
	mc, err = repo.GetModule(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, mc.CompletionPercentage)
	assert.Equal(t, progress.StatusNotStarted, mc.Status, "status follows the percentage alone")
	assert.Equal(t, 5, mc.TotalSessions)

	var stamp time.Time
	for session, want := range []int{20, 40, 60, 80, 100} {
		u := update("u1", 3, session+1, progress.SectionLookback, progress.SectionLookup, progress.SectionLookforward)
		u.TimeSpentSeconds = testutil.Int64Ptr(10)
		_, err = svc.UpdateSession(ctx, u)
		require.NoError(t, err)

		mc, err = repo.GetModule(ctx, "u1", 3)
		require.NoError(t, err)
		assert.Equal(t, want, mc.CompletionPercentage)
		assert.Equal(t, session+1, mc.SessionsCompleted)
		assert.EqualValues(t, 10*(session+1), mc.TotalTimeSpentSeconds)
		if want == 100 {
			assert.Equal(t, progress.StatusCompleted, mc.Status)
			require.True(t, mc.CompletedAt.Valid)
			stamp = mc.CompletedAt.Time
		} else {
			assert.False(t, mc.CompletedAt.Valid)
		}
	}

	// a later update of a completed module keeps the stamp
	_, err = svc.UpdateSession(ctx, update("u1", 3, 2, progress.SectionAssessment))
	require.NoError(t, err)
	mc, err = repo.GetModule(ctx, "u1", 3)
	require.NoError(t, err)
	assert.True(t, stamp.Equal(mc.CompletedAt.Time))
}

func TestComputeModule_status(t *testing.T) {
	now := time.Now().UTC()
	key := progress.Key{UserID: "u1", ModuleID: 1}
	started := progress.NewSessionProgress(key, now)
	started.SessionID, started.CompletionPercentage = 1, 67
	done := progress.NewSessionProgress(key, now)
	done.SessionID, done.CompletionPercentage = 2, 100

	tests := []struct {
		name     string
		sessions []progress.SessionProgress
		wantPct  int
		want     string
	}{
		{name: "no sessions", want: progress.StatusNotStarted},
		{name: "sessions without a completed one", sessions: []progress.SessionProgress{started}, want: progress.StatusNotStarted},
		{name: "one of four", sessions: []progress.SessionProgress{started, done}, wantPct: 25, want: progress.StatusInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := progress.ComputeModule("u1", 1, tt.sessions, progress.ModuleCompletion{}.CompletedAt, now)
			assert.Equal(t, tt.want, mc.Status)
			assert.Equal(t, tt.wantPct, mc.CompletionPercentage)
			assert.Equal(t, 4, mc.TotalSessions)
		})
	}
}

func TestService_Summary(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	summary, err := svc.Summary(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, summary.Modules)
	assert.Empty(t, summary.Sessions)
	assert.Equal(t, 0, summary.OverallCompletion)

	for session := 1; session <= 4; session++ {
		_, err = svc.UpdateSession(ctx, update("u1", 1, session, progress.SectionLookback, progress.SectionLookup, progress.SectionLookforward))
		require.NoError(t, err)
	}
	_, err = svc.UpdateSession(ctx, update("u1", 2, 1, progress.SectionLookback))
	require.NoError(t, err)

	summary, err = svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, summary.Modules, 2)
	assert.Len(t, summary.Sessions, 5)
	assert.Equal(t, 20, summary.OverallCompletion)
}

func TestService_Continue(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Continue(ctx, "u1")
	assert.Equal(t, progress.ErrNotFound, err)

	_, err = svc.UpdateSession(ctx, update("u1", 1, 1, progress.SectionLookback))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = svc.UpdateSession(ctx, update("u1", 1, 2, progress.SectionLookup))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = svc.UpdateSession(ctx, update("u1", 1, 3, progress.SectionLookback, progress.SectionLookup, progress.SectionLookforward))
	require.NoError(t, err)

	sp, err := svc.Continue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, sp.SessionID)
}

func TestService_Reset(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	for session := 1; session <= 4; session++ {
		_, err := svc.UpdateSession(ctx, update("u1", 1, session, progress.SectionLookback, progress.SectionLookup, progress.SectionLookforward))
		require.NoError(t, err)
	}
	mc, err := repo.GetModule(ctx, "u1", 1)
	require.NoError(t, err)
	require.Equal(t, progress.StatusCompleted, mc.Status)

	_, err = svc.Reset(ctx, progress.SessionFilter{})
	assert.True(t, core.IsValidationError(err))

	deleted, err := svc.Reset(ctx, progress.SessionFilter{UserID: "u1", ModuleID: 1, SessionID: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	mc, err = repo.GetModule(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 75, mc.CompletionPercentage)
	assert.Equal(t, progress.StatusInProgress, mc.Status)
	assert.False(t, mc.CompletedAt.Valid)

	// flags can be set again from scratch
	sp, err := svc.UpdateSession(ctx, update("u1", 1, 4, progress.SectionLookback))
	require.NoError(t, err)
	assert.Equal(t, 34, sp.CompletionPercentage)

	deleted, err = svc.Reset(ctx, progress.SessionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, deleted)
	mc, err = repo.GetModule(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusNotStarted, mc.Status)
}

type failingModuleRepo struct {
	progress.Repository
}

func (failingModuleRepo) UpsertModule(context.Context, progress.ModuleCompletion) (progress.ModuleCompletion, error) {
	return progress.ModuleCompletion{}, errors.New("module table unavailable")
}

func TestService_UpdateSession_moduleFailureIsLoggedOnly(t *testing.T) {
	logger := testutil.NewLogger(t)
	repo := failingModuleRepo{Repository: inmemdb.NewProgressRepository(inmemdb.NewDB())}
	svc := progress.NewService(repo, logger)

	sp, err := svc.UpdateSession(context.Background(), update("u1", 1, 1, progress.SectionLookback))
	require.NoError(t, err)
	assert.Equal(t, 34, sp.CompletionPercentage)

	stored, err := repo.QuerySessions(context.Background(), progress.SessionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, stored, 1, "the session write is kept")
	assert.Len(t, logger.Entries("ERROR"), 1)
}
