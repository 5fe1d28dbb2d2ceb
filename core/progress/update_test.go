package progress_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ibam/learnsync/core/progress"
	"github.com/ibam/learnsync/tests"
)

func TestCalculateCompletion(t *testing.T) {
	tests := []struct {
		name        string
		flags       progress.SectionFlags
		lookup      progress.Subsections
		lookforward progress.Subsections
		want        int
	}{
		{name: "nothing", want: 0},
		{name: "lookback only", flags: progress.SectionFlags{Lookback: true}, want: 34},
		{name: "lookup only", flags: progress.SectionFlags{Lookup: true}, want: 33},
		{name: "assessment has no weight", flags: progress.SectionFlags{Assessment: true}, want: 0},
		{
			name:  "all weighted sections",
			flags: progress.SectionFlags{Lookback: true, Lookup: true, Lookforward: true},
			want:  100,
		},
		{
			name:   "2 of 5 lookup subsections",
			lookup: progress.Subsections{"wealth": true, "people": true, "reading": false},
			want:   13,
		},
		{
			name:   "unknown subsections are ignored",
			lookup: progress.Subsections{"wealth": true, "bonus": true},
			want:   7,
		},
		{
			name:        "1 of 3 lookforward parts",
			lookforward: progress.Subsections{"sharing_person_completed": true},
			want:        11,
		},
		{
			name:   "section flag wins over partial credit",
			flags:  progress.SectionFlags{Lookup: true},
			lookup: progress.Subsections{"wealth": true},
			want:   33,
		},
		{
			name:        "lookback and partials",
			flags:       progress.SectionFlags{Lookback: true},
			lookup:      progress.Subsections{"wealth": true, "people": true, "reading": true, "case": true, "practice": true},
			lookforward: progress.Subsections{"business_actions_completed": true, "spiritual_integration_completed": true},
			want:        89, // 34 + 33 + 22
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := progress.CalculateCompletion(tt.flags, tt.lookup, tt.lookforward)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMerge(t *testing.T) {
	key := progress.Key{UserID: "u1", ModuleID: 1, SessionID: 2}
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	first := progress.Merge(progress.NewSessionProgress(key, t0), progress.Update{
		Key:     key,
		Section: progress.SectionLookback,
		Fields: progress.Fields{
			SectionCompleted:     progress.SectionFlagsUpdate{Lookback: testutil.BoolPtr(true)},
			TimeSpentSeconds:     testutil.Int64Ptr(120),
			VideoWatchPercentage: testutil.Float64Ptr(80),
			QuizScore:            testutil.Float64Ptr(7),
			QuizAttempts:         testutil.IntPtr(1),
		},
	}, t0)

	assert.Equal(t, 34, first.CompletionPercentage)
	assert.True(t, first.Lookback)
	assert.Equal(t, progress.SectionLookback, first.LastSection)
	assert.EqualValues(t, 120, first.TimeSpentSeconds)
	assert.Equal(t, 80.0, first.VideoWatchPercentage)
	assert.Equal(t, 7.0, first.QuizScore.Float64)
	assert.False(t, first.CompletedAt.Valid)
	assert.Equal(t, progress.SchemaVersion, first.SchemaVersion)

	second := progress.Merge(first, progress.Update{
		Key: key,
		Fields: progress.Fields{
			SectionCompleted:     progress.SectionFlagsUpdate{Lookback: testutil.BoolPtr(false), Lookup: testutil.BoolPtr(true)},
			TimeSpentSeconds:     testutil.Int64Ptr(30),
			VideoWatchPercentage: testutil.Float64Ptr(40),
			QuizScore:            testutil.Float64Ptr(5),
			QuizAttempts:         testutil.IntPtr(2),
		},
	}, t1)

	assert.True(t, second.Lookback, "a reported false never clears a flag")
	assert.True(t, second.Lookup)
	assert.Equal(t, 67, second.CompletionPercentage)
	assert.Equal(t, progress.SectionLookback, second.LastSection)
	assert.EqualValues(t, 150, second.TimeSpentSeconds)
	assert.Equal(t, 80.0, second.VideoWatchPercentage, "video percentage is a high-water mark")
	assert.Equal(t, 5.0, second.QuizScore.Float64)
	assert.Equal(t, 3, second.QuizAttempts)
	assert.Equal(t, t1, second.LastAccessed)
	assert.Equal(t, t0, second.CreatedAt)

	third := progress.Merge(second, progress.Update{
		Key:    key,
		Fields: progress.Fields{SectionCompleted: progress.SectionFlagsUpdate{Lookforward: testutil.BoolPtr(true)}},
	}, t1)
	assert.Equal(t, 100, third.CompletionPercentage)
	assert.True(t, third.CompletedAt.Valid)
	assert.Equal(t, t1, third.CompletedAt.Time)

	fourth := progress.Merge(third, progress.Update{
		Key:    key,
		Fields: progress.Fields{SectionCompleted: progress.SectionFlagsUpdate{Lookback: testutil.BoolPtr(true)}},
	}, t2)
	assert.Equal(t, t1, fourth.CompletedAt.Time, "completedAt is set once")
	assert.Equal(t, t2, fourth.LastAccessed)
}

func TestMerge_subsections(t *testing.T) {
	key := progress.Key{UserID: "u1", ModuleID: 1, SessionID: 1}
	now := time.Now().UTC()
	lookingUp := func(subs progress.Subsections) progress.Update {
		return progress.Update{Key: key, Fields: progress.Fields{
			SubsectionProgress: progress.SubsectionUpdate{LookingUp: subs},
		}}
	}

	t.Run("reported map replaces the stored one", func(t *testing.T) {
		sp := progress.Merge(progress.NewSessionProgress(key, now), lookingUp(progress.Subsections{"wealth": true}), now)
		assert.Equal(t, 7, sp.CompletionPercentage)

		sp = progress.Merge(sp, lookingUp(progress.Subsections{"people": true}), now)
		assert.Equal(t, progress.Subsections{"people": true}, sp.LookupSubsections)
		assert.Equal(t, 7, sp.CompletionPercentage)
	})

	t.Run("partial credit only from the reported map", func(t *testing.T) {
		sp := progress.Merge(progress.NewSessionProgress(key, now), lookingUp(progress.Subsections{"wealth": true, "people": true}), now)
		assert.Equal(t, 13, sp.CompletionPercentage)

		sp = progress.Merge(sp, progress.Update{Key: key, Fields: progress.Fields{
			SectionCompleted: progress.SectionFlagsUpdate{Lookback: testutil.BoolPtr(true)},
		}}, now)
		assert.Equal(t, 34, sp.CompletionPercentage, "max(13, 34)")
		assert.Equal(t, progress.Subsections{"wealth": true, "people": true}, sp.LookupSubsections, "absent map keeps the stored one")
	})

	t.Run("completion never drops", func(t *testing.T) {
		sp := progress.Merge(progress.NewSessionProgress(key, now), lookingUp(progress.Subsections{"wealth": true, "people": true, "reading": true}), now)
		assert.Equal(t, 20, sp.CompletionPercentage)

		sp = progress.Merge(sp, lookingUp(progress.Subsections{"wealth": false}), now)
		assert.Equal(t, progress.Subsections{"wealth": false}, sp.LookupSubsections)
		assert.Equal(t, 20, sp.CompletionPercentage)
	})
}

func TestSessionCount(t *testing.T) {
	tests := []struct {
		module int
		want   int
	}{
		{1, 4}, {2, 4}, {3, 5}, {4, 4}, {5, 5}, {6, 4}, {0, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progress.SessionCount(tt.module), "module %d", tt.module)
	}
}
