package progress

import (
	"math"
	"time"

	"github.com/volatiletech/null/v8"
)

type (
	// SectionFlagsUpdate carries the reported section flags; nil means not reported.
	SectionFlagsUpdate struct {
		Lookback    *bool `json:"lookback,omitempty"`
		Lookup      *bool `json:"lookup,omitempty"`
		Lookforward *bool `json:"lookforward,omitempty"`
		Assessment  *bool `json:"assessment,omitempty"`
	}

	SubsectionUpdate struct {
		LookingUp      Subsections `json:"lookingUp,omitempty"`
		LookingForward Subsections `json:"lookingForward,omitempty"`
	}

	// Fields are the optional values every progress write may carry.
	Fields struct {
		SectionCompleted     SectionFlagsUpdate `json:"sectionCompleted"`
		TimeSpentSeconds     *int64             `json:"timeSpentSeconds,omitempty" validate:"omitempty,min=0"`
		VideoWatchPercentage *float64           `json:"videoWatchPercentage,omitempty" validate:"omitempty,min=0,max=100"`
		QuizScore            *float64           `json:"quizScore,omitempty"`
		QuizAttempts         *int               `json:"quizAttempts,omitempty" validate:"omitempty,min=0"`
		SubsectionProgress   SubsectionUpdate   `json:"subsectionProgress"`
	}

	// Update is a progress report for one session.
	Update struct {
		Key
		Section string
		Fields
	}
)

// SetSection marks the named section as completed. Unknown names are ignored.
func (f *SectionFlagsUpdate) SetSection(name string) {
	done := true
	switch name {
	case SectionLookback:
		f.Lookback = &done
	case SectionLookup:
		f.Lookup = &done
	case SectionLookforward:
		f.Lookforward = &done
	case SectionAssessment:
		f.Assessment = &done
	}
}

// CalculateCompletion returns the weighted completion of a session, in [0, 100].
// A nil subsection map gives no partial credit.
func CalculateCompletion(flags SectionFlags, lookup, lookforward Subsections) int {
	var total float64

	if flags.Lookback {
		total += lookbackWeight
	}

	if flags.Lookup {
		total += lookupWeight
	} else if lookup != nil {
		total += lookupWeight * float64(lookup.Completed(LookupSubsections)) / float64(len(LookupSubsections))
	}

	if flags.Lookforward {
		total += lookforwardWeight
	} else if lookforward != nil {
		total += lookforwardWeight * float64(lookforward.Completed(LookforwardSubsections)) / float64(len(LookforwardSubsections))
	}

	pct := int(math.Round(total))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

func mergeFlag(existing bool, incoming *bool) bool {
	return existing || (incoming != nil && *incoming)
}

// replaceSubsections returns a copy of incoming when it was reported, else existing.
func replaceSubsections(existing, incoming Subsections) Subsections {
	if incoming == nil {
		return existing
	}
	replaced := make(Subsections, len(incoming))
	for k, v := range incoming {
		replaced[k] = v
	}
	return replaced
}

// Merge applies u on top of existing and returns the new record.
// Flags are never cleared and a reported subsection map replaces the stored one.
// Partial credit only comes from the subsections reported by u.
// Counters accumulate, the video percentage is a high-water mark and the
// completion never decreases.
func Merge(existing SessionProgress, u Update, now time.Time) SessionProgress {
	merged := existing
	merged.SchemaVersion = SchemaVersion

	if u.Section != "" {
		merged.LastSection = u.Section
	}

	in := u.SectionCompleted
	merged.SectionFlags = SectionFlags{
		Lookback:    mergeFlag(existing.Lookback, in.Lookback),
		Lookup:      mergeFlag(existing.Lookup, in.Lookup),
		Lookforward: mergeFlag(existing.Lookforward, in.Lookforward),
		Assessment:  mergeFlag(existing.Assessment, in.Assessment),
	}
	merged.LookupSubsections = replaceSubsections(existing.LookupSubsections, u.SubsectionProgress.LookingUp)
	merged.LookforwardSubsections = replaceSubsections(existing.LookforwardSubsections, u.SubsectionProgress.LookingForward)

	if u.TimeSpentSeconds != nil {
		merged.TimeSpentSeconds += *u.TimeSpentSeconds
	}
	if u.VideoWatchPercentage != nil && *u.VideoWatchPercentage > merged.VideoWatchPercentage {
		merged.VideoWatchPercentage = *u.VideoWatchPercentage
	}
	if u.QuizScore != nil {
		merged.QuizScore = null.Float64From(*u.QuizScore)
	}
	if u.QuizAttempts != nil {
		merged.QuizAttempts += *u.QuizAttempts
	}

	calculated := CalculateCompletion(merged.SectionFlags, u.SubsectionProgress.LookingUp, u.SubsectionProgress.LookingForward)
	if calculated > merged.CompletionPercentage {
		merged.CompletionPercentage = calculated
	}
	if merged.CompletionPercentage == 100 && !merged.CompletedAt.Valid {
		merged.CompletedAt = null.TimeFrom(now)
	}

	merged.LastAccessed = now
	merged.UpdatedAt = now
	return merged
}
