package progress

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

type (
	// Key identifies a SessionProgress record.
	Key struct {
		UserID    string
		ModuleID  int
		SessionID int
	}

	SectionFlags struct {
		Lookback    bool `json:"lookback" db:"lookback_completed"`
		Lookup      bool `json:"lookup" db:"lookup_completed"`
		Lookforward bool `json:"lookforward" db:"lookforward_completed"`
		Assessment  bool `json:"assessment" db:"assessment_completed"`
	}

	// Subsections maps a subsection name to its completion.
	Subsections map[string]bool

	SessionProgress struct {
		SectionFlags `json:"sectionFlags"`

		UserID                 string       `json:"userId" db:"user_id"`
		ModuleID               int          `json:"moduleId" db:"module_id"`
		SessionID              int          `json:"sessionId" db:"session_id"`
		SchemaVersion          int          `json:"schemaVersion" db:"schema_version"`
		LastSection            string       `json:"lastSection" db:"last_section"`
		LookupSubsections      Subsections  `json:"lookupSubsections" db:"lookup_subsections"`
		LookforwardSubsections Subsections  `json:"lookforwardSubsections" db:"lookforward_subsections"`
		TimeSpentSeconds       int64        `json:"timeSpentSeconds" db:"time_spent_seconds"`
		VideoWatchPercentage   float64      `json:"videoWatchPercentage" db:"video_watch_percentage"`
		QuizScore              null.Float64 `json:"quizScore" db:"quiz_score"`
		QuizAttempts           int          `json:"quizAttempts" db:"quiz_attempts"`
		CompletionPercentage   int          `json:"completionPercentage" db:"completion_percentage"`
		CompletedAt            null.Time    `json:"completedAt" db:"completed_at"`
		LastAccessed           time.Time    `json:"lastAccessed" db:"last_accessed"`
		CreatedAt              time.Time    `json:"createdAt" db:"created_at"`
		UpdatedAt              time.Time    `json:"updatedAt" db:"updated_at"`
	}

	ModuleCompletion struct {
		UserID                string    `json:"userId" db:"user_id"`
		ModuleID              int       `json:"moduleId" db:"module_id"`
		CompletionPercentage  int       `json:"completionPercentage" db:"completion_percentage"`
		SessionsCompleted     int       `json:"sessionsCompleted" db:"sessions_completed"`
		TotalSessions         int       `json:"totalSessions" db:"total_sessions"`
		TotalTimeSpentSeconds int64     `json:"totalTimeSpentSeconds" db:"total_time_spent_seconds"`
		Status                string    `json:"status" db:"status"`
		LastAccessed          null.Time `json:"lastAccessed" db:"last_accessed"`
		CompletedAt           null.Time `json:"completedAt" db:"completed_at"`
		UpdatedAt             time.Time `json:"updatedAt" db:"updated_at"`
	}

	// Summary is a learner's progress across the course.
	Summary struct {
		Modules           []ModuleCompletion `json:"modules"`
		Sessions          []SessionProgress  `json:"sessions"`
		OverallCompletion int                `json:"overallCompletion"`
	}

	// SessionFilter selects sessions of a learner; zero IDs match everything.
	SessionFilter struct {
		UserID    string
		ModuleID  int
		SessionID int
	}
)

func (k Key) Filter() SessionFilter {
	return SessionFilter{UserID: k.UserID, ModuleID: k.ModuleID, SessionID: k.SessionID}
}

// Key returns the identity of sp.
func (sp SessionProgress) Key() Key {
	return Key{UserID: sp.UserID, ModuleID: sp.ModuleID, SessionID: sp.SessionID}
}

func (sp SessionProgress) IsCompleted() bool { return sp.CompletionPercentage == 100 }

// NewSessionProgress returns the zeroed record used when nothing is stored yet.
func NewSessionProgress(key Key, now time.Time) SessionProgress {
	return SessionProgress{
		UserID:                 key.UserID,
		ModuleID:               key.ModuleID,
		SessionID:              key.SessionID,
		SchemaVersion:          SchemaVersion,
		LookupSubsections:      Subsections{},
		LookforwardSubsections: Subsections{},
		LastAccessed:           now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Completed counts the names set to true in s.
func (s Subsections) Completed(names []string) int {
	var n int
	for _, name := range names {
		if s[name] {
			n++
		}
	}
	return n
}

// Value encodes s as a JSON string; lib/pq would send []byte as bytea.
func (s Subsections) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]bool(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Subsections) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = Subsections{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into Subsections", src)
	}
	m := make(map[string]bool)
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "decoding subsections")
	}
	*s = m
	return nil
}
