package progress

// Sections of a learning session.
const (
	SectionLookback    = "lookback"
	SectionLookup      = "lookup"
	SectionLookforward = "lookforward"
	SectionAssessment  = "assessment"
)

// Module status values.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

const (
	// SchemaVersion is the version of the SessionProgress record shape.
	SchemaVersion = 1

	// TotalModules is the number of modules in the course.
	TotalModules = 5

	lookbackWeight    = 34
	lookupWeight      = 33
	lookforwardWeight = 33

	defaultSessionCount = 4
)

var (
	// LookupSubsections are the parts of the lookup section, in display order.
	LookupSubsections = []string{"wealth", "people", "reading", "case", "practice"}

	// LookforwardSubsections are the parts of the lookforward section.
	LookforwardSubsections = []string{
		"business_actions_completed",
		"spiritual_integration_completed",
		"sharing_person_completed",
	}

	moduleSessions = map[int]int{1: 4, 2: 4, 3: 5, 4: 4, 5: 5}
)

// SessionCount returns the number of sessions in a module.
func SessionCount(moduleID int) int {
	if n, ok := moduleSessions[moduleID]; ok {
		return n
	}
	return defaultSessionCount
}

// IsSection reports whether name is one of the four flagged sections.
func IsSection(name string) bool {
	switch name {
	case SectionLookback, SectionLookup, SectionLookforward, SectionAssessment:
		return true
	}
	return false
}
