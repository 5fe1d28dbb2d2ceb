package progress

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ibam/learnsync/core"
)

var (
	// errors
	ErrNotFound = errors.New("progress not found")
)

type (
	// MergeFunc computes the record to store from the current one; existing is nil when absent.
	MergeFunc func(existing *SessionProgress) (SessionProgress, error)

	Repository interface {
		// MergeSession locks the record of key, applies fn and stores its result atomically.
		MergeSession(ctx context.Context, key Key, fn MergeFunc) (SessionProgress, error)
		QuerySessions(ctx context.Context, filter SessionFilter) ([]SessionProgress, error)
		DeleteSessions(ctx context.Context, filter SessionFilter) (int64, error)

		GetModule(ctx context.Context, userID string, moduleID int) (ModuleCompletion, error)
		QueryModules(ctx context.Context, userID string) ([]ModuleCompletion, error)
		UpsertModule(ctx context.Context, mc ModuleCompletion) (ModuleCompletion, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
		now    func() time.Time
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (svc *Service) validateKey(key Key) error {
	var flds []core.FieldError
	if core.CleanString(key.UserID) == "" {
		flds = append(flds, core.FieldError{Field: "userId", Error: "userId is required"})
	}
	if key.ModuleID <= 0 {
		flds = append(flds, core.FieldError{Field: "moduleId", Error: "moduleId must be a positive integer"})
	}
	if key.SessionID <= 0 {
		flds = append(flds, core.FieldError{Field: "sessionId", Error: "sessionId must be a positive integer"})
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// UpdateSession merges u into the stored session record and refreshes the module completion.
// A failure to refresh the module is logged and does not fail the update.
func (svc *Service) UpdateSession(ctx context.Context, u Update) (SessionProgress, error) {
	u.UserID = core.CleanString(u.UserID)
	if err := svc.validateKey(u.Key); err != nil {
		return SessionProgress{}, err
	}

	now := svc.now().UTC()
	sp, err := svc.repo.MergeSession(ctx, u.Key, func(existing *SessionProgress) (SessionProgress, error) {
		base := NewSessionProgress(u.Key, now)
		if existing != nil {
			base = *existing
		}
		return Merge(base, u, now), nil
	})
	if err != nil {
		return SessionProgress{}, errors.Wrap(err, "merging session progress")
	}

	if _, err := svc.RecomputeModule(ctx, u.UserID, u.ModuleID); err != nil {
		svc.logger.Error(fmt.Sprintf("recomputing module %d completion: %v", u.ModuleID, err), err, core.Learner{ID: u.UserID})
	}
	return sp, nil
}

// CompleteSection marks a section as completed. Names outside the four
// flagged sections only move LastSection.
func (svc *Service) CompleteSection(ctx context.Context, key Key, section string) (SessionProgress, error) {
	u := Update{Key: key, Section: section}
	u.SectionCompleted.SetSection(section)
	return svc.UpdateSession(ctx, u)
}

// RecomputeModule derives the module completion from the learner's session records.
func (svc *Service) RecomputeModule(ctx context.Context, userID string, moduleID int) (ModuleCompletion, error) {
	sessions, err := svc.repo.QuerySessions(ctx, SessionFilter{UserID: userID, ModuleID: moduleID})
	if err != nil {
		return ModuleCompletion{}, errors.Wrap(err, "querying module sessions")
	}
	existing, err := svc.repo.GetModule(ctx, userID, moduleID)
	if err != nil && errors.Cause(err) != ErrNotFound {
		return ModuleCompletion{}, errors.Wrap(err, "getting module completion")
	}

	mc := ComputeModule(userID, moduleID, sessions, existing.CompletedAt, svc.now().UTC())
	mc, err = svc.repo.UpsertModule(ctx, mc)
	if err != nil {
		return ModuleCompletion{}, errors.Wrap(err, "upserting module completion")
	}
	return mc, nil
}

// ComputeModule aggregates sessions of one module. completedAt is kept when already stamped.
func ComputeModule(userID string, moduleID int, sessions []SessionProgress, completedAt null.Time, now time.Time) ModuleCompletion {
	mc := ModuleCompletion{
		UserID:        userID,
		ModuleID:      moduleID,
		TotalSessions: SessionCount(moduleID),
		UpdatedAt:     now,
	}

	for _, sp := range sessions {
		if sp.IsCompleted() {
			mc.SessionsCompleted++
		}
		mc.TotalTimeSpentSeconds += sp.TimeSpentSeconds
		if !mc.LastAccessed.Valid || sp.LastAccessed.After(mc.LastAccessed.Time) {
			mc.LastAccessed = null.TimeFrom(sp.LastAccessed)
		}
	}

	pct := int(math.Round(float64(mc.SessionsCompleted) / float64(mc.TotalSessions) * 100))
	if pct > 100 {
		pct = 100
	}
	mc.CompletionPercentage = pct

	switch {
	case pct == 100:
		mc.Status = StatusCompleted
		mc.CompletedAt = completedAt
		if !mc.CompletedAt.Valid {
			mc.CompletedAt = null.TimeFrom(now)
		}
	case pct > 0:
		mc.Status = StatusInProgress
	default:
		mc.Status = StatusNotStarted
	}
	return mc
}

// Summary returns every module and session record of a learner.
func (svc *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	userID = core.CleanString(userID)
	modules, err := svc.repo.QueryModules(ctx, userID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying modules")
	}
	sessions, err := svc.repo.QuerySessions(ctx, SessionFilter{UserID: userID})
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying sessions")
	}
	if modules == nil {
		modules = []ModuleCompletion{}
	}
	if sessions == nil {
		sessions = []SessionProgress{}
	}

	var completed int
	for _, mc := range modules {
		if mc.Status == StatusCompleted {
			completed++
		}
	}
	return Summary{
		Modules:           modules,
		Sessions:          sessions,
		OverallCompletion: int(math.Round(float64(completed) / TotalModules * 100)),
	}, nil
}

// Continue returns the most recently accessed session that is not completed yet.
func (svc *Service) Continue(ctx context.Context, userID string) (SessionProgress, error) {
	sessions, err := svc.repo.QuerySessions(ctx, SessionFilter{UserID: core.CleanString(userID)})
	if err != nil {
		return SessionProgress{}, errors.Wrap(err, "querying sessions")
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastAccessed.After(sessions[j].LastAccessed)
	})
	for _, sp := range sessions {
		if !sp.IsCompleted() {
			return sp, nil
		}
	}
	return SessionProgress{}, ErrNotFound
}

// Reset deletes the matching session records and recomputes the affected modules.
// It is the only way to clear a section flag.
func (svc *Service) Reset(ctx context.Context, filter SessionFilter) (int64, error) {
	filter.UserID = core.CleanString(filter.UserID)
	if filter.UserID == "" {
		return 0, core.NewValidationError(nil, core.FieldError{Field: "userId", Error: "userId is required"})
	}

	deleted, err := svc.repo.DeleteSessions(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "deleting sessions")
	}

	moduleIDs := []int{filter.ModuleID}
	if filter.ModuleID == 0 {
		modules, err := svc.repo.QueryModules(ctx, filter.UserID)
		if err != nil {
			return deleted, errors.Wrap(err, "querying modules")
		}
		moduleIDs = moduleIDs[:0]
		for _, mc := range modules {
			moduleIDs = append(moduleIDs, mc.ModuleID)
		}
	}
	for _, id := range moduleIDs {
		if _, err := svc.recomputeAfterReset(ctx, filter.UserID, id); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// recomputeAfterReset is RecomputeModule without keeping a stale completion stamp.
func (svc *Service) recomputeAfterReset(ctx context.Context, userID string, moduleID int) (ModuleCompletion, error) {
	sessions, err := svc.repo.QuerySessions(ctx, SessionFilter{UserID: userID, ModuleID: moduleID})
	if err != nil {
		return ModuleCompletion{}, errors.Wrap(err, "querying module sessions")
	}
	mc := ComputeModule(userID, moduleID, sessions, null.Time{}, svc.now().UTC())
	return svc.repo.UpsertModule(ctx, mc)
}
