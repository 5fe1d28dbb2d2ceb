package forms

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core"
)

var (
	// errors
	ErrNotFound = errors.New("form save not found")
)

type (
	// MergeFunc computes the draft to store from the current one; existing is nil when absent.
	MergeFunc func(existing *Save) (Save, error)

	Repository interface {
		MergeSave(ctx context.Context, userID, formID string, fn MergeFunc) (Save, error)
		GetSave(ctx context.Context, userID, formID string) (Save, error)
	}

	Service struct {
		repo Repository
		now  func() time.Time
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Save merges the posted keys into the stored draft. Keys absent from the
// request keep their stored value; module and session stick once known.
func (svc *Service) Save(ctx context.Context, ns NewSave) (Save, error) {
	ns.UserID = core.CleanString(ns.UserID)
	ns.FormID = core.CleanString(ns.FormID)

	var flds []core.FieldError
	if ns.UserID == "" {
		flds = append(flds, core.FieldError{Field: "userId", Error: "userId is required"})
	}
	if ns.FormID == "" {
		flds = append(flds, core.FieldError{Field: "formId", Error: "formId is required"})
	}
	if flds != nil {
		return Save{}, core.NewValidationError(nil, flds...)
	}

	now := svc.now().UTC()
	s, err := svc.repo.MergeSave(ctx, ns.UserID, ns.FormID, func(existing *Save) (Save, error) {
		merged := Save{UserID: ns.UserID, FormID: ns.FormID}
		if existing != nil {
			merged = *existing
		}
		merged.Data = merged.Data.Merge(ns.Data)
		if ns.ModuleID.Valid {
			merged.ModuleID = ns.ModuleID
		}
		if ns.SessionID.Valid {
			merged.SessionID = ns.SessionID
		}
		merged.SavedAt = now
		return merged, nil
	})
	if err != nil {
		return Save{}, errors.Wrap(err, "merging form save")
	}
	return s, nil
}

func (svc *Service) Get(ctx context.Context, userID, formID string) (Save, error) {
	return svc.repo.GetSave(ctx, core.CleanString(userID), core.CleanString(formID))
}
