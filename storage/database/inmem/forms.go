package inmemdb

import (
	"context"

	"github.com/ibam/learnsync/core/forms"
)

type (
	formRow forms.Save

	formRepository struct {
		db *formTable
	}
)

var _ forms.Repository = (*formRepository)(nil)

func NewFormRepository(db *DB) forms.Repository {
	return &formRepository{db: db.forms}
}

func (r formRow) toModel() forms.Save {
	s := forms.Save(r)
	s.Data = forms.Data{}.Merge(r.Data)
	return s
}

func (repo *formRepository) MergeSave(ctx context.Context, userID, formID string, fn forms.MergeFunc) (forms.Save, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	userRows, ok := repo.db.table[userID]
	if !ok {
		userRows = make(map[string]formRow)
		repo.db.table[userID] = userRows
	}

	var existing *forms.Save
	if row, ok := userRows[formID]; ok {
		s := row.toModel()
		existing = &s
	}
	merged, err := fn(existing)
	if err != nil {
		return forms.Save{}, err
	}
	stored := formRow(merged)
	stored.Data = forms.Data{}.Merge(merged.Data)
	userRows[formID] = stored
	return stored.toModel(), nil
}

func (repo *formRepository) GetSave(ctx context.Context, userID, formID string) (forms.Save, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if row, ok := repo.db.table[userID][formID]; ok {
		return row.toModel(), nil
	}
	return forms.Save{}, forms.ErrNotFound
}
