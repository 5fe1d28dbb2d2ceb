package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/forms"
)

const (
	formColumns = `user_id, form_id, module_id, session_id, data, saved_at`

	selectFormForUpdate = `SELECT ` + formColumns + ` FROM form_saves WHERE user_id = $1 AND form_id = $2 FOR UPDATE`

	upsertForm = `INSERT INTO form_saves (` + formColumns + `)
	VALUES (:user_id, :form_id, :module_id, :session_id, :data, :saved_at)
	ON CONFLICT (user_id, form_id) DO UPDATE SET
		module_id = EXCLUDED.module_id,
		session_id = EXCLUDED.session_id,
		data = EXCLUDED.data,
		saved_at = EXCLUDED.saved_at`
)

type formRepository struct {
	db core.DB
}

var _ forms.Repository = (*formRepository)(nil)

func NewFormRepository(db core.DB) forms.Repository {
	return &formRepository{db: db}
}

// MergeSave serializes writers of an existing draft with a row lock; concurrent
// first saves of the same form fall back to the upsert.
func (repo *formRepository) MergeSave(ctx context.Context, userID, formID string, fn forms.MergeFunc) (forms.Save, error) {
	var stored forms.Save

	err := core.WithinTx(ctx, repo.db, func(tx core.DBExecutor) error {
		var current forms.Save
		var existing *forms.Save
		err := tx.GetContext(ctx, &current, selectFormForUpdate, userID, formID)
		switch {
		case err == nil:
			existing = &current
		case errors.Is(err, sql.ErrNoRows):
		default:
			return errors.Wrap(err, "locking form save")
		}

		merged, err := fn(existing)
		if err != nil {
			return err
		}
		if _, err = sqlx.NamedExecContext(ctx, tx, upsertForm, merged); err != nil {
			return errors.Wrap(err, "upserting form save")
		}
		stored = merged
		return nil
	})
	if err != nil {
		return forms.Save{}, err
	}
	return stored, nil
}

func (repo *formRepository) GetSave(ctx context.Context, userID, formID string) (forms.Save, error) {
	var s forms.Save
	q := `SELECT ` + formColumns + ` FROM form_saves WHERE user_id = $1 AND form_id = $2`
	if err := repo.db.GetContext(ctx, &s, q, userID, formID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, forms.ErrNotFound
		}
		return s, errors.Wrap(err, "selecting form save")
	}
	return s, nil
}
