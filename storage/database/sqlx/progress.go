package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/progress"
)

const (
	sessionColumns = `user_id, module_id, session_id, schema_version, last_section,
	lookback_completed, lookup_completed, lookforward_completed, assessment_completed,
	lookup_subsections, lookforward_subsections, time_spent_seconds, video_watch_percentage,
	quiz_score, quiz_attempts, completion_percentage, completed_at, last_accessed, created_at, updated_at`

	moduleColumns = `user_id, module_id, completion_percentage, sessions_completed, total_sessions,
	total_time_spent_seconds, status, last_accessed, completed_at, updated_at`

	insertBlankSession = `INSERT INTO session_progress (user_id, module_id, session_id, last_accessed, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4, $4)
	ON CONFLICT (user_id, module_id, session_id) DO NOTHING`

	selectSessionForUpdate = `SELECT ` + sessionColumns + ` FROM session_progress
	WHERE user_id = $1 AND module_id = $2 AND session_id = $3
	FOR UPDATE`

	updateSession = `UPDATE session_progress SET
	schema_version = :schema_version,
	last_section = :last_section,
	lookback_completed = :lookback_completed,
	lookup_completed = :lookup_completed,
	lookforward_completed = :lookforward_completed,
	assessment_completed = :assessment_completed,
	lookup_subsections = :lookup_subsections,
	lookforward_subsections = :lookforward_subsections,
	time_spent_seconds = :time_spent_seconds,
	video_watch_percentage = :video_watch_percentage,
	quiz_score = :quiz_score,
	quiz_attempts = :quiz_attempts,
	completion_percentage = :completion_percentage,
	completed_at = COALESCE(completed_at, :completed_at),
	last_accessed = :last_accessed,
	updated_at = :updated_at
	WHERE user_id = :user_id AND module_id = :module_id AND session_id = :session_id
	RETURNING ` + sessionColumns

	upsertModule = `INSERT INTO module_completion (` + moduleColumns + `)
	VALUES (:user_id, :module_id, :completion_percentage, :sessions_completed, :total_sessions,
		:total_time_spent_seconds, :status, :last_accessed, :completed_at, :updated_at)
	ON CONFLICT (user_id, module_id) DO UPDATE SET
		completion_percentage = EXCLUDED.completion_percentage,
		sessions_completed = EXCLUDED.sessions_completed,
		total_sessions = EXCLUDED.total_sessions,
		total_time_spent_seconds = EXCLUDED.total_time_spent_seconds,
		status = EXCLUDED.status,
		last_accessed = EXCLUDED.last_accessed,
		completed_at = EXCLUDED.completed_at,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + moduleColumns
)

type progressRepository struct {
	db core.DB
}

var _ progress.Repository = (*progressRepository)(nil)

func NewProgressRepository(db core.DB) progress.Repository {
	return &progressRepository{db: db}
}

// MergeSession makes sure the row exists, locks it with SELECT ... FOR UPDATE
// and writes the merged record in the same transaction.
func (repo *progressRepository) MergeSession(ctx context.Context, key progress.Key, fn progress.MergeFunc) (progress.SessionProgress, error) {
	var stored progress.SessionProgress

	err := core.WithinTx(ctx, repo.db, func(tx core.DBExecutor) error {
		res, err := tx.ExecContext(ctx, insertBlankSession, key.UserID, key.ModuleID, key.SessionID, time.Now().UTC())
		if err != nil {
			return errors.Wrap(err, "inserting session progress")
		}
		created, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "inserting session progress")
		}

		var current progress.SessionProgress
		if err = tx.GetContext(ctx, &current, selectSessionForUpdate, key.UserID, key.ModuleID, key.SessionID); err != nil {
			return errors.Wrap(err, "locking session progress")
		}

		existing := &current
		if created == 1 {
			existing = nil
		}
		merged, err := fn(existing)
		if err != nil {
			return err
		}

		rows, err := sqlx.NamedQueryContext(ctx, tx, updateSession, merged)
		if err != nil {
			return errors.Wrap(err, "updating session progress")
		}
		defer func() { _ = rows.Close() }()
		if !rows.Next() {
			if err = rows.Err(); err != nil {
				return errors.Wrap(err, "updating session progress")
			}
			return core.NewShutdownError("session progress row vanished while locked")
		}
		return errors.Wrap(rows.StructScan(&stored), "scanning session progress")
	})
	if err != nil {
		return progress.SessionProgress{}, err
	}
	return stored, nil
}

func sessionWhere(filter progress.SessionFilter) (string, []interface{}) {
	conds := []string{"user_id = $1"}
	args := []interface{}{filter.UserID}
	if filter.ModuleID != 0 {
		args = append(args, filter.ModuleID)
		conds = append(conds, fmt.Sprintf("module_id = $%d", len(args)))
	}
	if filter.SessionID != 0 {
		args = append(args, filter.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func (repo *progressRepository) QuerySessions(ctx context.Context, filter progress.SessionFilter) ([]progress.SessionProgress, error) {
	where, args := sessionWhere(filter)
	q := `SELECT ` + sessionColumns + ` FROM session_progress WHERE ` + where + ` ORDER BY module_id, session_id`

	sessions := make([]progress.SessionProgress, 0)
	if err := repo.db.SelectContext(ctx, &sessions, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting sessions")
	}
	return sessions, nil
}

func (repo *progressRepository) DeleteSessions(ctx context.Context, filter progress.SessionFilter) (int64, error) {
	where, args := sessionWhere(filter)
	res, err := repo.db.ExecContext(ctx, `DELETE FROM session_progress WHERE `+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting sessions")
	}
	return res.RowsAffected()
}

func (repo *progressRepository) GetModule(ctx context.Context, userID string, moduleID int) (progress.ModuleCompletion, error) {
	var mc progress.ModuleCompletion
	q := `SELECT ` + moduleColumns + ` FROM module_completion WHERE user_id = $1 AND module_id = $2`
	if err := repo.db.GetContext(ctx, &mc, q, userID, moduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mc, progress.ErrNotFound
		}
		return mc, errors.Wrap(err, "selecting module completion")
	}
	return mc, nil
}

func (repo *progressRepository) QueryModules(ctx context.Context, userID string) ([]progress.ModuleCompletion, error) {
	modules := make([]progress.ModuleCompletion, 0)
	q := `SELECT ` + moduleColumns + ` FROM module_completion WHERE user_id = $1 ORDER BY module_id`
	if err := repo.db.SelectContext(ctx, &modules, q, userID); err != nil {
		return nil, errors.Wrap(err, "selecting module completions")
	}
	return modules, nil
}

func (repo *progressRepository) UpsertModule(ctx context.Context, mc progress.ModuleCompletion) (progress.ModuleCompletion, error) {
	rows, err := sqlx.NamedQueryContext(ctx, repo.db, upsertModule, mc)
	if err != nil {
		return progress.ModuleCompletion{}, errors.Wrap(err, "upserting module completion")
	}
	defer func() { _ = rows.Close() }()

	var stored progress.ModuleCompletion
	if rows.Next() {
		if err = rows.StructScan(&stored); err != nil {
			return progress.ModuleCompletion{}, errors.Wrap(err, "scanning module completion")
		}
	}
	return stored, errors.Wrap(rows.Err(), "upserting module completion")
}
