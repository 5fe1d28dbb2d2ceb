package inmemdb

import (
	"context"
	"sort"

	"github.com/ibam/learnsync/core/progress"
)

type (
	sessionKey struct {
		moduleID  int
		sessionID int
	}

	progressRow progress.SessionProgress
	moduleRow   progress.ModuleCompletion

	progressRepository struct {
		sessions *sessionTable
		modules  *moduleTable
	}
)

var _ progress.Repository = (*progressRepository)(nil)

func NewProgressRepository(db *DB) progress.Repository {
	return &progressRepository{sessions: db.sessions, modules: db.modules}
}

func copySubsections(s progress.Subsections) progress.Subsections {
	c := make(progress.Subsections, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

func (r progressRow) toModel() progress.SessionProgress {
	sp := progress.SessionProgress(r)
	sp.LookupSubsections = copySubsections(r.LookupSubsections)
	sp.LookforwardSubsections = copySubsections(r.LookforwardSubsections)
	return sp
}

func newProgressRow(sp progress.SessionProgress) progressRow {
	r := progressRow(sp)
	r.LookupSubsections = copySubsections(sp.LookupSubsections)
	r.LookforwardSubsections = copySubsections(sp.LookforwardSubsections)
	return r
}

func matches(key sessionKey, filter progress.SessionFilter) bool {
	return (filter.ModuleID == 0 || key.moduleID == filter.ModuleID) &&
		(filter.SessionID == 0 || key.sessionID == filter.SessionID)
}

// MergeSession holds the table lock for the whole read-merge-write.
func (repo *progressRepository) MergeSession(ctx context.Context, key progress.Key, fn progress.MergeFunc) (progress.SessionProgress, error) {
	repo.sessions.mutex.Lock()
	defer repo.sessions.mutex.Unlock()

	userRows, ok := repo.sessions.table[key.UserID]
	if !ok {
		userRows = make(map[sessionKey]progressRow)
		repo.sessions.table[key.UserID] = userRows
	}

	k := sessionKey{moduleID: key.ModuleID, sessionID: key.SessionID}
	var existing *progress.SessionProgress
	if row, ok := userRows[k]; ok {
		sp := row.toModel()
		existing = &sp
	}

	merged, err := fn(existing)
	if err != nil {
		return progress.SessionProgress{}, err
	}
	userRows[k] = newProgressRow(merged)
	return userRows[k].toModel(), nil
}

func (repo *progressRepository) QuerySessions(ctx context.Context, filter progress.SessionFilter) ([]progress.SessionProgress, error) {
	repo.sessions.mutex.RLock()
	defer repo.sessions.mutex.RUnlock()

	sessions := make([]progress.SessionProgress, 0)
	for k, row := range repo.sessions.table[filter.UserID] {
		if matches(k, filter) {
			sessions = append(sessions, row.toModel())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ModuleID != sessions[j].ModuleID {
			return sessions[i].ModuleID < sessions[j].ModuleID
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}

func (repo *progressRepository) DeleteSessions(ctx context.Context, filter progress.SessionFilter) (int64, error) {
	repo.sessions.mutex.Lock()
	defer repo.sessions.mutex.Unlock()

	var n int64
	userRows := repo.sessions.table[filter.UserID]
	for k := range userRows {
		if matches(k, filter) {
			delete(userRows, k)
			n++
		}
	}
	return n, nil
}

func (repo *progressRepository) GetModule(ctx context.Context, userID string, moduleID int) (progress.ModuleCompletion, error) {
	repo.modules.mutex.RLock()
	defer repo.modules.mutex.RUnlock()

	if row, ok := repo.modules.table[userID][moduleID]; ok {
		return progress.ModuleCompletion(row), nil
	}
	return progress.ModuleCompletion{}, progress.ErrNotFound
}

func (repo *progressRepository) QueryModules(ctx context.Context, userID string) ([]progress.ModuleCompletion, error) {
	repo.modules.mutex.RLock()
	defer repo.modules.mutex.RUnlock()

	modules := make([]progress.ModuleCompletion, 0, len(repo.modules.table[userID]))
	for _, row := range repo.modules.table[userID] {
		modules = append(modules, progress.ModuleCompletion(row))
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].ModuleID < modules[j].ModuleID })
	return modules, nil
}

func (repo *progressRepository) UpsertModule(ctx context.Context, mc progress.ModuleCompletion) (progress.ModuleCompletion, error) {
	repo.modules.mutex.Lock()
	defer repo.modules.mutex.Unlock()

	userRows, ok := repo.modules.table[mc.UserID]
	if !ok {
		userRows = make(map[int]moduleRow)
		repo.modules.table[mc.UserID] = userRows
	}
	userRows[mc.ModuleID] = moduleRow(mc)
	return mc, nil
}
