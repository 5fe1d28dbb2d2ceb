package inmemdb

import "sync"

type (
	sessionTable struct {
		mutex sync.RWMutex
		table map[string]map[sessionKey]progressRow // {userID: {module/session: row}}
	}

	moduleTable struct {
		mutex sync.RWMutex
		table map[string]map[int]moduleRow // {userID: {moduleID: row}}
	}

	formTable struct {
		mutex sync.RWMutex
		table map[string]map[string]formRow // {userID: {formID: row}}
	}

	// DB is an in-memory database for tests and local runs.
	DB struct {
		sessions *sessionTable
		modules  *moduleTable
		forms    *formTable
	}
)

func NewDB() *DB {
	return &DB{
		sessions: &sessionTable{table: make(map[string]map[sessionKey]progressRow)},
		modules:  &moduleTable{table: make(map[string]map[int]moduleRow)},
		forms:    &formTable{table: make(map[string]map[string]formRow)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.sessions.mutex.Lock()
	db.sessions.table = make(map[string]map[sessionKey]progressRow)
	db.sessions.mutex.Unlock()

	db.modules.mutex.Lock()
	db.modules.table = make(map[string]map[int]moduleRow)
	db.modules.mutex.Unlock()

	db.forms.mutex.Lock()
	db.forms.table = make(map[string]map[string]formRow)
	db.forms.mutex.Unlock()
}
