package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/storage/database"
)

type (
	LogEntry struct {
		Level   string
		Message string
		Args    []interface{}
	}

	// Logger records entries and forwards them to t.Log.
	Logger struct {
		t       testing.TB
		mu      sync.Mutex
		entries []LogEntry
	}
)

var _ core.Logger = (*Logger)(nil)

func NewLogger(t testing.TB) *Logger {
	return &Logger{t: t}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Args: args})
	l.mu.Unlock()
	l.t.Logf("%s %s", level, msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	l.t.FailNow()
}

// Entries returns the recorded entries of the given level, or all when level is empty.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PrepareDB opens and migrates the Postgres test database, then empties it.
// Tests are skipped unless TEST_DATABASE_HOST is set.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	host := os.Getenv("TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("TEST_DATABASE_HOST not set")
	}

	conf := core.NewTestConfig()
	conf.Database = core.DatabaseConfig{
		Engine:        "postgres",
		Host:          host,
		Port:          getenv("TEST_DATABASE_PORT", "5432"),
		Name:          getenv("TEST_DATABASE_NAME", "learnsync_test"),
		User:          getenv("TEST_DATABASE_USER", "learnsync"),
		Password:      getenv("TEST_DATABASE_PASSWORD", "learnsync"),
		AdminUser:     getenv("TEST_DATABASE_ADMIN_USER", "postgres"),
		AdminPassword: getenv("TEST_DATABASE_ADMIN_PASSWORD", "postgres"),
		DisableTLS:    true,
	}

	db, err := database.Setup(context.Background(), conf)
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ResetDB(t, db)
	return db
}

// ResetDB truncates every application table.
func ResetDB(t *testing.T, db *sqlx.DB) {
	t.Helper()
	for _, table := range []string{"session_progress", "module_completion", "form_saves"} {
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			t.Fatalf("ResetDB(): %v", err)
		}
	}
}

func BoolPtr(b bool) *bool          { return &b }
func IntPtr(i int) *int             { return &i }
func Int64Ptr(i int64) *int64       { return &i }
func Float64Ptr(f float64) *float64 { return &f }
