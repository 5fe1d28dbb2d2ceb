package core

// Logger is implemented by the logging services.
// Expected args: error, map[string]interface{}, Learner.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Learner identifies the person a log entry is about.
type Learner struct {
	ID string
}
