package logger

import "sync"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger holds multiple logging backends and dispatches log calls to all of them.
type Logger struct {
	instances []LoggerInstance
}

var (
	mu        sync.RWMutex
	singleton *Logger
)

func getSingleton() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return singleton
}

// Init initializes the global logger with one or more logging backends.
// This must be called before using any logging functions; until then all
// calls are dropped.
func Init(instances ...LoggerInstance) {
	mu.Lock()
	defer mu.Unlock()
	singleton = &Logger{
		instances: instances,
	}
}

func dispatch(call func(LoggerInstance)) {
	logger := getSingleton()
	if logger == nil {
		return
	}
	for _, instance := range logger.instances {
		call(instance)
	}
}

// Log writes a message at the default log level to all configured backends.
func Log(message string, keyvals ...any) {
	dispatch(func(l LoggerInstance) { l.Log(message, keyvals...) })
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	dispatch(func(l LoggerInstance) { l.Info(message, keyvals...) })
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	dispatch(func(l LoggerInstance) { l.Warn(message, keyvals...) })
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	dispatch(func(l LoggerInstance) { l.Error(message, keyvals...) })
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	dispatch(func(l LoggerInstance) { l.Debug(message, keyvals...) })
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	dispatch(func(l LoggerInstance) { l.Fatal(message, keyvals...) })
}

// Scope carries key/value pairs that are appended to every message, e.g. the
// run id of a job being processed.
type Scope struct {
	keyvals []any
}

// With returns a scope that logs through the global logger with keyvals
// attached.
func With(keyvals ...any) Scope {
	return Scope{keyvals: keyvals}
}

func (s Scope) merge(keyvals []any) []any {
	out := make([]any, 0, len(s.keyvals)+len(keyvals))
	out = append(out, s.keyvals...)
	return append(out, keyvals...)
}

func (s Scope) Debug(message string, keyvals ...any) { Debug(message, s.merge(keyvals)...) }
func (s Scope) Info(message string, keyvals ...any)  { Info(message, s.merge(keyvals)...) }
func (s Scope) Warn(message string, keyvals ...any)  { Warn(message, s.merge(keyvals)...) }
func (s Scope) Error(message string, keyvals ...any) { Error(message, s.merge(keyvals)...) }
