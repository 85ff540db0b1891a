package logger

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
	// With returns a backend that prepends keyvals to every entry.
	With(keyvals ...any) LoggerInstance
}

// Logger dispatches log calls to one or more backends. A nil *Logger
// discards everything, so stages can log without checking.
type Logger struct {
	instances []LoggerInstance
}

var singleton *Logger

// New creates a Logger that fans out to the given backends.
func New(instances ...LoggerInstance) *Logger {
	return &Logger{instances: instances}
}

// Init initializes the process logger with one or more logging backends.
// This must be called before using the package level logging functions.
func Init(instances ...LoggerInstance) {
	singleton = New(instances...)
}

// Default returns the process logger, or nil before Init.
func Default() *Logger {
	return singleton
}

// With returns a child of the process logger carrying keyvals on every entry.
func With(keyvals ...any) *Logger {
	return singleton.With(keyvals...)
}

// With returns a child logger carrying keyvals on every entry.
func (l *Logger) With(keyvals ...any) *Logger {
	if l == nil {
		return nil
	}
	child := make([]LoggerInstance, len(l.instances))
	for i, instance := range l.instances {
		child[i] = instance.With(keyvals...)
	}
	return &Logger{instances: child}
}

func (l *Logger) Log(message string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Log(message, keyvals...)
	}
}

func (l *Logger) Debug(message string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Debug(message, keyvals...)
	}
}

func (l *Logger) Info(message string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Info(message, keyvals...)
	}
}

func (l *Logger) Warn(message string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Warn(message, keyvals...)
	}
}

func (l *Logger) Error(message string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Error(message, keyvals...)
	}
}

// Fatal writes a message at FATAL level and terminates the program.
func (l *Logger) Fatal(message string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Fatal(message, keyvals...)
	}
}

// Log writes a message at the default log level to the process logger.
func Log(message string, keyvals ...any) { singleton.Log(message, keyvals...) }

// Debug writes a message at DEBUG level to the process logger.
func Debug(message string, keyvals ...any) { singleton.Debug(message, keyvals...) }

// Info writes a message at INFO level to the process logger.
func Info(message string, keyvals ...any) { singleton.Info(message, keyvals...) }

// Warn writes a message at WARN level to the process logger.
func Warn(message string, keyvals ...any) { singleton.Warn(message, keyvals...) }

// Error writes a message at ERROR level to the process logger.
func Error(message string, keyvals ...any) { singleton.Error(message, keyvals...) }

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) { singleton.Fatal(message, keyvals...) }
