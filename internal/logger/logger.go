package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger writes the protocol-level debug trail to a file. User-facing
// output goes through the color printers in internal/util instead; this
// log exists for diagnosing SMTP conversations after the fact.
type Logger struct {
	mu          sync.Mutex
	debug       bool
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	file        *os.File
}

var (
	instance *Logger
	initOnce sync.Once
)

// Init opens (or creates) the debug log file. Safe to call more than once;
// only the first call wins.
func Init(logPath string, debug bool) error {
	var initErr error
	initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %v", err)
			return
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("failed to open log file: %v", err)
			return
		}
		instance = &Logger{
			debug:       debug,
			infoLogger:  log.New(file, "INFO:  ", log.Ldate|log.Ltime),
			warnLogger:  log.New(file, "WARN:  ", log.Ldate|log.Ltime),
			errorLogger: log.New(file, "ERROR: ", log.Ldate|log.Ltime),
			debugLogger: log.New(file, "DEBUG: ", log.Ldate|log.Ltime),
			file:        file,
		}
	})
	return initErr
}

// SetDebug toggles debug verbosity process-wide. Guarded so concurrent runs
// cannot race on the level destructively.
func SetDebug(enabled bool) {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	defer instance.mu.Unlock()
	instance.debug = enabled
}

func debugEnabled() bool {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	return instance.debug
}

func Close() {
	if instance != nil && instance.file != nil {
		instance.file.Close()
	}
}

func Infof(format string, v ...any) {
	if instance != nil {
		instance.infoLogger.Printf(format, v...)
	}
}

func Warnf(format string, v ...any) {
	if instance != nil {
		instance.warnLogger.Printf(format, v...)
	}
}

func Errorf(format string, v ...any) {
	if instance != nil {
		instance.errorLogger.Printf(format, v...)
	}
}

func Debugf(format string, v ...any) {
	if instance != nil && debugEnabled() {
		instance.debugLogger.Printf(format, v...)
	}
}
