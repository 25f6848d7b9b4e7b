package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration value such as "debug" into a level.
// Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the logging surface components depend on.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// AppLogger writes leveled, caller-annotated lines to stdout and
// optionally to a size-rotated log file.
type AppLogger struct {
	mu          sync.Mutex
	level       LogLevel
	logger      *log.Logger
	console     io.Writer
	logFile     *os.File
	logDir      string
	filePath    string
	maxFileSize int64
	maxBackups  int
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	Dir         string    // defaults to ~/.config/gnome15/logs
	MaxFileSize int64     // bytes, default 5MB
	MaxBackups  int       // rotated files kept, default 5
	Output      io.Writer // console destination, default stdout
}

const (
	defaultMaxFileSize = 5 * 1024 * 1024
	defaultMaxBackups  = 5
)

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

// NewLogger creates a logger writing to w at the given level.
func NewLogger(w io.Writer, level LogLevel) *AppLogger {
	return &AppLogger{
		level:       level,
		logger:      log.New(w, "", 0),
		console:     w,
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
	}
}

// GetLogger returns the process logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = NewLogger(os.Stdout, LevelInfo)
	})
	return defaultLogger
}

// InitLogger configures the process logger. Call it once at startup.
func InitLogger(config LogConfig) error {
	l := GetLogger()
	l.SetLevel(config.Level)
	if config.Output != nil {
		l.SetOutput(config.Output)
	}

	if config.MaxFileSize > 0 {
		l.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		l.maxBackups = config.MaxBackups
	}
	if !config.EnableFile {
		return nil
	}

	dir := config.Dir
	if dir == "" {
		dir = GetLogDir()
	}
	return l.EnableFileLogging(dir)
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput replaces the console destination. An open log file keeps
// receiving output.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	if l.logFile != nil {
		w = io.MultiWriter(w, l.logFile)
	}
	l.logger = log.New(w, "", 0)
}

// EnableFileLogging tees output into dir/LogFileName, rotating it first if
// it has outgrown the size limit.
func (l *AppLogger) EnableFileLogging(dir string) error {
	if isSymlink(dir) {
		return fmt.Errorf("refusing symlinked log directory %s", dir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path := filepath.Join(dir, LogFileName)
	if isSymlink(path) {
		return fmt.Errorf("refusing symlinked log file %s", path)
	}

	l.rotateIfNeeded(path)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
	}
	l.logFile = file
	l.logDir = dir
	l.filePath = path
	l.logger = log.New(io.MultiWriter(l.console, file), "", 0)
	return nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

func (l *AppLogger) rotateIfNeeded(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < l.maxFileSize {
		return
	}

	l.mu.Lock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
	l.mu.Unlock()

	rotated := fmt.Sprintf("%s.%s.gz", path, time.Now().Format("20060102-150405"))
	if err := gzipFile(path, rotated); err != nil {
		os.Rename(path, strings.TrimSuffix(rotated, ".gz"))
	} else {
		os.Remove(path)
	}
	l.pruneBackups(path)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// pruneBackups keeps the newest maxBackups rotated copies of path.
func (l *AppLogger) pruneBackups(path string) {
	matches, err := filepath.Glob(path + ".*")
	if err != nil || len(matches) <= l.maxBackups {
		return
	}

	modTime := func(p string) time.Time {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}
		}
		return info.ModTime()
	}
	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]).Before(modTime(matches[j]))
	})

	for _, old := range matches[:len(matches)-l.maxBackups] {
		os.Remove(old)
	}
}

// GetLogDir returns the default log directory.
func GetLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

func (l *AppLogger) log(level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	l.logger.Printf("%s [%s] %s: %s",
		time.Now().Format("2006/01/02 15:04:05"), level, caller, msg)
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

// Shorthand functions for the process logger.

// LogDebug logs a debug message to the process logger.
func LogDebug(msg string, args ...interface{}) { GetLogger().log(LevelDebug, msg, args...) }

// LogInfo logs an info message to the process logger.
func LogInfo(msg string, args ...interface{}) { GetLogger().log(LevelInfo, msg, args...) }

// LogWarn logs a warning message to the process logger.
func LogWarn(msg string, args ...interface{}) { GetLogger().log(LevelWarn, msg, args...) }

// LogError logs an error message to the process logger.
func LogError(msg string, args ...interface{}) { GetLogger().log(LevelError, msg, args...) }

// Close closes the log file. Should be called on application shutdown.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	l.logger = log.New(l.console, "", 0)
	return err
}

// CloseLogger closes the process logger.
func CloseLogger() error {
	return GetLogger().Close()
}

// CheckRotation rotates the log file if it has grown past the limit and
// reopens it.
func (l *AppLogger) CheckRotation() {
	l.mu.Lock()
	path, dir := l.filePath, l.logDir
	l.mu.Unlock()
	if path == "" {
		return
	}
	l.rotateIfNeeded(path)

	l.mu.Lock()
	reopen := l.logFile == nil
	l.mu.Unlock()
	if reopen {
		l.EnableFileLogging(dir)
	}
}
