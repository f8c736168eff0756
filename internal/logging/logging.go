// Package logging wraps a global zerolog logger. Packages take child loggers
// from Component so every line names the part of the core that wrote it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents log levels.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// filePrefix names log files so pruning never touches anything else in LogDir.
const filePrefix = "assistcore-"

// Config holds logger configuration.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty switches Output to zerolog's console writer.
	Pretty     bool
	TimeFormat string
	// LogToFile also writes JSON lines to a new file in LogDir.
	LogToFile bool
	LogDir    string
	// KeepFiles bounds how many log files stay in LogDir, counting the new
	// one. Zero keeps everything.
	KeepFiles int
}

var (
	fileMu   sync.Mutex
	logFile  *os.File
	filePath string
)

// DefaultConfig returns info-level JSON logging to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		LogDir:     os.TempDir(),
		KeepFiles:  10,
	}
}

// Init replaces the global logger. A log file opened by an earlier call is
// closed first.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	if cfg.LogDir == "" {
		cfg.LogDir = os.TempDir()
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	output := cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: cfg.TimeFormat}
	}

	Close()
	if cfg.LogToFile {
		f, err := openLogFile(cfg.LogDir, cfg.KeepFiles)
		if err != nil {
			fmt.Fprintf(cfg.Output, "logging: %v\n", err)
		} else {
			output = zerolog.MultiLevelWriter(output, f)
		}
	}

	Logger = zerolog.New(output).Level(cfg.Level).With().Timestamp().Logger()
}

func openLogFile(dir string, keep int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if keep > 0 {
		prune(dir, keep-1)
	}

	name := fmt.Sprintf("%s%s-%d.log", filePrefix, time.Now().Format("20060102-150405"), os.Getpid())
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileMu.Lock()
	logFile, filePath = f, path
	fileMu.Unlock()
	return f, nil
}

// prune removes the oldest log files in dir until at most keep remain.
func prune(dir string, keep int) {
	matches, _ := filepath.Glob(filepath.Join(dir, filePrefix+"*.log"))
	if len(matches) <= keep {
		return
	}

	type aged struct {
		path string
		mod  time.Time
	}
	files := make([]aged, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			files = append(files, aged{m, info.ModTime()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	for _, f := range files[:max(0, len(files)-keep)] {
		_ = os.Remove(f.path)
	}
}

// FilePath returns the current log file, or "" when not logging to a file.
func FilePath() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	return filePath
}

// Close closes the current log file, if any.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile, filePath = nil, ""
}

// ParseLevel reads a level name case-insensitively, accepting "warning" for
// warn. Anything unrecognized is InfoLevel.
func ParseLevel(level string) Level {
	s := strings.ToLower(strings.TrimSpace(level))
	if s == "warning" {
		return WarnLevel
	}
	switch l, err := zerolog.ParseLevel(s); {
	case err != nil, l == zerolog.NoLevel, l > zerolog.PanicLevel:
		return InfoLevel
	default:
		return l
	}
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func init() {
	Init(DefaultConfig())
}
