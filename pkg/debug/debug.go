package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

var (
	// IsEnabled controls whether messages are output at all
	IsEnabled bool
	// CurrentLevel is the minimum level of messages to output
	CurrentLevel LogLevel

	mu         sync.Mutex
	logger     *log.Logger
	levelNames = map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	levelMap = map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"INFO":    LevelInfo,
		"WARNING": LevelWarning,
		"WARN":    LevelWarning,
		"ERROR":   LevelError,
	}
)

func init() {
	logger = log.New(os.Stdout, "", 0)
	loadFromEnv()

	if IsEnabled {
		Info("Debug logging initialized - Enabled: %v, Level: %s", IsEnabled, levelNames[CurrentLevel])
	}
}

func loadFromEnv() {
	debugEnv := os.Getenv("DEBUG")
	IsEnabled = debugEnv == "true" || debugEnv == "1"

	levelEnv := strings.ToUpper(os.Getenv("LOG_LEVEL"))
	if level, exists := levelMap[levelEnv]; exists {
		CurrentLevel = level
	} else {
		CurrentLevel = LevelInfo
	}
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// ParseLevel converts a level name into a LogLevel
func ParseLevel(name string) (LogLevel, bool) {
	level, ok := levelMap[strings.ToUpper(strings.TrimSpace(name))]
	return level, ok
}

// Log prints a message with the specified level if logging is enabled
func Log(level LogLevel, format string, v ...interface{}) {
	output(level, 2, fmt.Sprintf(format, v...))
}

func output(level LogLevel, depth int, message string) {
	if !IsEnabled || level < CurrentLevel {
		return
	}

	pc, file, line, _ := runtime.Caller(depth)
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	mu.Lock()
	defer mu.Unlock()
	logger.Printf("[%s] [%s] [%s:%d] [%s] %s\n",
		levelNames[level],
		timestamp,
		file,
		line,
		funcName,
		message,
	)
}

// Fields logs msg followed by key=value pairs sorted by key
func Fields(level LogLevel, msg string, fields map[string]interface{}) {
	if !IsEnabled || level < CurrentLevel {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	output(level, 2, b.String())
}

// Debug logs a debug level message
func Debug(format string, v ...interface{}) {
	output(LevelDebug, 2, fmt.Sprintf(format, v...))
}

// Info logs an info level message
func Info(format string, v ...interface{}) {
	output(LevelInfo, 2, fmt.Sprintf(format, v...))
}

// Warning logs a warning level message
func Warning(format string, v ...interface{}) {
	output(LevelWarning, 2, fmt.Sprintf(format, v...))
}

// Error logs an error level message
func Error(format string, v ...interface{}) {
	output(LevelError, 2, fmt.Sprintf(format, v...))
}

// Reinitialize updates the debug settings based on current environment variables
func Reinitialize() {
	loadFromEnv()

	if IsEnabled {
		Info("Debug logging reinitialized - Enabled: %v, Level: %s", IsEnabled, levelNames[CurrentLevel])
	}
}
