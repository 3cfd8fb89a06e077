// internal/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger configuration
type Config struct {
	LogsDirectory string
	LogFileFormat string // may contain one %s for the date
	TimeZone      string
	// Output replaces the log file when set. Console output is kept.
	Output io.Writer
	Quiet  bool // no console output
}

var (
	initialized int32 // 0 = not initialized, 1 = initialized
	logger      *log.Logger
	logFile     *os.File
	timeZone    = time.Local
	logFilePath string
	mu          sync.Mutex // protect against concurrent initialization
)

// SetupLogger initializes the logger with file and console output.
func SetupLogger(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 1 {
		return fmt.Errorf("logger already initialized")
	}

	if config.TimeZone == "" {
		config.TimeZone = "Local"
	}
	loc, err := time.LoadLocation(config.TimeZone)
	if err != nil {
		return fmt.Errorf("load time zone %q: %w", config.TimeZone, err)
	}
	timeZone = loc

	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stdout)
	}

	switch {
	case config.Output != nil:
		writers = append(writers, config.Output)
	case config.LogsDirectory != "":
		if err := os.MkdirAll(config.LogsDirectory, 0o775); err != nil {
			return fmt.Errorf("create logs directory %q: %w", config.LogsDirectory, err)
		}

		format := config.LogFileFormat
		if format == "" {
			format = "server_%s.log"
		}
		name := format
		if strings.Contains(format, "%s") {
			name = fmt.Sprintf(format, time.Now().In(loc).Format("2006-01-02"))
		}
		// Respect whether LogFileFormat is an absolute path or not
		if filepath.IsAbs(name) {
			logFilePath = name
		} else {
			logFilePath = filepath.Join(config.LogsDirectory, name)
		}

		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return fmt.Errorf("open log file %q: %w", logFilePath, err)
		}
		logFile = f
		writers = append(writers, f)
	}

	logger = log.New(io.MultiWriter(writers...), "", 0)
	atomic.StoreInt32(&initialized, 1)

	if logFilePath != "" {
		LogInfo("Logger initialized, writing to %s", logFilePath)
	}
	return nil
}

// Close flushes and closes the log file and resets the logger to its
// uninitialized state.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	atomic.StoreInt32(&initialized, 0)
	logger = nil
	logFilePath = ""
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

func GetLogFilePath() string {
	return logFilePath
}

func IsInitialized() bool {
	return atomic.LoadInt32(&initialized) == 1
}

func LogMessage(level string, message string, v ...interface{}) {
	writeLine(3, level, fmt.Sprintf(message, v...))
}

// depth is the number of frames between the original caller and
// runtime.Caller inside writeLine.
func writeLine(depth int, level, formatted string) {
	if !IsInitialized() {
		log.Printf("[%s] %s", level, formatted)
		return
	}

	_, file, line, _ := runtime.Caller(depth)
	timestamp := time.Now().In(timeZone).Format("2006-01-02 15:04:05 MST")
	logger.Printf("[%s] %s %s:%d - %s", level, timestamp, filepath.Base(file), line, formatted)
}

func LogInfo(message string, v ...interface{})  { LogMessage("INFO", message, v...) }
func LogWarn(message string, v ...interface{})  { LogMessage("WARN", message, v...) }
func LogError(message string, v ...interface{}) { LogMessage("ERROR", message, v...) }
func LogFatal(message string, v ...interface{}) {
	LogMessage("FATAL", message, v...)
	os.Exit(1)
}

// Fields are rendered as sorted key=value pairs after the message.
type Fields map[string]interface{}

// LogFields logs msg followed by fields, e.g. for request summaries.
func LogFields(level, msg string, fields Fields) {
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
	writeLine(2, level, b.String())
}

func LogHTTPRequest(r *http.Request) {
	clientIP := GetClientIP(r)
	LogInfo("HTTP %s %s from %s", r.Method, r.URL.Path, clientIP)
}

func LogHTTPError(r *http.Request, status int, err error) {
	clientIP := GetClientIP(r)
	LogError("HTTP %d error for %s %s from %s: %v", status, r.Method, r.URL.Path, clientIP, err)
}

func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
