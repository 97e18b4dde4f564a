package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level uint32

const (
	LevelFatal = Level(logrus.FatalLevel)
	LevelError = Level(logrus.ErrorLevel)
	LevelWarn  = Level(logrus.WarnLevel)
	LevelInfo  = Level(logrus.InfoLevel)
	LevelDebug = Level(logrus.DebugLevel)
	LevelTrace = Level(logrus.TraceLevel)
)

type contextKey string

const loggerCtxKey = contextKey("logger")

var (
	loggerMu      sync.RWMutex
	currentLevel  = LevelInfo
	defaultLogger = logrus.New()
	fileWriter    *lumberjack.Logger
)

// SetLevel sets the global log level used by the default logger.
func SetLevel(l Level) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	currentLevel = l
	defaultLogger.Level = logrus.TraceLevel
}

func SetLevelString(l string) {
	SetLevel(ParseLogLevel(l))
}

func ParseLogLevel(l string) Level {
	envLevel, err := logrus.ParseLevel(strings.TrimSpace(l))
	if err != nil {
		return LevelInfo
	}
	return Level(envLevel)
}

func CurrentLevel() Level {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return currentLevel
}

// SetOutput replaces the destination of the default logger. Mostly used by tests.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger.SetOutput(w)
}

// SetLogFile tees log output into a size-rotated file. An empty path turns file logging off.
func SetLogFile(path string) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
	if path == "" {
		defaultLogger.SetOutput(os.Stderr)
		return
	}
	fileWriter = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	defaultLogger.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
}

// NewContext returns a context carrying a logger with the given fields attached.
// Fields already present in ctx are kept.
func NewContext(ctx context.Context, keyValuePairs ...interface{}) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, ok := ctx.Value(loggerCtxKey).(*logrus.Entry)
	if !ok {
		logger = createNewLogger()
	}
	logger = addFields(logger, keyValuePairs)
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// IsGreaterOrEqualTo reports whether messages of level l would be logged.
func IsGreaterOrEqualTo(l Level) bool {
	return shouldLog(l)
}

func init() {
	defaultLogger.Level = logrus.TraceLevel
}

func Fatal(args ...interface{}) {
	log(LevelFatal, args...)
	os.Exit(1)
}

func Error(args ...interface{}) {
	log(LevelError, args...)
}

func Warn(args ...interface{}) {
	log(LevelWarn, args...)
}

func Info(args ...interface{}) {
	log(LevelInfo, args...)
}

func Debug(args ...interface{}) {
	log(LevelDebug, args...)
}

func Trace(args ...interface{}) {
	log(LevelTrace, args...)
}

func log(level Level, args ...interface{}) {
	if len(args) == 0 || !shouldLog(level) {
		return
	}
	logger, msg := parseArgs(args)
	logger.Log(logrus.Level(level), msg)
}

func shouldLog(requiredLevel Level) bool {
	return CurrentLevel() >= requiredLevel
}

// parseArgs accepts an optional leading context (or *http.Request, or *logrus.Entry),
// followed by the message and key/value pairs.
func parseArgs(args []interface{}) (*logrus.Entry, string) {
	var l *logrus.Entry
	if args[0] == nil {
		l = createNewLogger()
		args = args[1:]
	} else if extracted, err := extractLogger(args[0]); err == nil {
		l = extracted
		args = args[1:]
	} else {
		l = createNewLogger()
	}
	if len(args) == 0 {
		return l, ""
	}
	if len(args) > 1 {
		l = addFields(l, args[1:])
	}
	return l, fmt.Sprint(args[0])
}

func addFields(logger *logrus.Entry, keyValuePairs []interface{}) *logrus.Entry {
	for i := 0; i < len(keyValuePairs); i += 2 {
		switch name := keyValuePairs[i].(type) {
		case error:
			logger = logger.WithField("error", name.Error())
			i--
		case string:
			if i+1 >= len(keyValuePairs) {
				logger = logger.WithField(name, "!!!!Invalid number of arguments in log call!!!!")
				continue
			}
			switch v := keyValuePairs[i+1].(type) {
			case time.Duration:
				logger = logger.WithField(name, v.Round(time.Microsecond).String())
			case error:
				logger = logger.WithField(name, v.Error())
			case fmt.Stringer:
				logger = logger.WithField(name, v.String())
			default:
				logger = logger.WithField(name, v)
			}
		default:
			logger = logger.WithField(fmt.Sprint(name), "!!!!Invalid key in log call!!!!")
		}
	}
	return logger
}

func extractLogger(ctx interface{}) (*logrus.Entry, error) {
	switch ctx := ctx.(type) {
	case *logrus.Entry:
		return ctx, nil
	case context.Context:
		if logger, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return logger, nil
		}
		return createNewLogger(), nil
	case *http.Request:
		return extractLogger(ctx.Context())
	}
	return nil, errors.New("no logger found")
}

func createNewLogger() *logrus.Entry {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logrus.NewEntry(defaultLogger)
}
