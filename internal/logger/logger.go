package logger

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultLogLevel is the default log level
	DefaultLogLevel = zerolog.InfoLevel

	LogFileName = "replset-harness.log"

	timeFormat = time.RFC3339Nano
)

// DefaultLogWriter is the default log io.Writer implementor
var DefaultLogWriter = os.Stderr

// Logger wraps a zerolog.Logger along with the writer it logs to, so that
// derived loggers keep writing to the same (possibly rotating) destination.
type Logger struct {
	*zerolog.Logger
	writer io.Writer
}

// NewSubLogger creates a sub Logger of the parent one, with the same writer
func NewSubLogger(parentLogger *Logger, childComponentName string, childComponent string) *Logger {
	subLogger := parentLogger.With().Str(childComponentName, childComponent).Logger()
	return &Logger{
		Logger: &subLogger,
		writer: parentLogger.writer,
	}
}

// ForScenario returns a sub Logger that tags every event with the scenario name.
func (l *Logger) ForScenario(name string) *Logger {
	return NewSubLogger(l, "scenario", name)
}

// ForNode returns a sub Logger that tags every event with a node’s address.
func (l *Logger) ForNode(addr string) *Logger {
	return NewSubLogger(l, "node", addr)
}

// Writer returns the Logger’s underlying writer.
func (l *Logger) Writer() io.Writer {
	return l.writer
}

// NewLogger creates a New Logger
func NewLogger(logger *zerolog.Logger, writer io.Writer) *Logger {
	ret := &Logger{
		Logger: logger,
		writer: writer,
	}
	ret.Rotate()
	return ret
}

// NewDefaultLogger creates a new Logger with default log writer and level
func NewDefaultLogger() *Logger {
	logger := zerolog.New(DefaultLogWriter).Level(DefaultLogLevel).With().Timestamp().Logger()
	return &Logger{
		Logger: &logger,
		writer: DefaultLogWriter,
	}
}

// NewDebugLogger creates a new Logger with default log writer with debug level
func NewDebugLogger() *Logger {
	logger := zerolog.New(DefaultLogWriter).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return &Logger{
		Logger: &logger,
		writer: DefaultLogWriter,
	}
}

// NewFromPath builds a console Logger for the given log path. The path is
// either "stdout", "stderr", or a directory in which a rotating log file
// is created.
func NewFromPath(logPath string) (*Logger, error) {
	var writer io.Writer

	switch logPath {
	case "stdout":
		writer = zerolog.SyncWriter(os.Stdout)
	case "stderr", "":
		writer = zerolog.SyncWriter(os.Stderr)
	default:
		w, err := NewRotatingWriter(logPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open log path %#q", logPath)
		}
		writer = w
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        writer,
		TimeFormat: timeFormat,
		NoColor:    logPath != "stdout" && logPath != "stderr" && logPath != "",
	}

	l := zerolog.New(consoleWriter).With().Timestamp().Logger()
	return NewLogger(&l, writer), nil
}

// Rotate will rotate the underlying Logger writer iff it is a *lumberjack.Logger
func (l *Logger) Rotate() {
	switch w := l.writer.(type) {
	case *lumberjack.Logger:
		_ = w.Rotate()
	}
}

// NewRotatingWriter creates a new io.Writer with an underlying lumberjack.Logger
func NewRotatingWriter(dirPath string) (io.Writer, error) {
	err := os.MkdirAll(dirPath, 0744)
	if err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename: path.Join(dirPath, LogFileName),
	}, nil
}
