package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	NOTICE
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case NOTICE:
		return "NOTICE"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return "INFO"
}

func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "NOTICE":
		return NOTICE
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a leveled logger handed to each component at construction.
// A nil *Logger discards everything.
type Logger struct {
	level     Level
	out       *log.Logger
	component string
}

func New(level string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		level: ParseLevel(level),
		out:   log.New(w, "", log.LstdFlags),
	}
}

func Discard() *Logger {
	return New("FATAL", io.Discard)
}

// With returns a child logger whose lines carry the component name
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.component = component
	return &child
}

func (l *Logger) Level() Level {
	if l == nil {
		return FATAL
	}
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && l.level <= level
}

func (l *Logger) output(level Level, msg string) {
	if !l.Enabled(level) {
		return
	}
	if l.component != "" {
		l.out.Printf("[%s] [%s] %s", level, l.component, msg)
		return
	}
	l.out.Printf("[%s] %s", level, msg)
}

func (l *Logger) Debug(v ...interface{}) {
	l.output(DEBUG, fmt.Sprint(v...))
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.output(DEBUG, fmt.Sprintf(format, v...))
}

func (l *Logger) Info(v ...interface{}) {
	l.output(INFO, fmt.Sprint(v...))
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.output(INFO, fmt.Sprintf(format, v...))
}

func (l *Logger) Notice(v ...interface{}) {
	l.output(NOTICE, fmt.Sprint(v...))
}

func (l *Logger) Noticef(format string, v ...interface{}) {
	l.output(NOTICE, fmt.Sprintf(format, v...))
}

func (l *Logger) Warn(v ...interface{}) {
	l.output(WARN, fmt.Sprint(v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.output(WARN, fmt.Sprintf(format, v...))
}

func (l *Logger) Error(v ...interface{}) {
	l.output(ERROR, fmt.Sprint(v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.output(ERROR, fmt.Sprintf(format, v...))
}

// Printf lets the logger stand in wherever a Printf-style sink is expected
// (migration runners, MQTT client internals). Lines go out at DEBUG.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.Debugf(format, v...)
}
