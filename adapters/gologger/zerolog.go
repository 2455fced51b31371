package gologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologProvider hands out glog loggers backed by a zerolog root. Each
// named logger carries its name in the "logger" field.
type ZerologProvider struct {
	root zerolog.Logger
}

// NewZerologProvider builds a provider writing JSON to out, or console
// output when format is "console". Unknown levels fall back to info.
func NewZerologProvider(out io.Writer, level string, format string) *ZerologProvider {
	if out == nil {
		out = os.Stdout
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || strings.TrimSpace(level) == "" {
		parsed = zerolog.InfoLevel
	}
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return &ZerologProvider{root: zerolog.New(out).Level(parsed).With().Timestamp().Logger()}
}

func (p *ZerologProvider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	logger := p.root
	if name = strings.TrimSpace(name); name != "" {
		logger = logger.With().Str("logger", name).Logger()
	}
	return &zerologLogger{logger: logger}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) Trace(msg string, args ...any) { l.emit(zerolog.TraceLevel, msg, args) }
func (l *zerologLogger) Debug(msg string, args ...any) { l.emit(zerolog.DebugLevel, msg, args) }
func (l *zerologLogger) Info(msg string, args ...any)  { l.emit(zerolog.InfoLevel, msg, args) }
func (l *zerologLogger) Warn(msg string, args ...any)  { l.emit(zerolog.WarnLevel, msg, args) }
func (l *zerologLogger) Error(msg string, args ...any) { l.emit(zerolog.ErrorLevel, msg, args) }

// Fatal logs at fatal level without exiting the process.
func (l *zerologLogger) Fatal(msg string, args ...any) { l.emit(zerolog.FatalLevel, msg, args) }

func (l *zerologLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &zerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l *zerologLogger) emit(level zerolog.Level, msg string, args []any) {
	event := l.logger.WithLevel(level)
	if event == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			event = event.Interface("!BADKEY", args[i])
			break
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

var (
	_ glog.LoggerProvider = (*ZerologProvider)(nil)
	_ glog.Logger         = (*zerologLogger)(nil)
)
