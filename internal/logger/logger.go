// Package logger оборачивает zerolog. Диагностика всегда идёт в stderr:
// stdout CLI-команд занят структурированным JSON.
package logger

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Options настройки логгера
type Options struct {
	Level      string    `yaml:"level"`
	Format     string    `yaml:"format"` // console | json
	Service    string    `yaml:"service"`
	WithCaller bool      `yaml:"caller"`
	Writer     io.Writer `yaml:"-"`
}

// FromEnv читает GUARDIAN_LOG_* без зависимости от пакета config (нет цикла импортов)
func FromEnv() Options {
	get := func(k, def string) string {
		if v := strings.TrimSpace(os.Getenv("GUARDIAN_LOG_" + k)); v != "" {
			return v
		}
		return def
	}
	caller, _ := strconv.ParseBool(get("CALLER", "false"))
	return Options{
		Level:      strings.ToLower(get("LEVEL", "info")),
		Format:     strings.ToLower(get("FORMAT", "console")),
		Service:    get("SERVICE", "guardian"),
		WithCaller: caller,
	}
}

// Logger общий тип логгера проекта
type Logger = zerolog.Logger

var (
	once   sync.Once
	root   atomic.Pointer[zerolog.Logger]
	inited atomic.Bool
)

// Get возвращает корневой логгер, инициализируя его из окружения при первом вызове
func Get() *Logger {
	if !inited.Load() {
		Init(FromEnv())
	}
	return root.Load()
}

// Init настраивает корневой логгер, повторные вызовы игнорируются
func Init(opt Options) {
	once.Do(func() {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
		zerolog.TimeFieldFormat = time.RFC3339Nano

		log := New(opt)
		root.Store(&log)
		inited.Store(true)
	})
}

// New строит самостоятельный логгер (используется Init и тестами)
func New(opt Options) Logger {
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp()
	if opt.Service != "" {
		ctx = ctx.Str("service", opt.Service)
	}
	log := ctx.Logger()
	if opt.WithCaller {
		log = log.With().Caller().Logger()
	}
	return log
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

type ctxKey struct{ name string }

var keyRequestID = ctxKey{"request_id"}

// WithRequest кладёт request id в контекст
func WithRequest(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, reqID)
}

// C возвращает дочерний логгер с полями из контекста
func C(ctx context.Context) *Logger {
	l := Get()
	if ctx == nil {
		return l
	}
	if s, ok := ctx.Value(keyRequestID).(string); ok && s != "" {
		ll := l.With().Str("request_id", s).Logger()
		return &ll
	}
	return l
}

// Named возвращает дочерний логгер с полем component
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	ll := Get().With().Str("component", component).Logger()
	return &ll
}
