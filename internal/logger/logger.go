package logger

import (
	"context"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
)

type ctxKey struct{}

const ginKey = "descriptor"

func InitLogger(debug bool, w io.Writer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// WithDescriptor tags ctx so log lines carry the descriptor name.
func WithDescriptor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKey{}, name)
}

func Middleware(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ginKey, name)
		c.Next()
		logBase(c, slog.LevelDebug, "request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

func logBase(ctx context.Context, level slog.Level, msg string, args ...any) {
	l := slog.Default()
	if !l.Enabled(ctx, level) {
		return
	}
	name, ok := ctx.Value(ctxKey{}).(string)
	if !ok {
		if gc, isGin := ctx.(*gin.Context); isGin {
			if val, exists := gc.Get(ginKey); exists {
				name, ok = val.(string)
			}
		}
	}
	if ok {
		l = l.With("descriptor", name)
	}
	l.Log(ctx, level, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	logBase(ctx, slog.LevelDebug, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	logBase(ctx, slog.LevelInfo, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	logBase(ctx, slog.LevelWarn, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	logBase(ctx, slog.LevelError, msg, args...)
}
