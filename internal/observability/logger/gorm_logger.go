package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// QueryScope names the analytics work a statement runs for. Empty fields are
// omitted from the log.
type QueryScope struct {
	Report     string
	ImportKind string
	ImportRun  string
}

type queryScopeKey struct{}

// WithQueryScope tags every statement issued under ctx with scope.
func WithQueryScope(ctx context.Context, scope QueryScope) context.Context {
	return context.WithValue(ctx, queryScopeKey{}, scope)
}

func queryScopeFields(ctx context.Context) []zap.Field {
	scope, _ := ctx.Value(queryScopeKey{}).(QueryScope)
	var fields []zap.Field
	if scope.Report != "" {
		fields = append(fields, zap.String("report", scope.Report))
	}
	if scope.ImportKind != "" {
		fields = append(fields, zap.String("import_kind", scope.ImportKind))
	}
	if scope.ImportRun != "" {
		fields = append(fields, zap.String("import_run", scope.ImportRun))
	}
	return fields
}

// GormLogger routes gorm output through zap. Failed statements log at error,
// statements slower than the threshold at warn, the rest only in Info mode.
// Record-not-found is not an error here; repositories translate it.
type GormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func NewGormLogger(slow time.Duration) *GormLogger {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &GormLogger{level: gormlogger.Warn, slow: slow}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, floor gormlogger.LogLevel, level zapcore.Level, msg string, data []any) {
	if l.level < floor {
		return
	}
	fields := append([]zap.Field{zap.String("component", "gorm")}, queryScopeFields(ctx)...)
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.statement(ctx, zapcore.ErrorLevel, fc, elapsed, err)
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		l.statement(ctx, zapcore.WarnLevel, fc, elapsed, nil)
	case l.level >= gormlogger.Info:
		l.statement(ctx, zapcore.DebugLevel, fc, elapsed, nil)
	}
}

// ParamsFilter drops bound values; user names and companies stay out of logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}

func (l *GormLogger) statement(ctx context.Context, level zapcore.Level, fc func() (string, int64), elapsed time.Duration, err error) {
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", operationFromSQL(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	fields = append(fields, queryScopeFields(ctx)...)
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	msg := "gorm.query"
	if level == zapcore.WarnLevel {
		msg = "gorm.slow_query"
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			return token
		}
	}
	return "UNKNOWN"
}

var _ gormlogger.Interface = (*GormLogger)(nil)
