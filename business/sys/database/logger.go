package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQuery is the duration past which a statement is logged as a warning.
const slowQuery = 200 * time.Millisecond

// gormLogger sends gorm's output through the service logger. A missing
// record is normal control flow for lookups and is not logged.
type gormLogger struct {
	log   *zap.SugaredLogger
	level logger.LogLevel
}

func newGormLogger(log *zap.SugaredLogger) *gormLogger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &gormLogger{log: log, level: logger.Warn}
}

// LogMode implements the gorm logger.Interface.
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	nl := *l
	nl.level = level
	return &nl
}

// Info implements the gorm logger.Interface.
func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.Infow("database", "status", fmt.Sprintf(msg, data...))
	}
}

// Warn implements the gorm logger.Interface.
func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.Warnw("database", "status", fmt.Sprintf(msg, data...))
	}
}

// Error implements the gorm logger.Interface.
func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.Errorw("database", "status", fmt.Sprintf(msg, data...))
	}
}

// Trace implements the gorm logger.Interface.
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.log.Errorw("database", "status", "query failed", "sql", sql, "rows", rows, "elapsed", elapsed, "ERROR", err)

	case elapsed > slowQuery && l.level >= logger.Warn:
		sql, rows := fc()
		l.log.Warnw("database", "status", "slow query", "sql", sql, "rows", rows, "elapsed", elapsed)

	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.Debugw("database", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
