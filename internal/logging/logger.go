// Package logging provides categorized logging for querygate.
//
// Every subsystem logs through its own category so a single stage can be
// turned up or silenced without touching the others:
//
//	logging.Get(logging.CategorySchema).Info("namespace %s loaded", ns)
//	logging.SchemaDebug("checking %d identifiers", n)
//
// Records are emitted through zap. Ctx attaches the active trace and span
// to records via otelzap so log lines can be joined with engine spans.
package logging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a logging category.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and configuration
	CategorySyntax    Category = "syntax"    // Grammar compilation and parsing
	CategorySchema    Category = "schema"    // Namespace membership checks
	CategorySemantic  Category = "semantic"  // Intent matching and policy evaluation
	CategoryStore     Category = "store"     // Membership store backends
	CategoryReasoning Category = "reasoning" // Language model calls
	CategoryEngine    Category = "engine"    // Orchestrator runs
	CategoryBatch     Category = "batch"     // Batch validation
	CategoryCLI       Category = "cli"       // Command line surface
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryBoot, CategorySyntax, CategorySchema, CategorySemantic,
	CategoryStore, CategoryReasoning, CategoryEngine, CategoryBatch, CategoryCLI,
}

// Options mirrors config.LoggingConfig so this package does not import config.
type Options struct {
	Level       string          // debug, info, warn, error
	Format      string          // json or console
	File        string          // empty means stderr
	Development bool            // zap development mode
	Categories  map[string]bool // nil enables every category
}

// Logger is a category scoped logger with printf style helpers.
type Logger struct {
	category Category
	zl       *zap.Logger
	sugar    *zap.SugaredLogger
	otel     *otelzap.Logger
}

var (
	base       = zap.NewNop()
	categories map[string]bool
	stateMu    sync.RWMutex

	loggers   = make(map[Category]*Logger)
	loggersMu sync.Mutex
)

// Initialize builds the process logger from opts. Loggers handed out before
// the call are replaced on the next Get.
func Initialize(opts Options) error {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	switch opts.Format {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
	default:
		return fmt.Errorf("invalid log format %q", opts.Format)
	}
	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	install(zl, opts.Categories)

	Get(CategoryBoot).Info("logging initialized: level=%s format=%s", cfg.Level.String(), cfg.Encoding)
	return nil
}

// Use installs an existing zap logger, e.g. zaptest or one built by the CLI.
func Use(zl *zap.Logger) {
	install(zl, nil)
}

func install(zl *zap.Logger, cats map[string]bool) {
	stateMu.Lock()
	base = zl
	categories = cats
	stateMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// Base returns the underlying zap logger.
func Base() *zap.Logger {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return base
}

// IsCategoryEnabled returns whether a category emits records.
func IsCategoryEnabled(category Category) bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Disabled
// categories get a no-op logger.
func Get(category Category) *Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	zl := zap.NewNop()
	if IsCategoryEnabled(category) {
		zl = Base().With(zap.String("category", string(category)))
	}
	l := &Logger{
		category: category,
		zl:       zl,
		sugar:    zl.Sugar(),
		otel:     otelzap.New(zl),
	}
	loggers[category] = l
	return l
}

// Ctx returns a logger for category that stamps trace context from ctx.
func Ctx(ctx context.Context, category Category) otelzap.LoggerWithCtx {
	return Get(category).otel.Ctx(ctx)
}

// Sync flushes buffered records.
func Sync() error {
	return Base().Sync()
}

// Category returns the logger's category.
func (l *Logger) Category() Category { return l.category }

// Zap returns the structured logger behind l.
func (l *Logger) Zap() *zap.Logger { return l.zl }

// With returns a child logger carrying fields on every record.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.zl.With(fields...)
	return &Logger{category: l.category, zl: zl, sugar: zl.Sugar(), otel: otelzap.New(zl)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures operation duration.
type Timer struct {
	logger    *Logger
	operation string
	start     time.Time
}

// StartTimer starts a timer for operation under category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		logger:    Get(category),
		operation: operation,
		start:     time.Now(),
	}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.zl.Debug(t.operation+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs at warn level when elapsed exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.zl.Warn(t.operation+" slow",
			zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.logger.zl.Debug(t.operation+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}

// =============================================================================
// CATEGORY HELPERS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

func Schema(format string, args ...interface{})      { Get(CategorySchema).Info(format, args...) }
func SchemaDebug(format string, args ...interface{}) { Get(CategorySchema).Debug(format, args...) }

func Semantic(format string, args ...interface{})      { Get(CategorySemantic).Info(format, args...) }
func SemanticDebug(format string, args ...interface{}) { Get(CategorySemantic).Debug(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Reasoning(format string, args ...interface{})      { Get(CategoryReasoning).Info(format, args...) }
func ReasoningDebug(format string, args ...interface{}) { Get(CategoryReasoning).Debug(format, args...) }
func ReasoningWarn(format string, args ...interface{})  { Get(CategoryReasoning).Warn(format, args...) }

func Engine(format string, args ...interface{})      { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }

func Batch(format string, args ...interface{})      { Get(CategoryBatch).Info(format, args...) }
func BatchDebug(format string, args ...interface{}) { Get(CategoryBatch).Debug(format, args...) }
