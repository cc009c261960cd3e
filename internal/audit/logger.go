package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogScenario logs scenario lifecycle events
	LogScenarioStarted(ctx context.Context, scenarioID, mode string) error
	LogScenarioCompleted(ctx context.Context, scenarioID string, confidence float64, duration time.Duration) error
	LogScenarioFailed(ctx context.Context, scenarioID string, err error) error

	// LogEngine logs engine call outcomes
	LogEngineCompleted(ctx context.Context, scenarioID, engine string, turns int, duration time.Duration) error
	LogEngineFailed(ctx context.Context, scenarioID, engine string, err error) error

	// LogArbitration logs one arbitration decision
	LogArbitration(ctx context.Context, scenarioID, outcome string, similarity float64) error

	// LogDegradation logs a recorded degradation event
	LogDegradation(ctx context.Context, scenarioID, kind, action string, penalty float64) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/tandem-audit.log",
		AppLogPath:   "logs/tandem-app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	// Parse log level
	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	// Create encoder config
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Create application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Create audit logger with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel, // Audit logs are always INFO level
	)

	auditZapLogger := zap.New(auditCore)

	// Create the logger instance
	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	// Start auto-flush goroutine
	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	// Add to buffer
	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	// Write all buffered events
	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	// Clear buffer
	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogScenarioStarted logs when scenario processing starts
func (l *auditLogger) LogScenarioStarted(ctx context.Context, scenarioID, mode string) error {
	event := NewEvent(EventScenarioStarted).
		WithScenario(scenarioID).
		WithAction(mode).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Scenario %s started in mode %s", scenarioID, mode))

	return l.Log(ctx, event)
}

// LogScenarioCompleted logs when scenario processing completes
func (l *auditLogger) LogScenarioCompleted(ctx context.Context, scenarioID string, confidence float64, duration time.Duration) error {
	event := NewEvent(EventScenarioCompleted).
		WithScenario(scenarioID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("confidence", confidence).
		WithDescription(fmt.Sprintf("Scenario %s completed (confidence %.2f)", scenarioID, confidence))

	return l.Log(ctx, event)
}

// LogScenarioFailed logs when scenario processing fails
func (l *auditLogger) LogScenarioFailed(ctx context.Context, scenarioID string, err error) error {
	event := NewEvent(EventScenarioFailed).
		WithScenario(scenarioID).
		WithError(err, "scenario_error").
		WithDescription(fmt.Sprintf("Scenario %s failed", scenarioID))

	return l.Log(ctx, event)
}

// LogEngineCompleted logs a successful engine call
func (l *auditLogger) LogEngineCompleted(ctx context.Context, scenarioID, engine string, turns int, duration time.Duration) error {
	event := NewEvent(EventEngineCallCompleted).
		WithScenario(scenarioID).
		WithEngine(engine).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("turns", turns).
		WithDescription(fmt.Sprintf("Engine %s completed %d turn(s) for scenario %s", engine, turns, scenarioID))

	return l.Log(ctx, event)
}

// LogEngineFailed logs a failed engine call
func (l *auditLogger) LogEngineFailed(ctx context.Context, scenarioID, engine string, err error) error {
	event := NewEvent(EventEngineCallFailed).
		WithScenario(scenarioID).
		WithEngine(engine).
		WithError(err, "engine_error").
		WithDescription(fmt.Sprintf("Engine %s failed for scenario %s", engine, scenarioID))

	return l.Log(ctx, event)
}

// LogArbitration logs one arbitration decision
func (l *auditLogger) LogArbitration(ctx context.Context, scenarioID, outcome string, similarity float64) error {
	event := NewEvent(EventArbitrationCompleted).
		WithScenario(scenarioID).
		WithAction(outcome).
		WithResult(ResultSuccess).
		WithMetadata("similarity", similarity).
		WithDescription(fmt.Sprintf("Arbitration for scenario %s: %s (similarity %.2f)", scenarioID, outcome, similarity))

	return l.Log(ctx, event)
}

// LogDegradation logs a recorded degradation event
func (l *auditLogger) LogDegradation(ctx context.Context, scenarioID, kind, action string, penalty float64) error {
	event := NewEvent(EventDegradationRecorded).
		WithScenario(scenarioID).
		WithAction(action).
		WithResult(ResultSuccess).
		WithMetadata("failure_kind", kind).
		WithMetadata("penalty", penalty).
		WithDescription(fmt.Sprintf("Degradation %s recorded for scenario %s (penalty %.2f, action %s)", kind, scenarioID, penalty, action))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	if err := l.Sync(); err != nil {
		return err
	}

	return nil
}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}
