// Package logger provides a centralized logging configuration for kapimage
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu sync.RWMutex
	// Global logger instance
	kapLogger *zap.Logger
	// Sugar logger for convenient logging
	sugar *zap.SugaredLogger
	// Output file of the current logger, empty for loggers installed with Set
	outputPath string
)

// LogConfig holds the logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	OutputPath  string `mapstructure:"output_path" yaml:"output_path"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	Development bool   `mapstructure:"development" yaml:"development"`
	EnableJSON  bool   `mapstructure:"json" yaml:"json"`
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *LogConfig {
	home, _ := os.UserHomeDir()
	return &LogConfig{
		Level:       "info",
		OutputPath:  filepath.Join(home, ".kapimage", "logs", "kapimage.log"),
		MaxSize:     50,
		MaxBackups:  3,
		MaxAge:      14,
		Compress:    true,
		Development: false,
		EnableJSON:  false,
	}
}

// Initialize sets up the global logger with the given configuration
func Initialize(cfg *LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Development && !cfg.EnableJSON {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else if cfg.EnableJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	logDir := filepath.Dir(cfg.OutputPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	// Always log to file; development mode mirrors to the console
	writers := []zapcore.WriteSyncer{zapcore.AddSync(fileWriter)}
	if cfg.Development {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(writers...),
		zap.NewAtomicLevelAt(level),
	)

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	l := zap.New(core, opts...)

	mu.Lock()
	kapLogger = l
	sugar = l.Sugar()
	outputPath = cfg.OutputPath
	mu.Unlock()

	zap.ReplaceGlobals(l)
	return nil
}

// Set installs an externally built logger, e.g. zaptest or zap.NewNop in tests
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	kapLogger = l
	sugar = l.Sugar()
	outputPath = ""
}

// Get returns the global logger instance
func Get() *zap.Logger {
	mu.RLock()
	l := kapLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	// Initialize with default config if not already initialized
	if err := Initialize(DefaultConfig()); err != nil {
		Set(zap.NewNop())
	}
	mu.RLock()
	defer mu.RUnlock()
	return kapLogger
}

// GetSugar returns the sugared logger for convenient logging
func GetSugar() *zap.SugaredLogger {
	Get()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// OutputPath returns the file the global logger writes to
func OutputPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return outputPath
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	l := kapLogger
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	Get().Fatal(msg, fields...)
}

// WithCorrelationID creates a logger with a correlation ID field
func WithCorrelationID(correlationID string) *zap.Logger {
	return Get().With(zap.String("correlation_id", correlationID))
}
