package log

// Structured logging for the whole service
// Console core prints SUCCESS/ERROR lines for operators, file core keeps everything
// Package helpers (LogInfo, LogError, ...) are the only logging entry points

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger
var consoleLogger *zap.Logger // operator-facing lines (SUCCESS, WARN, ERROR)
var fileLogger *zap.Logger    // full log in logs/app.log, nil until Setup enables it
var mu sync.RWMutex

// Options controls Setup.
type Options struct {
	Level   string // debug, info, warn, error
	Dir     string // directory for app.log
	ToFile  bool
	NoColor bool
}

func init() {
	console, err := buildConsoleLogger(zapcore.InfoLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize loggers: %v\n", err)
		console = zap.NewNop()
	}
	consoleLogger = console
	Logger = console
}

// Setup replaces the default console-only loggers.
func Setup(opts Options) error {
	level := parseLevel(opts.Level)

	console, err := buildConsoleLogger(level, opts.NoColor)
	if err != nil {
		return fmt.Errorf("failed to build console logger: %w", err)
	}

	var file *zap.Logger
	if opts.ToFile {
		dir := opts.Dir
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
		fileConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
			EncodeDuration: zapcore.SecondsDurationEncoder,
		}
		fileCore := zapcore.NewCore(
			&fileEncoder{Encoder: zapcore.NewConsoleEncoder(fileConfig)},
			getLogFileWriter(filepath.Join(dir, "app.log")),
			zapcore.DebugLevel,
		)
		file = zap.New(fileCore)
	}

	mu.Lock()
	defer mu.Unlock()
	consoleLogger = console
	fileLogger = file
	if file != nil {
		Logger = file
	} else {
		Logger = console
	}
	return nil
}

// Sync flushes both loggers.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = consoleLogger.Sync()
	if fileLogger != nil {
		_ = fileLogger.Sync()
	}
}

func buildConsoleLogger(level zapcore.Level, noColor bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if noColor {
		cfg.EncoderConfig.EncodeLevel = plainLevelEncoder
	} else {
		cfg.EncoderConfig.EncodeLevel = colorLevelEncoder
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncoderConfig.EncodeCaller = nil
	cfg.Development = false
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func loggers() (*zap.Logger, *zap.Logger) {
	mu.RLock()
	defer mu.RUnlock()
	return consoleLogger, fileLogger
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(colorCyan + "DEBUG" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "SUCCESS" + colorReset) // INFO on the console means SUCCESS
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "WARN" + colorReset)
	case zapcore.ErrorLevel, zapcore.FatalLevel, zapcore.PanicLevel:
		enc.AppendString(colorRed + level.CapitalString() + colorReset)
	default:
		enc.AppendString(colorWhite + level.String() + colorReset)
	}
}

func plainLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if level == zapcore.InfoLevel {
		enc.AppendString("SUCCESS")
		return
	}
	enc.AppendString(level.CapitalString())
}

// LogInfo goes to the file log only; the console stays quiet for routine progress.
func LogInfo(message string, fields ...zap.Field) {
	console, file := loggers()
	if file != nil {
		file.Info(message, fields...)
		return
	}
	console.Debug(message, fields...)
}

// LogSuccess goes to both the file and the console.
func LogSuccess(message string, fields ...zap.Field) {
	console, file := loggers()
	if file != nil {
		file.Info(message, fields...)
	}
	if durationMs := extractDuration(fields); durationMs > 0 {
		console.Info(fmt.Sprintf("✓ %s (%dms)", message, durationMs), fields...)
	} else {
		console.Info("✓ "+message, fields...)
	}
}

// LogError goes to both the file and the console.
func LogError(message string, fields ...zap.Field) {
	console, file := loggers()
	if file != nil {
		file.Error(message, fields...)
	}
	console.Error("✗ "+message, fields...)
}

func LogWarn(message string, fields ...zap.Field) {
	console, file := loggers()
	if file != nil {
		file.Warn(message, fields...)
	}
	console.Warn(message, fields...)
}

func LogDebug(message string, fields ...zap.Field) {
	console, file := loggers()
	if file != nil {
		file.Debug(message, fields...)
		return
	}
	console.Debug(message, fields...)
}

func GenerateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RunLogger returns the active logger tagged with run_id.
func RunLogger(runID string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return Logger.With(zap.String("run_id", runID))
}

// LogRequest records an outgoing upstream request.
func LogRequest(requestID, method, endpoint string, fields ...zap.Field) {
	all := append([]zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	}, fields...)
	LogDebug("HTTP request", all...)
}

// LogResponse records the outcome of an upstream request; non-2xx is a warning.
func LogResponse(requestID string, statusCode int, durationMs int64, fields ...zap.Field) {
	all := append([]zap.Field{
		zap.String("request_id", requestID),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	}, fields...)

	if statusCode >= 200 && statusCode < 300 {
		LogDebug("HTTP response", all...)
		return
	}
	LogWarn("HTTP response", all...)
}

func extractDuration(fields []zap.Field) int64 {
	for _, field := range fields {
		if field.Key == "duration_ms" && field.Type == zapcore.Int64Type {
			return field.Integer
		}
	}
	return 0
}

// MaxLogFileSize is the size at which app.log is truncated.
const MaxLogFileSize = 50 * 1024 * 1024

type rotatingLogWriter struct {
	file *os.File
	path string
	mu   sync.Mutex
}

func (w *rotatingLogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err == nil && info.Size() > MaxLogFileSize {
		w.file.Close()
		w.file, err = os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to truncate log file: %w", err)
		}
	}

	return w.file.Write(p)
}

func (w *rotatingLogWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

func getLogFileWriter(path string) zapcore.WriteSyncer {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v, falling back to stderr\n", path, err)
		return zapcore.AddSync(os.Stderr)
	}
	return &rotatingLogWriter{file: file, path: path}
}

// fileEncoder writes "time     LEVEL message\t{json fields}" lines.
type fileEncoder struct {
	zapcore.Encoder
}

func (e *fileEncoder) Clone() zapcore.Encoder {
	return &fileEncoder{Encoder: e.Encoder.Clone()}
}

func (e *fileEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := buffer.NewPool().Get()

	buf.AppendString(entry.Time.Format("2006-01-02 15:04:05"))
	buf.AppendString("     ")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, field := range fields {
			field.AddTo(enc)
		}
		if jsonData, err := json.Marshal(enc.Fields); err == nil {
			buf.AppendString("\t")
			buf.AppendString(string(jsonData))
		}
	}

	buf.AppendString("\n")
	return buf, nil
}
