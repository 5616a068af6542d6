// Package logging builds the daemon logger: JSON to the session log file,
// human-readable output on stderr. File timestamps are epoch milliseconds,
// the same clock the store keeps.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New opens (or creates) the log file and returns a logger tagged with the
// session name and PID, so interleaved logs from several sessions stay
// attributable.
func New(logPath, sessionName string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewTee(fileCore(file), consoleCore(os.Stderr))
	return zap.New(core, zap.Fields(
		zap.String("session", sessionName),
		zap.Int("pid", os.Getpid()),
	)), nil
}

func fileCore(w io.Writer) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(w), zapcore.InfoLevel)
}

func consoleCore(w io.Writer) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), zapcore.InfoLevel)
}
