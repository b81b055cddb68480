package logger

import (
	"io"
	"os"

	"github.com/Domenick1991/skyorder/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process-wide JSON logger. When cfg.File is set, entries are
// also written to a rotating file.
func New(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   true,
		})
	}
	log.SetOutput(out)
	return log
}

// Discard returns a logger that drops everything; handy for tests and tools.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// TokenPrefix shortens a bearer token so it can be logged safely.
func TokenPrefix(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
