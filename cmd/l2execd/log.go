package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// verbosityToLevel maps the CLI's 0-5 integer verbosity (matching
// cmd/utils/flags.go's legacy scale) onto go-ethereum's slog-based level
// constants.
func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return log.LevelCrit
	case v == 1:
		return log.LevelError
	case v == 2:
		return log.LevelWarn
	case v == 3:
		return log.LevelInfo
	case v == 4:
		return log.LevelDebug
	default:
		return log.LevelTrace
	}
}

// setupLogging wires go-ethereum's terminal/JSON slog handlers, rotated
// through lumberjack when cfg.File is set, following the Idle/Running
// handler-selection shape cmd/utils/flags.go uses for geth's own
// --log.json/--log.file flags.
func setupLogging(cfg LogConfig) error {
	var out io.Writer = os.Stderr
	useColor := true
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
		}
		useColor = false
	}

	level := verbosityToLevel(cfg.Verbosity)

	var handler slog.Handler
	if cfg.JSON {
		handler = log.JSONHandlerWithLevel(out, level)
	} else {
		handler = log.NewTerminalHandlerWithLevel(out, level, useColor)
	}

	glog := log.NewGlogHandler(handler)
	glog.Verbosity(level)
	log.SetDefault(log.NewLogger(glog))
	return nil
}
