package logging

import (
	"context"
	"io"
	"os"

	"github.com/hookflow-io/hookflow/config"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerConfig struct {
	Output            []config.LogOutput
	TimeFormat        string
	Level             zerolog.Level
	NoColor           bool
	ConsoleTimeFormat string
	// ConsoleOut overrides os.Stdout for the console writer. The run
	// command passes the cobra command's writer here so that test
	// harnesses can capture the output.
	ConsoleOut io.Writer

	// File output configuration.
	FileName   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	LocalTime  bool
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(ctx context.Context, cfg LoggerConfig) zerolog.Logger {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Create new logger")
	defer span.End()

	consoleOut := io.Writer(os.Stdout)
	if cfg.ConsoleOut != nil {
		consoleOut = cfg.ConsoleOut
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        consoleOut,
		TimeFormat: cfg.ConsoleTimeFormat,
		NoColor:    cfg.NoColor,
	}

	var output []io.Writer

	for _, out := range cfg.Output {
		switch out {
		case config.Console:
			output = append(output, consoleWriter)
		case config.Stdout:
			output = append(output, os.Stdout)
		case config.Stderr:
			output = append(output, os.Stderr)
		case config.File:
			output = append(
				output, &lumberjack.Logger{
					Filename:   cfg.FileName,
					MaxSize:    cfg.MaxSize,
					MaxBackups: cfg.MaxBackups,
					MaxAge:     cfg.MaxAge,
					Compress:   cfg.Compress,
					LocalTime:  cfg.LocalTime,
				},
			)
		case config.None:
			output = append(output, io.Discard)
		default:
			output = append(output, os.Stdout)
		}
	}

	zerolog.SetGlobalLevel(cfg.Level)
	if cfg.TimeFormat == "unix" || cfg.TimeFormat == "" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	} else {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	multiWriter := zerolog.MultiLevelWriter(output...)
	logger := zerolog.New(multiWriter)
	logger = logger.With().Timestamp().Logger()

	return logger
}
