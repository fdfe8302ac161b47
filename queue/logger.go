package queue

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Logger adapts zerolog to the task queue's logging interface
type Logger struct {
	log zerolog.Logger
}

// NewLogger returns a queue logger writing through log
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("component", "queue").Logger()}
}

// Debug implements asynq.Logger
func (l *Logger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }

// Info implements asynq.Logger
func (l *Logger) Info(args ...any) { l.log.Info().Msg(fmt.Sprint(args...)) }

// Warn implements asynq.Logger
func (l *Logger) Warn(args ...any) { l.log.Warn().Msg(fmt.Sprint(args...)) }

// Error implements asynq.Logger
func (l *Logger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }

// Fatal implements asynq.Logger
func (l *Logger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
