package observability

import (
	"fmt"

	"github.com/rs/zerolog"
)

// KafkaLogger adapts zerolog to kafka-go's Logger interface.
type KafkaLogger struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewKafkaLogger creates a KafkaLogger that writes at debug level, adding a
// "component":"kafka" field.
func NewKafkaLogger(logger zerolog.Logger) *KafkaLogger {
	return &KafkaLogger{logger: logger.With().Str("component", "kafka").Logger(), level: zerolog.DebugLevel}
}

// NewKafkaErrorLogger creates a KafkaLogger that writes at error level.
func NewKafkaErrorLogger(logger zerolog.Logger) *KafkaLogger {
	return &KafkaLogger{logger: logger.With().Str("component", "kafka").Logger(), level: zerolog.ErrorLevel}
}

// Printf implements kafka.Logger.
func (l *KafkaLogger) Printf(format string, args ...interface{}) {
	l.logger.WithLevel(l.level).Msg(fmt.Sprintf(format, args...))
}
