package logger_test

import (
	"testing"

	"github.com/straye-as/pipeline-engine/internal/config"
	"github.com/straye-as/pipeline-engine/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	app := &config.AppConfig{Name: "Pipeline Engine", Environment: "development"}

	t.Run("parses level", func(t *testing.T) {
		log, err := logger.NewLogger(&config.LoggingConfig{Level: "debug", Format: "console"}, app)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("falls back to info on bad level", func(t *testing.T) {
		log, err := logger.NewLogger(&config.LoggingConfig{Level: "loud", Format: "json"}, app)
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})
}
