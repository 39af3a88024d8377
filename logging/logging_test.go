package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoeditor/config"
)

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&config.Config{LogFormat: "json", LogLevel: "warn"}, &buf)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

		logger.WithField("job_id", "abc").Warn("poll failed")
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "abc", entry["job_id"])
		assert.Equal(t, "poll failed", entry["msg"])
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger := New(&config.Config{LogLevel: "chatty"}, &bytes.Buffer{})
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	})

	t.Run("debug flag raises level", func(t *testing.T) {
		logger := New(&config.Config{LogLevel: "error", Debug: true}, &bytes.Buffer{})
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})
}
