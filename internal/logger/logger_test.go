package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_BeforeInitReturnsNop(t *testing.T) {
	log := Get()
	require.NotNil(t, log)
	// Logging through the nop logger must not panic.
	log.Info("ignored")
}

func TestInit_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		assert.NoError(t, Init(Config{Level: level}), "level %q", level)
	}
	assert.Error(t, Init(Config{Level: "loud"}))
}

func TestInit_ProductionEncoder(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", Environment: "production"}))
	Get().Info("structured entry")
	Sync()
}
