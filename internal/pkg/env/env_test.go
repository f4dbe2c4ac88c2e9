package env

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetupEnvFileWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	assert.Equal(t, "", SetupEnvFile())
	assert.NotNil(t, Env)
}

func TestInvalidSettingsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	defer zap.ReplaceGlobals(zap.New(core))()
	Env = map[string]string{"JOB_WORKERS": "many", "RETENTION_INTERVAL": "daily"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 3, GetInt("JOB_WORKERS", 3))
	assert.Equal(t, time.Hour, GetDuration("RETENTION_INTERVAL", time.Hour))

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "JOB_WORKERS", entries[0].ContextMap()["key"])
		assert.Equal(t, "RETENTION_INTERVAL", entries[1].ContextMap()["key"])
	}
}
