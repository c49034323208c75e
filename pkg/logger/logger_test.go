package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCreatesLevelFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "info.log")

	err := NewBuilder().
		AddLevelFile(INFO, logFile).
		SetMaxSize(10).
		SetMaxBackups(3).
		SetMaxAge(1).
		SetLevel(DEBUG).
		Build()
	require.NoError(t, err)
	defer Close()

	Info().Str("signal_id", "s-1").Msg("signal created")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "signal created")
	assert.Contains(t, string(data), "s-1")
}

func TestErrorFileOnlyReceivesErrors(t *testing.T) {
	dir := t.TempDir()
	infoFile := filepath.Join(dir, "info.log")
	errFile := filepath.Join(dir, "err.log")

	require.NoError(t, NewBuilder().
		AddLevelFile(INFO, infoFile).
		AddLevelFile(ERROR, errFile).
		SetLevel(DEBUG).
		Build())
	defer Close()

	Warn().Msg("feed slow")
	Err(errors.New("venue down")).Msg("close failed")

	infoData, err := os.ReadFile(infoFile)
	require.NoError(t, err)
	errData, err := os.ReadFile(errFile)
	require.NoError(t, err)

	// warn 未单独配置，落到 info 文件
	assert.Contains(t, string(infoData), "feed slow")
	assert.NotContains(t, string(infoData), "close failed")
	assert.Contains(t, string(errData), "close failed")
	assert.NotContains(t, string(errData), "feed slow")
}

func TestFormatHelpers(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "info.log")
	require.NoError(t, NewBuilder().AddLevelFile(INFO, logFile).SetLevel(DEBUG).Build())
	defer Close()

	Infof("tick %d done", 3)
	Infof("plain", "a", 1)
	Infof("100%% sure")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "tick 3 done")
	assert.Contains(t, out, "plain a 1")
	assert.True(t, strings.Contains(out, "100%% sure") || strings.Contains(out, "100% sure"))
}

func TestHasVerb(t *testing.T) {
	assert.True(t, hasVerb("%s"))
	assert.True(t, hasVerb("a %d b"))
	assert.False(t, hasVerb("100%% done"))
	assert.False(t, hasVerb("plain"))
}
