package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches to dir for the duration of the test and restores the
// previous working directory afterwards (testing.T.Chdir needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

// clearEnv registers every config-related variable with t.Setenv so the test
// restores the caller's environment, then blanks them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "CONFIG_PATH", "CHAT_API_URL", "SOCKET_ENDPOINT",
		"BUDDY_TOKEN", "BUDDY_TOKEN_FILE", "TYPING_STOP_DELAY_MS",
		"RECONNECT_MIN_MS", "RECONNECT_MAX_MS", "HTTP_TIMEOUT_MS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg := Load()

	assert.Equal(t, "http://localhost:5000", cfg.APIURL)
	assert.Equal(t, "ws://localhost:5000/ws", cfg.SocketURL)
	assert.Equal(t, 3*time.Second, cfg.TypingStopDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectMinDelay)
	assert.Equal(t, 15*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://api.buddy.example/
socket_url: wss://api.buddy.example/ws
typing_stop_delay_ms: 1500
reconnect_min_ms: 250
log_level: debug
`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()

	assert.Equal(t, "https://api.buddy.example", cfg.APIURL, "trailing slash trimmed")
	assert.Equal(t, "wss://api.buddy.example/ws", cfg.SocketURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingStopDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectMinDelay)
	assert.Equal(t, 15*time.Second, cfg.ReconnectMaxDelay, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvBeatsYAML(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: http://from-yaml\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CHAT_API_URL", "http://from-env")
	t.Setenv("TYPING_STOP_DELAY_MS", "42")

	cfg := Load()

	assert.Equal(t, "http://from-env", cfg.APIURL)
	assert.Equal(t, 42*time.Millisecond, cfg.TypingStopDelay)
}

func TestLoad_DotEnvApplied(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(`
# local overrides
CHAT_API_URL="http://from-dotenv"
LOG_LEVEL=error
`), 0o600))

	cfg := Load()

	assert.Equal(t, "http://from-dotenv", cfg.APIURL, "quotes stripped")
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoad_DotEnvSkippedInProduction(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CHAT_API_URL=http://from-dotenv\n"), 0o600))
	t.Setenv("APP_ENV", "production")

	cfg := Load()

	assert.Equal(t, "http://localhost:5000", cfg.APIURL)
}

func TestLoad_InvalidIntKeepsDefault(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("HTTP_TIMEOUT_MS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
}

func TestBearerToken(t *testing.T) {
	inline := &Config{Token: "inline-token", TokenFile: "ignored"}
	tok, err := inline.BearerToken()
	require.NoError(t, err)
	assert.Equal(t, "inline-token", tok)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  file-token\n"), 0o600))
	fromFile := &Config{TokenFile: path}
	tok, err = fromFile.BearerToken()
	require.NoError(t, err)
	assert.Equal(t, "file-token", tok, "whitespace trimmed")

	none := &Config{}
	tok, err = none.BearerToken()
	require.NoError(t, err)
	assert.Empty(t, tok)

	missing := &Config{TokenFile: filepath.Join(t.TempDir(), "absent")}
	_, err = missing.BearerToken()
	require.Error(t, err)
}
