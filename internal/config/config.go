package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env only outside production (in containers/prod the config
// comes from the environment alone). Walks up a few directories so the binary
// can be started from a subdirectory of the checkout.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config holds the client settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Backend endpoints.
	APIURL    string `yaml:"api_url"`
	SocketURL string `yaml:"socket_url"`

	// Bearer credential issued by the identity provider. Token wins over
	// TokenFile when both are set.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// Typing indicator: quiet window before stop_typing is emitted.
	TypingStopDelay time.Duration `yaml:"-"`

	// Reconnect backoff bounds for the real-time channel.
	ReconnectMinDelay time.Duration `yaml:"-"`
	ReconnectMaxDelay time.Duration `yaml:"-"`

	// HTTP client timeout for REST calls.
	HTTPTimeout time.Duration `yaml:"-"`

	LogLevel string `yaml:"log_level"`
}

// yamlConfig is the on-disk shape (durations in milliseconds).
type yamlConfig struct {
	APIURL            string `yaml:"api_url"`
	SocketURL         string `yaml:"socket_url"`
	Token             string `yaml:"token"`
	TokenFile         string `yaml:"token_file"`
	TypingStopDelayMS int    `yaml:"typing_stop_delay_ms"`
	ReconnectMinMS    int    `yaml:"reconnect_min_ms"`
	ReconnectMaxMS    int    `yaml:"reconnect_max_ms"`
	HTTPTimeoutMS     int    `yaml:"http_timeout_ms"`
	LogLevel          string `yaml:"log_level"`
}

// Load loads the configuration. .env entries are applied first (when present),
// then the YAML file, then environment variables on top.
func Load() *Config {
	loadEnv()
	yc := yamlConfig{
		APIURL:            "http://localhost:5000",
		SocketURL:         "ws://localhost:5000/ws",
		TypingStopDelayMS: 3000,
		ReconnectMinMS:    500,
		ReconnectMaxMS:    15000,
		HTTPTimeoutMS:     10000,
		LogLevel:          "info",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (keeping defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		APIURL:            envStr("CHAT_API_URL", yc.APIURL),
		SocketURL:         envStr("SOCKET_ENDPOINT", yc.SocketURL),
		Token:             envStr("BUDDY_TOKEN", yc.Token),
		TokenFile:         envStr("BUDDY_TOKEN_FILE", yc.TokenFile),
		TypingStopDelay:   time.Duration(envInt("TYPING_STOP_DELAY_MS", yc.TypingStopDelayMS)) * time.Millisecond,
		ReconnectMinDelay: time.Duration(envInt("RECONNECT_MIN_MS", yc.ReconnectMinMS)) * time.Millisecond,
		ReconnectMaxDelay: time.Duration(envInt("RECONNECT_MAX_MS", yc.ReconnectMaxMS)) * time.Millisecond,
		HTTPTimeout:       time.Duration(envInt("HTTP_TIMEOUT_MS", yc.HTTPTimeoutMS)) * time.Millisecond,
		LogLevel:          envStr("LOG_LEVEL", yc.LogLevel),
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return cfg
}

// BearerToken resolves the credential: inline token first, then token file.
func (c *Config) BearerToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
