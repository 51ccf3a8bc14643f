package envconfig

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmorganca/ngram/lm"
	"github.com/jmorganca/ngram/logutil"
)

var ErrInvalidHostPort = errors.New("invalid port specified in NGRAM_HOST")

const defaultPort = "11535"

// Host returns the scheme and host. Host can be configured via the
// NGRAM_HOST environment variable. Default is scheme "http" and host
// "127.0.0.1:11535".
func Host() (*url.URL, error) {
	defaultPort := defaultPort

	s := strings.TrimSpace(Var("NGRAM_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	hostport = strings.Trim(hostport, "\"' ")

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHostPort, port)
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}, nil
}

// Origins returns a list of allowed origins. Origins can be configured via
// the NGRAM_ORIGINS environment variable.
func Origins() (origins []string) {
	if s := Var("NGRAM_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// Models returns the path to the models directory. Models directory can be
// configured via the NGRAM_MODELS environment variable. Default is
// $HOME/.ngram/models
func Models() string {
	if s := Var("NGRAM_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".ngram", "models")
}

// KeepAlive returns the duration that models stay loaded in memory.
// KeepAlive can be configured via the NGRAM_KEEP_ALIVE environment
// variable. Negative values are treated as infinite. Zero is treated as no
// keep alive. Default is 5 minutes.
func KeepAlive() (keepAlive time.Duration) {
	keepAlive = 5 * time.Minute
	if s := Var("NGRAM_KEEP_ALIVE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			keepAlive = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			keepAlive = time.Duration(n) * time.Second
		} else {
			slog.Warn("invalid environment variable, using default", "key", "NGRAM_KEEP_ALIVE", "value", s, "default", keepAlive)
		}
	}

	if keepAlive < 0 {
		return time.Duration(math.MaxInt64)
	}

	return keepAlive
}

func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}

			return b
		}

		return false
	}
}

var (
	// NoMmap reads binary models into memory instead of mapping them.
	// NoMmap can be configured via the NGRAM_NOMMAP environment variable.
	NoMmap = Bool("NGRAM_NOMMAP")
)

// LogLevel returns the log level for the application.
// Values are 0 or false INFO (Default), 1 or true DEBUG, 2 TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("NGRAM_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return max(level, logutil.LevelTrace)
}

// LogFormat returns "json" when NGRAM_LOG_FORMAT asks for JSON records and
// "text" otherwise.
func LogFormat() string {
	switch s := strings.ToLower(Var("NGRAM_LOG_FORMAT")); s {
	case "", "text":
		return "text"
	case "json":
		return "json"
	default:
		slog.Warn("invalid setting, ignoring", "NGRAM_LOG_FORMAT", s)
		return "text"
	}
}

// NewLogger returns a logger writing to w in the configured format and level.
func NewLogger(w io.Writer) *slog.Logger {
	if LogFormat() == "json" {
		return logutil.NewJSONLogger(w, LogLevel())
	}

	return logutil.NewLogger(w, LogLevel())
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}

		return defaultValue
	}
}

var (
	// NumParallel sets the number of requests a loaded model serves at once.
	NumParallel = Uint("NGRAM_NUM_PARALLEL", 4)
	// MaxLoadedModels sets the maximum number of loaded models.
	MaxLoadedModels = Uint("NGRAM_MAX_LOADED_MODELS", 3)
	// MaxQueue sets the maximum number of queued requests.
	MaxQueue = Uint("NGRAM_MAX_QUEUE", 512)
	// MaxOrder rejects models above this order.
	MaxOrder = Uint("NGRAM_MAX_ORDER", lm.MaxOrder)
)

// Backend returns the storage backend for ARPA models. Backend can be
// configured via the NGRAM_BACKEND environment variable.
func Backend() lm.Backend {
	s := Var("NGRAM_BACKEND")
	b, err := lm.ParseBackend(s)
	if err != nil {
		slog.Error("invalid setting, ignoring", "NGRAM_BACKEND", s, "error", err)
		return lm.BackendProbing
	}

	return b
}

// LoadConfig returns the model loading configuration.
func LoadConfig() lm.Config {
	cfg := lm.DefaultConfig()
	cfg.Backend = Backend()
	cfg.Mmap = !NoMmap()
	if n := MaxOrder(); n > 0 && n <= lm.MaxOrder {
		cfg.MaxOrder = int(n)
	} else {
		slog.Error("invalid setting, ignoring", "NGRAM_MAX_ORDER", n)
	}

	return cfg
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	host, _ := Host()
	return map[string]EnvVar{
		"NGRAM_BACKEND":           {"NGRAM_BACKEND", Backend(), "Storage backend for ARPA models, probing or sorted"},
		"NGRAM_CONFIG":            {"NGRAM_CONFIG", Var("NGRAM_CONFIG"), "Path to the configuration file"},
		"NGRAM_DEBUG":             {"NGRAM_DEBUG", LogLevel(), "Show additional debug information (e.g. NGRAM_DEBUG=1)"},
		"NGRAM_HOST":              {"NGRAM_HOST", host, "IP Address for the ngram server (default 127.0.0.1:11535)"},
		"NGRAM_LOG_FORMAT":        {"NGRAM_LOG_FORMAT", LogFormat(), "Log record format, text or json (default text)"},
		"NGRAM_KEEP_ALIVE":        {"NGRAM_KEEP_ALIVE", KeepAlive(), "The duration that models stay loaded in memory (default \"5m\")"},
		"NGRAM_MAX_LOADED_MODELS": {"NGRAM_MAX_LOADED_MODELS", MaxLoadedModels(), "Maximum number of loaded models (default 3)"},
		"NGRAM_MAX_ORDER":         {"NGRAM_MAX_ORDER", MaxOrder(), "Reject models above this order"},
		"NGRAM_MAX_QUEUE":         {"NGRAM_MAX_QUEUE", MaxQueue(), "Maximum number of queued requests"},
		"NGRAM_MODELS":            {"NGRAM_MODELS", Models(), "The path to the models directory"},
		"NGRAM_NOMMAP":            {"NGRAM_NOMMAP", NoMmap(), "Read binary models into memory instead of mapping them"},
		"NGRAM_NUM_PARALLEL":      {"NGRAM_NUM_PARALLEL", NumParallel(), "Maximum number of parallel requests per model (default 4)"},
		"NGRAM_ORIGINS":           {"NGRAM_ORIGINS", Origins(), "A comma separated list of allowed origins"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var returns an environment variable stripped of leading and trailing
// quotes or spaces. Unset variables fall back to the configuration file.
func Var(key string) string {
	if s := strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'"); s != "" {
		return s
	}

	return GetConfigValue(key)
}
