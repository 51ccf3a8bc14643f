package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config represents the TOML configuration structure
type Config struct {
	Server struct {
		Host    string   `toml:"host"`
		Origins []string `toml:"origins"`
	} `toml:"server"`

	Models struct {
		Path            string `toml:"path"`
		KeepAlive       string `toml:"keep_alive"`
		MaxLoadedModels int    `toml:"max_loaded_models"`
		MaxQueue        int    `toml:"max_queue"`
	} `toml:"models"`

	Engine struct {
		Backend     string `toml:"backend"`
		NoMmap      bool   `toml:"no_mmap"`
		MaxOrder    int    `toml:"max_order"`
		NumParallel int    `toml:"num_parallel"`
	} `toml:"engine"`

	Logging struct {
		Debug  int    `toml:"debug"`
		Format string `toml:"format"`
	} `toml:"logging"`
}

var (
	configOnce sync.Once
	config     *Config
	configPath string
)

// GetConfigPaths returns the list of possible config file paths for the current OS
func GetConfigPaths() []string {
	if p := strings.Trim(os.Getenv("NGRAM_CONFIG"), "\"' "); p != "" {
		return []string{p}
	}

	var paths []string

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "ngram", "config.toml"))
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			paths = append(paths, filepath.Join(userProfile, ".ngram", "config.toml"))
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err == nil {
			paths = append(paths,
				filepath.Join(home, "Library", "Application Support", "ngram", "config.toml"),
				filepath.Join(home, ".config", "ngram", "config.toml"),
				filepath.Join(home, ".ngram", "config.toml"),
			)
		}
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			paths = append(paths, filepath.Join(xdgConfig, "ngram", "config.toml"))
		}
		home, err := os.UserHomeDir()
		if err == nil {
			paths = append(paths,
				filepath.Join(home, ".config", "ngram", "config.toml"),
				filepath.Join(home, ".ngram", "config.toml"),
			)
		}
		paths = append(paths, "/etc/ngram/config.toml")
	}

	return paths
}

// loadConfig loads the first available configuration file
func loadConfig() (*Config, string, error) {
	paths := GetConfigPaths()
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		}
	}
	return nil, "", nil
}

// ReloadConfigFile discards the cached configuration file so the next
// lookup reads it again.
func ReloadConfigFile() {
	configOnce = sync.Once{}
	config, configPath = nil, ""
}

// ConfigFile returns the path of the loaded configuration file, if any.
func ConfigFile() string {
	GetConfigValue("")
	return configPath
}

// GetConfigValue returns the value for a given environment variable key from the config file
func GetConfigValue(key string) string {
	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfig()
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})

	if config == nil {
		return ""
	}

	// Map environment variables to config values
	switch key {
	case "NGRAM_HOST":
		return config.Server.Host
	case "NGRAM_ORIGINS":
		if len(config.Server.Origins) > 0 {
			return strings.Join(config.Server.Origins, ",")
		}
	case "NGRAM_MODELS":
		return config.Models.Path
	case "NGRAM_KEEP_ALIVE":
		return config.Models.KeepAlive
	case "NGRAM_MAX_LOADED_MODELS":
		if config.Models.MaxLoadedModels > 0 {
			return strconv.Itoa(config.Models.MaxLoadedModels)
		}
	case "NGRAM_MAX_QUEUE":
		if config.Models.MaxQueue > 0 {
			return strconv.Itoa(config.Models.MaxQueue)
		}
	case "NGRAM_BACKEND":
		return config.Engine.Backend
	case "NGRAM_NOMMAP":
		if config.Engine.NoMmap {
			return "true"
		}
	case "NGRAM_MAX_ORDER":
		if config.Engine.MaxOrder > 0 {
			return strconv.Itoa(config.Engine.MaxOrder)
		}
	case "NGRAM_NUM_PARALLEL":
		if config.Engine.NumParallel > 0 {
			return strconv.Itoa(config.Engine.NumParallel)
		}
	case "NGRAM_DEBUG":
		if config.Logging.Debug > 0 {
			return strconv.Itoa(config.Logging.Debug)
		}
	case "NGRAM_LOG_FORMAT":
		return config.Logging.Format
	}

	return ""
}

// GenerateExampleConfig returns a commented example TOML configuration
func GenerateExampleConfig() string {
	return `# ngram configuration file
# Environment variables take precedence over values in this file.

[server]
# Network binding address (default: "127.0.0.1:11535")
host = "127.0.0.1:11535"
# Allowed CORS origins
origins = ["http://localhost:3000"]

[models]
# Models directory path (default: "~/.ngram/models")
path = "/path/to/models"
# How long to keep models loaded in memory (default: "5m")
keep_alive = "5m"
# Maximum number of models to keep loaded (default: 3)
max_loaded_models = 3
# Maximum number of queued requests (default: 512)
max_queue = 512

[engine]
# Storage for ARPA models: "probing" or "sorted" (default: "probing")
backend = "probing"
# Read binary models into memory instead of mapping them (default: false)
no_mmap = false
# Reject models above this order (default: 6)
max_order = 6
# Requests a loaded model serves at once (default: 4)
num_parallel = 4

[logging]
# 0 info, 1 debug, 2 trace (default: 0)
debug = 0
# "text" or "json" (default: "text")
format = "text"
`
}
