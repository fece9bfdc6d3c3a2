package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var ErrEmptyModelPath = errors.New("model path is empty")

type Config struct {
	LogLevel string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort string `yaml:"http-port" env:"HTTP_PORT" env-default:"8000"`
	Model    Model  `yaml:"model"`
	Board    Board  `yaml:"board"`
	Cache    Cache  `yaml:"cache"`

	// BaseDir - directory relative paths are resolved against. Not read from the file.
	BaseDir string `yaml:"-"`
}

type Model struct {
	Path    string `yaml:"path" env:"MODEL_PATH" env-default:"models/tictactoe_policy.json"`
	Workers int    `yaml:"workers" env:"MODEL_WORKERS" env-default:"0"`
	// Overrides are handed to the loader as metadata and do not change inference.
	Overrides map[string]any `yaml:"overrides"`
}

type Board struct {
	StrictMarkers bool `yaml:"strict-markers" env:"BOARD_STRICT_MARKERS" env-default:"false"`
}

type Cache struct {
	Enabled bool          `yaml:"enabled" env:"CACHE_ENABLED" env-default:"false"`
	TTL     time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"1h"`
	Redis   Redis         `yaml:"redis"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

// Load reads the yaml file at path; environment variables take precedence.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	return config, nil
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

// ModelPath resolves the model path against BaseDir, so the artifact is found
// regardless of the working directory the process was started from.
func (that *Config) ModelPath() (string, error) {
	if that.Model.Path == "" {
		return "", ErrEmptyModelPath
	}

	return ResolvePath(that.BaseDir, that.Model.Path), nil
}

// ResolvePath joins relative paths onto baseDir. Absolute paths and an empty baseDir leave path as is.
func ResolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}

	return filepath.Join(baseDir, path)
}

// ExecutableDir - directory of the running binary with symlinks resolved.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return filepath.Dir(exe), nil
}
