package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/runflow/logger"
)

// EnvPrefix is stripped from environment variable names before binding.
const EnvPrefix = "RUNFLOW_"

// FileSystem interface for file operations (useful for testing).
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
	HomeDir() (string, error)
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (rfs *RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (rfs *RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

func (rfs *RealFileSystem) HomeDir() (string, error) {
	return os.UserHomeDir()
}

// Resolver handles finding and resolving config and env files.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns explicit paths if provided, otherwise searches for them.
func (cr *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = cr.first(cr.configCandidates(serviceName))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = cr.first([]string{
			fmt.Sprintf(".env.%s", serviceName),
			".env",
			"config/.env",
		})
	}
	return resolved
}

func (cr *Resolver) configCandidates(serviceName string) []string {
	paths := []string{
		fmt.Sprintf("./%s.yml", serviceName),
		fmt.Sprintf("./%s.yaml", serviceName),
		"./config/config.yml",
		"./config.yml",
		fmt.Sprintf("./cmd/%s/config.yml", serviceName),
	}
	if home, err := cr.FileSystem.HomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", serviceName, "config.yml"))
	}
	return paths
}

func (cr *Resolver) first(paths []string) string {
	for _, p := range paths {
		if cr.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
	Defaults   map[string]interface{}
	Log        *logger.Logger
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path. A missing explicit file is an error.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithDefault registers a default for key, applied below every other source.
func WithDefault(key string, value interface{}) LoaderOption {
	return func(lc *LoaderConfig) {
		if lc.Defaults == nil {
			lc.Defaults = make(map[string]interface{})
		}
		lc.Defaults[key] = value
	}
}

// WithLogger sets the logger used for loader warnings.
func WithLogger(log *logger.Logger) LoaderOption {
	return func(lc *LoaderConfig) { lc.Log = log }
}

// LoadConfig loads configuration for a service into the provided cfg struct.
func LoadConfig(serviceName string, cfg interface{}, opts ...LoaderOption) error {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}
	if lc.Log == nil {
		lc.Log = logger.Get("config")
	}
	if lc.ConfigFile != "" && !lc.FileSystem.Exists(lc.ConfigFile) {
		return fmt.Errorf("config file %s not found", lc.ConfigFile)
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(serviceName, lc)

	v := viper.New()
	for k, val := range lc.Defaults {
		v.SetDefault(k, val)
	}

	if files.ConfigFile != "" {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", files.ConfigFile, err)
		}
		lc.Log.Debug("Loaded config file", logger.Fields("path", files.ConfigFile))
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			lc.Log.Warn("Failed to load .env file", logger.Fields("path", files.EnvFile, logger.FieldError, err))
		}
	}

	v.SetEnvPrefix(strings.TrimSuffix(EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	autoBindEnvVars(v, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

// autoBindEnvVars binds RUNFLOW_ prefixed variables to every nested key
// variant their name could stand for. Unprefixed variables are ignored so
// unrelated process environment never leaks into the config.
func autoBindEnvVars(v *viper.Viper, environ []string) {
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		for _, variant := range generateEnvKeyVariants(strings.TrimPrefix(key, EnvPrefix)) {
			if v.IsSet(variant) || isKnownPrefix(v, variant) {
				v.Set(variant, value)
			}
		}
	}
}

// isKnownPrefix reports whether the parent of a dotted key already exists as a
// section in the loaded config or defaults.
func isKnownPrefix(v *viper.Viper, key string) bool {
	idx := strings.LastIndex(key, ".")
	if idx <= 0 {
		return false
	}
	return v.IsSet(key[:idx])
}

// generateEnvKeyVariants creates the possible nested keys for an env var name.
//
//	SERVER_AUTH_JWT_SECRET -> [server_auth_jwt_secret, server.auth.jwt.secret,
//	                           server.auth_jwt_secret, server.auth.jwt_secret, ...]
func generateEnvKeyVariants(envKey string) []string {
	lowerKey := strings.ToLower(envKey)
	parts := strings.Split(lowerKey, "_")
	if len(parts) <= 1 {
		return []string{lowerKey}
	}

	variants := []string{lowerKey, strings.Join(parts, ".")}
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		suffix := strings.Join(parts[i:], "_")
		variants = append(variants, prefix+"."+suffix)
	}
	for i := 1; i < len(parts)-1; i++ {
		head := strings.Join(parts[:i], ".")
		mid := strings.Join(parts[i:len(parts)-1], "_")
		variants = append(variants, head+"."+mid+"."+parts[len(parts)-1])
	}
	return removeDuplicates(variants)
}

func removeDuplicates(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
