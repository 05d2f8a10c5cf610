package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TEXT2SQL_"

// Config represents the application configuration
type Config struct {
	Corpus    CorpusConfig    `json:"corpus"    yaml:"corpus"    envPrefix:"CORPUS_"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" envPrefix:"EMBEDDING_"`
	LLM       LLMConfig       `json:"llm"       yaml:"llm"       envPrefix:"LLM_"`
	Relevance RelevanceConfig `json:"relevance" yaml:"relevance" envPrefix:"RELEVANCE_"`
	Projector ProjectorConfig `json:"projector" yaml:"projector" envPrefix:"PROJECTOR_"`
	SQLCheck  SQLCheckConfig  `json:"sqlcheck"  yaml:"sqlcheck"  envPrefix:"SQLCHECK_"`
	Storage   StorageConfig   `json:"storage"   yaml:"storage"   envPrefix:"STORAGE_"`
	Executor  ExecutorConfig  `json:"executor"  yaml:"executor"  envPrefix:"EXECUTOR_"`
	Server    ServerConfig    `json:"server"    yaml:"server"    envPrefix:"SERVER_"`
	Logging   LoggingConfig   `json:"logging"   yaml:"logging"   envPrefix:"LOG_"`
	Debug     DebugConfig     `json:"debug"     yaml:"debug"`
}

// CorpusConfig locates the schema corpus (Spider tables.json layout)
type CorpusConfig struct {
	Path string `json:"path" yaml:"path" env:"PATH" envDefault:"data/tables.json"`
}

// EmbeddingConfig selects the embedding backend used for matching, gating and projection
type EmbeddingConfig struct {
	Provider    string `json:"provider"    yaml:"provider"    env:"PROVIDER"    envDefault:"local"` // local, ollama, genai, hash
	Model       string `json:"model"       yaml:"model"       env:"MODEL"       envDefault:"sentence-transformers/all-MiniLM-L6-v2"`
	Dimensions  int    `json:"dimensions"  yaml:"dimensions"  env:"DIMENSIONS"  envDefault:"384"`
	BaseURL     string `json:"base_url"    yaml:"base_url"    env:"BASE_URL"    envDefault:"http://localhost:11434"`
	APIKey      string `json:"-"           yaml:"-"           env:"API_KEY"`
	Timeout     string `json:"timeout"     yaml:"timeout"     env:"TIMEOUT"     envDefault:"60s"`
	Concurrency int    `json:"concurrency" yaml:"concurrency" env:"CONCURRENCY" envDefault:"4"`
	BatchSize   int    `json:"batch_size"  yaml:"batch_size"  env:"BATCH_SIZE"  envDefault:"32"`
}

// LLMConfig selects the SQL generation backend
type LLMConfig struct {
	Provider    string  `json:"provider"    yaml:"provider"    env:"PROVIDER"    envDefault:"ollama"` // ollama, openai, anthropic, genai, rule
	Model       string  `json:"model"       yaml:"model"       env:"MODEL"       envDefault:"sqlcoder:7b"`
	BaseURL     string  `json:"base_url"    yaml:"base_url"    env:"BASE_URL"`
	APIKey      string  `json:"-"           yaml:"-"           env:"API_KEY"`
	Temperature float64 `json:"temperature" yaml:"temperature" env:"TEMPERATURE" envDefault:"0.1"`
	MaxTokens   int     `json:"max_tokens"  yaml:"max_tokens"  env:"MAX_TOKENS"  envDefault:"300"`
	Timeout     string  `json:"timeout"     yaml:"timeout"     env:"TIMEOUT"     envDefault:"60s"`
	CacheDir    string  `json:"cache_dir"   yaml:"cache_dir"   env:"CACHE_DIR"` // empty disables the completion cache
	CacheTTL    string  `json:"cache_ttl"   yaml:"cache_ttl"   env:"CACHE_TTL"   envDefault:"24h"`
}

// RelevanceConfig tunes the relevance gate
type RelevanceConfig struct {
	Threshold float64 `json:"threshold" yaml:"threshold" env:"THRESHOLD" envDefault:"0.35"`
}

// ProjectorConfig tunes schema narrowing
type ProjectorConfig struct {
	TopK   int     `json:"top_k"  yaml:"top_k"  env:"TOP_K"  envDefault:"1"`
	Margin float64 `json:"margin" yaml:"margin" env:"MARGIN" envDefault:"0.05"`
}

// SQLCheckConfig tunes post-generation validation
type SQLCheckConfig struct {
	SyntaxCheck bool `json:"syntax_check" yaml:"syntax_check" env:"SYNTAX_CHECK" envDefault:"true"`
	Strict      bool `json:"strict"       yaml:"strict"       env:"STRICT"       envDefault:"false"`
}

// StorageConfig configures the persistent embedding store
type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED" envDefault:"false"`
	Path    string `json:"path"    yaml:"path"    env:"PATH"    envDefault:"~/.cache/text2sql-router/embeddings.duckdb"`
}

// ExecutorConfig configures the query execution sandbox
type ExecutorConfig struct {
	Driver       string `json:"driver"        yaml:"driver"        env:"DRIVER"        envDefault:"sqlite3"` // sqlite3, duckdb, postgres
	DSN          string `json:"dsn"           yaml:"dsn"           env:"DSN"           envDefault:"data/database.sqlite"`
	ReadOnly     bool   `json:"read_only"     yaml:"read_only"     env:"READ_ONLY"     envDefault:"false"`
	QueryTimeout string `json:"query_timeout" yaml:"query_timeout" env:"QUERY_TIMEOUT" envDefault:"30s"`
	MaxRows      int    `json:"max_rows"      yaml:"max_rows"      env:"MAX_ROWS"      envDefault:"1000"`
}

// ServerConfig configures the HTTP boundary
type ServerConfig struct {
	Host            string   `json:"host"             yaml:"host"             env:"HOST"             envDefault:"0.0.0.0"`
	Port            int      `json:"port"             yaml:"port"             env:"PORT"             envDefault:"8000"`
	CORSOrigins     []string `json:"cors_origins"     yaml:"cors_origins"     env:"CORS_ORIGINS"     envDefault:"*" envSeparator:","`
	RequestTimeout  string   `json:"request_timeout"  yaml:"request_timeout"  env:"REQUEST_TIMEOUT"  envDefault:"120s"`
	ShutdownTimeout string   `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      yaml:"level"      env:"LEVEL"      envDefault:"info"`   // debug, info, warn, error
	Format    string `json:"format"     yaml:"format"     env:"FORMAT"     envDefault:"text"`   // text, json
	Output    string `json:"output"     yaml:"output"     env:"OUTPUT"     envDefault:"stderr"` // stdout, stderr, file
	File      string `json:"file"       yaml:"file"       env:"FILE"       envDefault:"~/.cache/text2sql-router/logs/app.log"`
	AddSource bool   `json:"add_source" yaml:"add_source" env:"ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" yaml:"verbose" env:"VERBOSE" envDefault:"false"`
}

// DefaultConfig returns the configuration built purely from envDefault tags.
func DefaultConfig() *Config {
	cfg := &Config{}
	// An explicit empty environment keeps the process env out of the defaults.
	_ = env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix, Environment: map[string]string{}})

	return cfg
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides.
// Precedence, lowest first: defaults, .env, config file, environment, flags.
func LoadConfigWithOverrides(flagOverrides map[string]any) (*Config, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	config := DefaultConfig()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile decodes a JSON or YAML file over config. Keys present in
// the file win, including false and 0; absent keys keep their current values.
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Decode into a copy so a parse error leaves config untouched.
	decoded := *config
	decoded.Server.CORSOrigins = slices.Clone(config.Server.CORSOrigins)

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &decoded)
	default:
		err = json.Unmarshal(data, &decoded)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	*config = decoded

	return nil
}

// applyEnvironmentOverrides copies every value whose variable is present in
// the environment, even when it matches the default.
func applyEnvironmentOverrides(config *Config) error {
	fromEnv := &Config{}
	if err := env.ParseWithOptions(fromEnv, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	overridePresent(reflect.ValueOf(config).Elem(), reflect.ValueOf(fromEnv).Elem(), envPrefix)

	return nil
}

func overridePresent(target, source reflect.Value, prefix string) {
	for i := range source.NumField() {
		field := source.Type().Field(i)
		if !target.Field(i).CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			overridePresent(target.Field(i), source.Field(i), prefix+field.Tag.Get("envPrefix"))
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}

		if _, ok := os.LookupEnv(prefix + name); ok {
			target.Field(i).Set(source.Field(i))
		}
	}
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]any) error {
	for key, value := range overrides {
		switch key {
		case "corpus":
			if str, ok := value.(string); ok && str != "" {
				config.Corpus.Path = str
			}
		case "embedding-provider":
			if str, ok := value.(string); ok && str != "" {
				config.Embedding.Provider = str
			}
		case "llm-provider":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Provider = str
			}
		case "llm-model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "threshold":
			// Callers pass this only when the flag was set, so 0 is deliberate.
			if f, ok := value.(float64); ok {
				config.Relevance.Threshold = f
			}
		case "port":
			if n, ok := value.(int); ok && n > 0 {
				config.Server.Port = n
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	validEmbedders := map[string]bool{
		"local": true, "ollama": true, "genai": true, "hash": true,
	}
	if !validEmbedders[config.Embedding.Provider] {
		return fmt.Errorf("invalid embedding provider: %s (must be local, ollama, genai, or hash)", config.Embedding.Provider)
	}

	validGenerators := map[string]bool{
		"ollama": true, "openai": true, "anthropic": true, "genai": true, "rule": true,
	}
	if !validGenerators[config.LLM.Provider] {
		return fmt.Errorf("invalid llm provider: %s (must be ollama, openai, anthropic, genai, or rule)", config.LLM.Provider)
	}

	validDrivers := map[string]bool{
		"sqlite3": true, "duckdb": true, "postgres": true,
	}
	if !validDrivers[config.Executor.Driver] {
		return fmt.Errorf("invalid executor driver: %s (must be sqlite3, duckdb, or postgres)", config.Executor.Driver)
	}

	if config.Relevance.Threshold < 0 || config.Relevance.Threshold > 1 {
		return fmt.Errorf("relevance threshold must be within [0, 1]: %v", config.Relevance.Threshold)
	}

	if config.Projector.TopK < 1 {
		return fmt.Errorf("projector top_k must be positive: %d", config.Projector.TopK)
	}

	if config.Embedding.Concurrency < 1 {
		return fmt.Errorf("embedding concurrency must be positive: %d", config.Embedding.Concurrency)
	}

	durations := map[string]string{
		"embedding timeout":       config.Embedding.Timeout,
		"llm timeout":             config.LLM.Timeout,
		"llm cache ttl":           config.LLM.CacheTTL,
		"executor query timeout":  config.Executor.QueryTimeout,
		"server request timeout":  config.Server.RequestTimeout,
		"server shutdown timeout": config.Server.ShutdownTimeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	return nil
}

// Duration parses a duration field that validateConfig already accepted.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return d
}

// SaveConfig writes config to the config file path, as YAML when the path
// ends in .yaml or .yml and JSON otherwise. Secrets are never written.
func SaveConfig(config *Config) (string, error) {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}

	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Corpus.Path = ExpandPath(c.Corpus.Path)
	c.Storage.Path = ExpandPath(c.Storage.Path)
	c.LLM.CacheDir = ExpandPath(c.LLM.CacheDir)
	c.Logging.File = ExpandPath(c.Logging.File)

	if c.Executor.Driver != "postgres" {
		c.Executor.DSN = ExpandPath(c.Executor.DSN)
	}
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/text2sql-router"
	}

	return filepath.Join(homeDir, ".config", "text2sql-router")
}

// GetCacheDir returns the cache directory
func GetCacheDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".cache/text2sql-router"
	}

	return filepath.Join(homeDir, ".cache", "text2sql-router")
}
