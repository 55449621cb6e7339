package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Release  Release  `yaml:"release"`
	Repos    []Repo   `yaml:"repos"`
	LLM      LLM      `yaml:"llm"`
	GitHub   GitHub   `yaml:"github"`
	Shortcut Shortcut `yaml:"shortcut"`
	Render   Render   `yaml:"render"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Release struct {
	Title    string `yaml:"title"`
	SinceRef string `yaml:"since_ref"`
	UntilRef string `yaml:"until_ref"`
}

// Repo is one repository to collect. Empty boundaries inherit the
// run-level values.
type Repo struct {
	Owner     string `yaml:"owner"`
	Name      string `yaml:"name"`
	SinceRef  string `yaml:"since_ref"`
	UntilRef  string `yaml:"until_ref"`
	SinceDate string `yaml:"since_date"`
}

func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

type LLM struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	OllamaURL   string  `yaml:"ollama_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	APIKeyEnv   string  `yaml:"api_key_env"`
}

type GitHub struct {
	TokenEnv          string  `yaml:"token_env"`
	BaseURL           string  `yaml:"base_url"`
	WebURL            string  `yaml:"web_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Shortcut struct {
	TokenEnv string `yaml:"token_env"`
}

type Render struct {
	Outfile             string        `yaml:"outfile"`
	Format              string        `yaml:"format"`
	IncludeContributors bool          `yaml:"include_contributors"`
	Products            []ProductRule `yaml:"products"`
}

// ProductRule maps repositories to a product heading. Match is one of
// contains, suffix, prefix or exact.
type ProductRule struct {
	Match   string `yaml:"match"`
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigError reports an unusable configuration or missing credential.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// ConfigDir returns the XDG config directory for rlsnotes.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "rlsnotes")
}

// DataDir returns the XDG data directory for rlsnotes.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "rlsnotes")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/rlsnotes/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", &ConfigError{Msg: "config file not found: " + explicit}
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", &ConfigError{Msg: fmt.Sprintf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'rlsnotes init' to create a default config",
		xdgConfig,
	)}
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Release: Release{Title: "Release"},
		LLM: LLM{
			Provider:    "openai",
			Model:       "gpt-5",
			OllamaURL:   "http://localhost:11434",
			Temperature: 1,
			MaxTokens:   2000,
			APIKeyEnv:   "OPENAI_API_KEY",
		},
		GitHub:   GitHub{TokenEnv: "GITHUB_TOKEN", RequestsPerSecond: 5},
		Shortcut: Shortcut{TokenEnv: "SHORTCUT_TOKEN"},
		Render:   Render{Outfile: "RELEASE_NOTES.md", Format: "md"},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("parsing config: %v", err)}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for i, r := range c.Repos {
		if r.Owner == "" || r.Name == "" {
			return &ConfigError{Field: fmt.Sprintf("repos[%d]", i), Msg: "owner and name are required"}
		}
	}
	switch strings.ToLower(c.Render.Format) {
	case "md", "markdown", "html":
	default:
		return &ConfigError{Field: "render.format", Msg: fmt.Sprintf("unknown format %q (want md or html)", c.Render.Format)}
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "ollama":
	default:
		return &ConfigError{Field: "llm.provider", Msg: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GitHubToken returns the GitHub token from the configured environment
// variable.
func (c *Config) GitHubToken() (string, error) {
	return requireEnv("github.token_env", c.GitHub.TokenEnv)
}

// ShortcutToken returns the Shortcut token, or "" when it is not set.
func (c *Config) ShortcutToken() string {
	if c.Shortcut.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Shortcut.TokenEnv)
}

func requireEnv(field, name string) (string, error) {
	if name == "" {
		return "", &ConfigError{Field: field, Msg: "no environment variable configured"}
	}
	v := os.Getenv(name)
	if v == "" {
		return "", &ConfigError{Field: field, Msg: fmt.Sprintf("environment variable %s is not set", name)}
	}
	return v, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
