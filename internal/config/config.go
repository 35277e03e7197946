// Package config loads vaspgap settings from an optional YAML file and the
// environment. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/vaspgap/internal/llm"
	"github.com/dshills/vaspgap/internal/match"
)

// EnvConfigPath names the variable holding the default config file path.
const EnvConfigPath = "VASPGAP_CONFIG"

// Config holds every setting of an analysis run. Keys absent from a config
// file keep the values from Default.
type Config struct {
	Model string `yaml:"model"`
	Rules string `yaml:"rules"`

	Extractor struct {
		Name     string `yaml:"name"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"extractor"`

	LLM struct {
		BaseURL      string  `yaml:"baseURL"`
		MaxTokens    int     `yaml:"maxTokens"`
		Temperature  float64 `yaml:"temperature"`
		ExcerptChars int     `yaml:"excerptChars"`
		Concurrency  int     `yaml:"concurrency"`
		FailFast     bool    `yaml:"failFast"`
		Redact       bool    `yaml:"redact"`
	} `yaml:"llm"`

	Match struct {
		CaseInsensitive bool    `yaml:"caseInsensitive"`
		Fuzzy           float64 `yaml:"fuzzy"`
	} `yaml:"match"`
}

// Default returns the built-in settings.
func Default() *Config {
	var c Config
	c.Model = llm.DefaultModel
	c.Extractor.Name = "pdfco"
	c.LLM.MaxTokens = 500
	c.LLM.ExcerptChars = llm.DefaultExcerptChars
	c.LLM.Concurrency = 1
	c.LLM.Redact = true
	return &c
}

// Load reads path over the defaults. An empty path falls back to
// $VASPGAP_CONFIG, and to defaults alone when that is unset too.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if v := os.Getenv("VASPGAP_MODEL"); v != "" {
		cfg.Model = v
	}
	return cfg, nil
}

// Validate returns an error if any value is out of range.
func (c *Config) Validate() error {
	if _, _, err := llm.ParseModel(c.Model); err != nil {
		return err
	}
	switch c.Extractor.Name {
	case "pdfco", "local":
	default:
		return fmt.Errorf("extractor must be pdfco or local, got %q", c.Extractor.Name)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be > 0, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %g", c.LLM.Temperature)
	}
	if c.LLM.ExcerptChars < 0 {
		return fmt.Errorf("excerpt chars must be >= 0, got %d", c.LLM.ExcerptChars)
	}
	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.LLM.Concurrency)
	}
	if c.Match.Fuzzy < 0 || c.Match.Fuzzy > match.MaxFuzzyThreshold {
		return fmt.Errorf("fuzzy threshold must be between 0 and %g, got %g", match.MaxFuzzyThreshold, c.Match.Fuzzy)
	}
	return nil
}

// Credentials holds the two API keys an analysis needs.
type Credentials struct {
	PDFCo string
	LLM   string
}

// CredentialsFromEnv reads the extraction key and the key for the provider
// named in model.
func CredentialsFromEnv(model string) Credentials {
	provider, _, _ := llm.ParseModel(model)
	return Credentials{
		PDFCo: os.Getenv("PDFCO_API_KEY"),
		LLM:   os.Getenv(llm.KeyEnv(provider)),
	}
}
