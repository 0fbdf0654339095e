// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the typed, validated configuration the core is
// constructed from. Parsing argv and watching config files is an
// external concern (see spec §1 non-goals); this package only owns the
// in-memory shape and its validation rules.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolmesh/toolmeshd/pkg/errs"
)

// Transport identifies how a tool server is reached.
type Transport string

const (
	TransportStdio   Transport = "stdio"
	TransportHTTPSSE Transport = "http-sse"
)

// ToolServer is the immutable descriptor for one tool server (spec §3.1).
type ToolServer struct {
	Name          string            `yaml:"name"`
	Transport     Transport         `yaml:"transport"`
	Command       string            `yaml:"command,omitempty"`
	Args          []string          `yaml:"args,omitempty"`
	URL           string            `yaml:"url,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	Enabled       bool              `yaml:"enabled"`
	Timeout       time.Duration     `yaml:"timeout"`
	RetryAttempts int               `yaml:"retry_attempts"`
	RetryDelay    time.Duration     `yaml:"retry_delay"`
}

// Validate checks the fields required by spec §3.1: required fields
// non-empty, unknown transport rejected.
func (c ToolServer) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: tool server name is required", errs.ErrConfigInvalid)
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("%w: tool server %q: command is required for stdio transport", errs.ErrConfigInvalid, c.Name)
		}
	case TransportHTTPSSE:
		if c.URL == "" {
			return fmt.Errorf("%w: tool server %q: url is required for http-sse transport", errs.ErrConfigInvalid, c.Name)
		}
	default:
		return fmt.Errorf("%w: tool server %q: unknown transport %q", errs.ErrConfigInvalid, c.Name, c.Transport)
	}
	return nil
}

// SetDefaults fills timeouts and retry policy left at zero value.
func (c *ToolServer) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
}

// Upstream describes the OpenAI-compatible chat-completions endpoint
// the augmented request is forwarded to (spec §6.3).
type Upstream struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// Reasoning tunes the four-phase pipeline (spec §4.5).
type Reasoning struct {
	Enabled           bool          `yaml:"enabled"`
	Model             string        `yaml:"model"`
	MaxPlanSteps      int           `yaml:"max_plan_steps"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	// MaxReplanCycles bounds how many times phase 4's
	// "continue_collection" recommendation sends the pipeline back to
	// phase 2. Zero preserves the distilled spec's original behavior
	// of logging the recommendation without acting on it.
	MaxReplanCycles int `yaml:"max_replan_cycles"`
}

// Logging holds the logger settings read from the config file. The
// serve command does not read this section: it takes the level and
// format from its --log-level and --log-format flags.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration object the core is built from.
type Config struct {
	ListenAddr string       `yaml:"listen_addr"`
	Upstream   Upstream     `yaml:"upstream"`
	ToolServer []ToolServer `yaml:"tool_servers"`
	Reasoning  Reasoning    `yaml:"reasoning"`
	Logging    Logging      `yaml:"logging"`
}

// SetDefaults fills in zero-valued fields with the documented defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Reasoning.HealthInterval <= 0 {
		c.Reasoning.HealthInterval = 60 * time.Second
	}
	if c.Reasoning.DiscoveryInterval <= 0 {
		c.Reasoning.DiscoveryInterval = 300 * time.Second
	}
	if c.Reasoning.MaxPlanSteps <= 0 {
		c.Reasoning.MaxPlanSteps = 8
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for i := range c.ToolServer {
		c.ToolServer[i].SetDefaults()
	}
}

// Validate checks the whole config tree. It does not read the
// environment; Load applies the spec §6.1 overrides (ApplyEnv) before
// calling it.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("%w: upstream base_url is required", errs.ErrConfigInvalid)
	}
	if c.Upstream.Model == "" {
		return fmt.Errorf("%w: upstream model is required", errs.ErrConfigInvalid)
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("%w: upstream api key is required (set OPENAI_API_KEY or equivalent)", errs.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(c.ToolServer))
	for _, ts := range c.ToolServer {
		if seen[ts.Name] {
			return fmt.Errorf("%w: duplicate tool server name %q", errs.ErrConfigInvalid, ts.Name)
		}
		seen[ts.Name] = true
		if err := ts.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv layers the environment variables named in spec §6.1 over a
// config loaded from file, environment taking precedence.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.Upstream.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Upstream.Model = v
	}
	if key := ProviderAPIKey(c.Upstream.Provider); key != "" {
		c.Upstream.APIKey = key
	}
}

// Load reads a YAML config file, applies environment overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	_ = LoadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config %s: %v", errs.ErrConfigInvalid, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config %s: %v", errs.ErrConfigInvalid, path, err)
	}

	cfg.ApplyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
