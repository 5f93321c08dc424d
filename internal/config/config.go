// Copyright 2025 Blink Labs Software
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

package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blkluv/taggr/database/plugin"
	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/persistence"
)

type ctxKey string

const configContextKey ctxKey = "taggr.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultBlobPlugin      = "badger"
	DefaultMetadataPlugin  = "sqlite"
	DefaultDataDir         = ".taggr"
	DefaultUpgradeMode     = "exec"
	envPrefix              = "taggr"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// ErrPluginListRequested is returned when the user requests to list available plugins
// This is not an error condition but a successful operation that displays plugin information
var ErrPluginListRequested = errors.New("plugin list requested")

type tempConfig struct {
	Config   map[string]any            `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// GovernanceConfig holds the policy thresholds
type GovernanceConfig struct {
	QuorumPercent        uint64 `yaml:"quorumPercent"        split_words:"true"`
	ApprovalPercent      uint64 `yaml:"approvalPercent"      split_words:"true"`
	SupermajorityPercent uint64 `yaml:"supermajorityPercent" split_words:"true"`
	MinProposerStake     uint64 `yaml:"minProposerStake"     split_words:"true"`
	VotingPeriod         string `yaml:"votingPeriod"         split_words:"true"`
	MaxReward            uint64 `yaml:"maxReward"            split_words:"true"`
	TokenDecimals        uint   `yaml:"tokenDecimals"        split_words:"true"`
}

// Policy converts the thresholds into a validated policy
func (g GovernanceConfig) Policy() (governance.Policy, error) {
	period, err := time.ParseDuration(g.VotingPeriod)
	if err != nil {
		return governance.Policy{}, fmt.Errorf("invalid votingPeriod: %w", err)
	}
	p := governance.Policy{
		QuorumPercent:        g.QuorumPercent,
		ApprovalPercent:      g.ApprovalPercent,
		SupermajorityPercent: g.SupermajorityPercent,
		MinProposerStake:     g.MinProposerStake,
		VotingPeriod:         period,
		MaxReward:            g.MaxReward,
		TokenDecimals:        g.TokenDecimals,
	}
	if err := p.Validate(); err != nil {
		return governance.Policy{}, err
	}
	return p, nil
}

type Config struct {
	DataDir           string           `yaml:"dataDir"           split_words:"true"`
	BindAddr          string           `yaml:"bindAddr"          split_words:"true"`
	ApiPort           uint             `yaml:"apiPort"           split_words:"true"`
	MetricsPort       uint             `yaml:"metricsPort"       split_words:"true"`
	TlsCertFilePath   string           `yaml:"tlsCertFilePath"   envconfig:"TLS_CERT_FILE_PATH"`
	TlsKeyFilePath    string           `yaml:"tlsKeyFilePath"    envconfig:"TLS_KEY_FILE_PATH"`
	BlobPlugin        string           `yaml:"blobPlugin"        envconfig:"DATABASE_BLOB_PLUGIN"`
	MetadataPlugin    string           `yaml:"metadataPlugin"    envconfig:"DATABASE_METADATA_PLUGIN"`
	EncryptSnapshots  bool             `yaml:"encryptSnapshots"  split_words:"true"`
	RetainGenerations int              `yaml:"retainGenerations" split_words:"true"`
	ShutdownTimeout   string           `yaml:"shutdownTimeout"   split_words:"true"`
	ChoresInterval    string           `yaml:"choresInterval"    split_words:"true"`
	UpgradeMode       string           `yaml:"upgradeMode"       split_words:"true"`
	TracingEnabled    bool             `yaml:"tracingEnabled"    split_words:"true"`
	TracingStdout     bool             `yaml:"tracingStdout"     split_words:"true"`
	Governance        GovernanceConfig `yaml:"governance"`
}

// ListenAddress returns the API listener address
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.ApiPort)
}

// ChoresEvery parses the chores interval
func (c *Config) ChoresEvery() (time.Duration, error) {
	d, err := time.ParseDuration(c.ChoresInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid choresInterval: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("choresInterval must be positive")
	}
	return d, nil
}

// ShutdownWait parses the shutdown timeout
func (c *Config) ShutdownWait() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout: %w", err)
	}
	return d, nil
}

// PrintPlugins writes the registered plugins of the given type
func PrintPlugins(pluginType plugin.PluginType) {
	fmt.Printf("Available %s plugins:\n", plugin.PluginTypeName(pluginType))
	for _, p := range plugin.GetPlugins(pluginType) {
		fmt.Printf("  %s: %s\n", p.Name, p.Description)
	}
}

// CheckPluginList handles the 'list' pseudo plugin name
func (c *Config) CheckPluginList() error {
	if c.BlobPlugin == "list" {
		PrintPlugins(plugin.PluginTypeBlob)
		return ErrPluginListRequested
	}
	if c.MetadataPlugin == "list" {
		PrintPlugins(plugin.PluginTypeMetadata)
		return ErrPluginListRequested
	}
	return nil
}

func defaultConfig() *Config {
	policy := governance.DefaultPolicy()
	return &Config{
		DataDir:           DefaultDataDir,
		BindAddr:          "0.0.0.0",
		ApiPort:           7070,
		MetricsPort:       12798,
		BlobPlugin:        DefaultBlobPlugin,
		MetadataPlugin:    DefaultMetadataPlugin,
		RetainGenerations: 2,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ChoresInterval:    persistence.DefaultChoresInterval.String(),
		UpgradeMode:       DefaultUpgradeMode,
		Governance: GovernanceConfig{
			QuorumPercent:        policy.QuorumPercent,
			ApprovalPercent:      policy.ApprovalPercent,
			SupermajorityPercent: policy.SupermajorityPercent,
			MinProposerStake:     policy.MinProposerStake,
			VotingPeriod:         policy.VotingPeriod.String(),
			MaxReward:            policy.MaxReward,
			TokenDecimals:        policy.TokenDecimals,
		},
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.taggr/taggr.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".taggr", "taggr.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/taggr/taggr.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		if err := loadFile(configFile); err != nil {
			return nil, err
		}
	}

	// Process environment variables
	if err := envconfig.Process(envPrefix, globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	if err := plugin.ProcessEnvVars(); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	if _, err := globalConfig.Governance.Policy(); err != nil {
		return nil, fmt.Errorf("invalid governance config: %w", err)
	}
	if _, err := globalConfig.ChoresEvery(); err != nil {
		return nil, err
	}
	switch globalConfig.UpgradeMode {
	case "exec", "exit":
	default:
		return nil, fmt.Errorf(
			"invalid upgradeMode: %q (must be 'exec' or 'exit')",
			globalConfig.UpgradeMode,
		)
	}
	return globalConfig, nil
}

func loadFile(configFile string) error {
	buf, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	// First unmarshal into temp config to handle plugin sections
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if tempCfg.Config != nil {
		// Overlay config values onto existing defaults. Only keys present
		// in the section are re-marshalled, so unset keys keep defaults.
		configBytes, err := yaml.Marshal(tempCfg.Config)
		if err != nil {
			return fmt.Errorf("error re-marshalling config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, globalConfig); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else {
		// Otherwise unmarshal the whole file as main config
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Process plugin configurations
	pluginConfig := make(map[string]map[string]map[string]any)
	if tempCfg.Blob != nil {
		pluginConfig["blob"] = tempCfg.Blob
	}
	if tempCfg.Metadata != nil {
		pluginConfig["metadata"] = tempCfg.Metadata
	}
	if tempCfg.Database != nil {
		if tempCfg.Database.Blob != nil {
			if name, ok := extractPluginName(tempCfg.Database.Blob); ok {
				globalConfig.BlobPlugin = name
			}
			mergePluginConfig(pluginConfig, "blob", tempCfg.Database.Blob)
		}
		if tempCfg.Database.Metadata != nil {
			if name, ok := extractPluginName(tempCfg.Database.Metadata); ok {
				globalConfig.MetadataPlugin = name
			}
			mergePluginConfig(pluginConfig, "metadata", tempCfg.Database.Metadata)
		}
	}
	if len(pluginConfig) > 0 {
		if err := plugin.ProcessConfig(pluginConfig); err != nil {
			return fmt.Errorf("error processing plugin config: %w", err)
		}
	}
	return nil
}

// extractPluginName removes and returns the 'plugin' key
func extractPluginName(section map[string]any) (string, bool) {
	val, exists := section["plugin"]
	if !exists {
		return "", false
	}
	name, ok := val.(string)
	if !ok {
		return "", false
	}
	delete(section, "plugin")
	return name, true
}

func mergePluginConfig(
	pluginConfig map[string]map[string]map[string]any,
	pluginType string,
	section map[string]any,
) {
	typeConfig := make(map[string]map[string]any)
	for k, v := range section {
		switch val := v.(type) {
		case map[string]any:
			typeConfig[k] = val
		case map[any]any:
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			typeConfig[k] = stringAnyMap
		default:
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				pluginType,
				k,
				v,
			)
		}
	}
	// Merge with existing config instead of overwriting
	if pluginConfig[pluginType] == nil {
		pluginConfig[pluginType] = typeConfig
	} else {
		maps.Copy(pluginConfig[pluginType], typeConfig)
	}
}

func GetConfig() *Config {
	return globalConfig
}
