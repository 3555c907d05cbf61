// Package config provides configuration loading for the engine
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfigFile represents the structure of the engine.yaml file
type EngineConfigFile struct {
	WorkUnitTopic   string `yaml:"workunit_topic"`
	ClaimTTL        string `yaml:"claim_ttl"`
	ClaimHeartbeat  string `yaml:"claim_heartbeat"`
	JanitorSchedule string `yaml:"janitor_schedule"`
	FanoutBatchSize int    `yaml:"fanout_batch_size"`
	UniqueKeys      []struct {
		Entity string   `yaml:"entity"`
		Fields []string `yaml:"fields"`
	} `yaml:"unique_keys"`
}

// EngineConfig is the resolved runtime configuration.
type EngineConfig struct {
	WorkUnitTopic   string
	ClaimTTL        time.Duration
	ClaimHeartbeat  time.Duration
	JanitorSchedule string
	FanoutBatchSize int
	UniqueKeys      []UniqueKey
}

// UniqueKey declares a uniqueness constraint the gateway enforces.
type UniqueKey struct {
	Entity string
	Fields []string
}

func (k UniqueKey) equal(other UniqueKey) bool {
	return k.Entity == other.Entity && slices.Equal(k.Fields, other.Fields)
}

// LoadEngineConfig loads engine configuration from a YAML file
func LoadEngineConfig(filepath string) (EngineConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile EngineConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return EngineConfig{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config := DefaultEngineConfig()

	if configFile.WorkUnitTopic != "" {
		config.WorkUnitTopic = configFile.WorkUnitTopic
	}

	if configFile.JanitorSchedule != "" {
		config.JanitorSchedule = configFile.JanitorSchedule
	}

	if configFile.ClaimTTL != "" {
		ttl, err := time.ParseDuration(configFile.ClaimTTL)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("invalid claim_ttl: %w", err)
		}

		config.ClaimTTL = ttl
	}

	if configFile.ClaimHeartbeat != "" {
		heartbeat, err := time.ParseDuration(configFile.ClaimHeartbeat)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("invalid claim_heartbeat: %w", err)
		}

		config.ClaimHeartbeat = heartbeat
	}

	if configFile.FanoutBatchSize < 0 {
		return EngineConfig{}, fmt.Errorf("fanout_batch_size must not be negative")
	}

	if configFile.FanoutBatchSize > 0 {
		config.FanoutBatchSize = configFile.FanoutBatchSize
	}

	if config.ClaimHeartbeat >= config.ClaimTTL {
		return EngineConfig{}, fmt.Errorf("claim_heartbeat (%s) must be shorter than claim_ttl (%s)",
			config.ClaimHeartbeat, config.ClaimTTL)
	}

	for _, key := range configFile.UniqueKeys {
		if key.Entity == "" || len(key.Fields) == 0 {
			return EngineConfig{}, fmt.Errorf("unique key needs an entity and at least one field")
		}

		declared := UniqueKey{Entity: key.Entity, Fields: key.Fields}

		// file keys extend the defaults; a re-declared default is skipped so
		// the gateway never registers the same constraint twice
		if !slices.ContainsFunc(config.UniqueKeys, declared.equal) {
			config.UniqueKeys = append(config.UniqueKeys, declared)
		}
	}

	return config, nil
}

// LoadEngineConfigOrDefault attempts to load engine config from file,
// falling back to defaults if the file doesn't exist
func LoadEngineConfigOrDefault(filepath string) EngineConfig {
	config, err := LoadEngineConfig(filepath)
	if err != nil {
		return DefaultEngineConfig()
	}

	return config
}

// DefaultEngineConfig returns the built-in defaults. The unique keys back
// the conflict guarantees of the domain services, so they are registered
// even when no config file is present.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkUnitTopic:   "tandem.workunits",
		ClaimTTL:        5 * time.Minute,
		ClaimHeartbeat:  time.Minute,
		JanitorSchedule: "@every 1m",
		FanoutBatchSize: 500,
		UniqueKeys:      DefaultUniqueKeys(),
	}
}

// DefaultUniqueKeys lists the uniqueness constraints the domain services
// depend on: one contact list per campaign and name, one template and addon
// per tenant name, one promoted winner per test.
func DefaultUniqueKeys() []UniqueKey {
	return []UniqueKey{
		{Entity: "campaign_contact_lists", Fields: []string{"tenant_id", "campaign_id", "name"}},
		{Entity: "templates", Fields: []string{"tenant_id", "name"}},
		{Entity: "addons", Fields: []string{"tenant_id", "name"}},
		{Entity: "ab_test_results", Fields: []string{"test_id"}},
	}
}
