package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds server settings loaded from an optional YAML file.
// Flags override the file; the file overrides the defaults.
type Config struct {
	Port        int    `yaml:"port"`
	DBPath      string `yaml:"db_path"`
	CompanyName string `yaml:"company_name"`
	Currency    string `yaml:"currency"`

	// Expiry assigned to synthetic opening-balance lots, in months.
	OpeningBalanceExpiryMonths int `yaml:"opening_balance_expiry_months"`
}

func defaultConfig() Config {
	return Config{
		Port:                       9000,
		DBPath:                     "lotledger.db",
		CompanyName:                "Your Company",
		Currency:                   "USD",
		OpeningBalanceExpiryMonths: 12,
	}
}

// loadConfig reads cfgPath if it exists; a missing file is not an error.
func loadConfig(cfgPath string) (Config, error) {
	cfg := defaultConfig()
	if cfgPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.OpeningBalanceExpiryMonths <= 0 {
		cfg.OpeningBalanceExpiryMonths = 12
	}
	return cfg, nil
}
