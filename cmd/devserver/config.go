package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type serverConfig struct {
	Listen       string `yaml:"listen"`
	PublishToken string `yaml:"publishToken"`
	Debug        bool   `yaml:"debug"`
}

func defaultConfig() serverConfig {
	return serverConfig{Listen: ":8090"}
}

func loadConfig(path string) (serverConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8090"
	}
	return cfg, nil
}
