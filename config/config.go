package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	CargoTrack CargoTrackConfig `yaml:"cargotrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	OrderUpdatedTopicName string `yaml:"order_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CargoTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Кулдаун между ручными сканами одного заказа.
	ScanCooldownSeconds int `yaml:"scan_cooldown_seconds"`
	// Лимит сканирований на сотрудника в минуту. 0 — без лимита.
	ScanRateLimitPerMinute int `yaml:"scan_rate_limit_per_minute"`

	OrderViewTTLSeconds int `yaml:"order_view_ttl_seconds"`
	TemplateTTLSeconds  int `yaml:"template_ttl_seconds"`

	SweeperIntervalSeconds int `yaml:"sweeper_interval_seconds"`
	SweeperBatchSize       int `yaml:"sweeper_batch_size"`
	SweeperConcurrency     int `yaml:"sweeper_concurrency"`
	SweeperLeaseSeconds    int `yaml:"sweeper_lease_seconds"`

	SweeperHTTPAddr string `yaml:"sweeper_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
