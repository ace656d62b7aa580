package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  order_updated_topic_name: "order.updated"
redis:
  host: "localhost"
  port: 6379
cargotrack:
  http_addr: ":8080"
  kafka_consumer_group: "cargo-api"
  scan_cooldown_seconds: 300
  order_view_ttl_seconds: 600
  sweeper_interval_seconds: 30
  sweeper_http_addr: ":8081"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "order.updated", cfg.Kafka.OrderUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.CargoTrack.HTTPAddr)
	require.Equal(t, 300, cfg.CargoTrack.ScanCooldownSeconds)
	require.Equal(t, 30, cfg.CargoTrack.SweeperIntervalSeconds)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
