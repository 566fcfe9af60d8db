package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  http:
    host: 127.0.0.1
    port: 18080
    mode: debug
  grpc:
    port: 19090
database:
  enabled: true
  host: db.internal
  user: mbpip
  password: secret
redis:
  enabled: true
  addr: cache.internal:6379
  default_ttl: 10m
kafka:
  enabled: true
  brokers: [k1:9092, k2:9092]
milvus:
  enabled: true
  threshold: 0.2
evaluation:
  concurrency: 3
log:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 18080, cfg.Server.HTTP.Port)
	assert.Equal(t, "debug", cfg.Server.HTTP.Mode)
	assert.True(t, cfg.Server.GRPC.Enabled)
	assert.Equal(t, 19090, cfg.Server.GRPC.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, DefaultDBPort, cfg.Database.Port)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 10*time.Minute, cfg.Redis.DefaultTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaDLQTopic, cfg.Kafka.DLQTopic)
	assert.Equal(t, 0.2, cfg.Milvus.Threshold)
	assert.Equal(t, 3, cfg.Evaluation.Concurrency)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("MBPIP_SERVER_HTTP_PORT", "28080")
	t.Setenv("MBPIP_DATABASE_PASSWORD", "from-env")
	t.Setenv("MBPIP_KAFKA_BROKERS", "a:1,b:2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 28080, cfg.Server.HTTP.Port)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MBPIP_EVALUATION_MAX_BATCH_SIZE", "64")
	t.Setenv("MBPIP_MILVUS_ENABLED", "true")
	t.Setenv("MBPIP_LOG_LEVEL", "warn")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Evaluation.MaxBatchSize)
	assert.True(t, cfg.Milvus.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  level: trace\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	var changes atomic.Int32
	w, err := Watch(path, func(*Config) { changes.Add(1) }, nil)
	require.NoError(t, err)
	assert.Equal(t, "info", w.Current().Log.Level)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	require.Eventually(t, func() bool {
		return w.Current().Log.Level == "debug"
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, changes.Load(), int32(1))
}

func TestWatcher_InvalidEditKeepsCurrent(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	var gotErr atomic.Value
	w, err := Watch(path, nil, func(err error) { gotErr.Store(err) })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: trace\n"), 0o644))
	require.NoError(t, w.v.ReadInConfig())
	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Write})

	assert.NotNil(t, gotErr.Load())
	assert.Equal(t, "info", w.Current().Log.Level)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Milvus.Enabled)
	assert.Equal(t, ":8081", cfg.Worker.HealthAddr)
	assert.Empty(t, cfg.Server.HTTP.APIKeys)
}
