package config

import "time"

const (
	DefaultHTTPPort = 8080
	DefaultGRPCPort = 9090
	DefaultHTTPMode = "release"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "mbpip"
	DefaultDBMaxConns = 25
	DefaultDBMinConns = 2

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 10
	DefaultRedisTTL       = time.Hour
	DefaultRedisKeyPrefix = "mbpip:"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "mbpip-coefficients"

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "mbpip-worker"
	DefaultKafkaRequestTopic = "mbpip.evaluation.requests"
	DefaultKafkaResultTopic  = "mbpip.evaluation.results"
	DefaultKafkaDLQTopic     = "mbpip.evaluation.dlq"
	DefaultKafkaMaxRetries   = 3

	DefaultMilvusAddr       = "localhost:19530"
	DefaultMilvusCollection = "mbpip_training_coverage"
	DefaultMilvusNProbe     = 16

	// Squared L2 distance in variable space beyond which an evaluation is
	// flagged as extrapolating.
	DefaultMilvusThreshold = 0.05

	DefaultEvalConcurrency    = 8
	DefaultEvalMaxBatchSize   = 10000
	DefaultEvalLocalCacheSize = 32
	DefaultEvalTimeout        = 30 * time.Second

	DefaultWorkerConcurrency = 4
	DefaultWorkerHealthAddr  = ":8081"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "mbpip"
)

// ApplyDefaults fills zero-value fields of cfg. Explicit values win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	h := &cfg.Server.HTTP
	setInt(&h.Port, DefaultHTTPPort)
	setString(&h.Mode, DefaultHTTPMode)
	setDuration(&h.ReadTimeout, 30*time.Second)
	setDuration(&h.WriteTimeout, 60*time.Second)
	setDuration(&h.ShutdownTimeout, 15*time.Second)
	if h.MaxBodySize == 0 {
		h.MaxBodySize = 32 << 20
	}
	if h.RateLimitRPS > 0 && h.RateLimitBurst == 0 {
		h.RateLimitBurst = int(2*h.RateLimitRPS) + 1
	}
	g := &cfg.Server.GRPC
	setInt(&g.Port, DefaultGRPCPort)
	setInt(&g.MaxRecvMsgSize, 32<<20)

	// ── Database ──────────────────────────────────────────────────────────────
	d := &cfg.Database
	setString(&d.Host, DefaultDBHost)
	setInt(&d.Port, DefaultDBPort)
	setString(&d.DBName, DefaultDBName)
	setString(&d.SSLMode, "disable")
	setInt(&d.MaxConns, DefaultDBMaxConns)
	setInt(&d.MinConns, DefaultDBMinConns)
	setDuration(&d.ConnMaxLifetime, 30*time.Minute)
	setDuration(&d.ConnMaxIdleTime, 5*time.Minute)

	// ── Redis ─────────────────────────────────────────────────────────────────
	r := &cfg.Redis
	setString(&r.Addr, DefaultRedisAddr)
	setInt(&r.PoolSize, DefaultRedisPoolSize)
	setDuration(&r.DialTimeout, 5*time.Second)
	setDuration(&r.ReadTimeout, 3*time.Second)
	setDuration(&r.WriteTimeout, 3*time.Second)
	setDuration(&r.DefaultTTL, DefaultRedisTTL)
	setString(&r.KeyPrefix, DefaultRedisKeyPrefix)

	// ── MinIO ─────────────────────────────────────────────────────────────────
	setString(&cfg.MinIO.Endpoint, DefaultMinIOEndpoint)
	setString(&cfg.MinIO.Bucket, DefaultMinIOBucket)

	// ── Kafka ─────────────────────────────────────────────────────────────────
	k := &cfg.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{DefaultKafkaBroker}
	}
	setString(&k.GroupID, DefaultKafkaGroupID)
	setString(&k.RequestTopic, DefaultKafkaRequestTopic)
	setString(&k.ResultTopic, DefaultKafkaResultTopic)
	setString(&k.DLQTopic, DefaultKafkaDLQTopic)
	setInt(&k.MaxRetries, DefaultKafkaMaxRetries)
	setDuration(&k.RetryBackoff, 500*time.Millisecond)
	setString(&k.Compression, "snappy")
	setInt(&k.RequiredAcks, -1)
	setInt(&k.MaxMessageBytes, 1<<20)

	// ── Milvus ────────────────────────────────────────────────────────────────
	m := &cfg.Milvus
	setString(&m.Addr, DefaultMilvusAddr)
	setString(&m.Collection, DefaultMilvusCollection)
	setInt(&m.NProbe, DefaultMilvusNProbe)
	if m.Threshold == 0 {
		m.Threshold = DefaultMilvusThreshold
	}

	// ── Evaluation / worker ───────────────────────────────────────────────────
	e := &cfg.Evaluation
	setInt(&e.Concurrency, DefaultEvalConcurrency)
	setInt(&e.MaxBatchSize, DefaultEvalMaxBatchSize)
	setInt(&e.LocalCacheSize, DefaultEvalLocalCacheSize)
	setDuration(&e.Timeout, DefaultEvalTimeout)
	setInt(&cfg.Worker.Concurrency, DefaultWorkerConcurrency)
	setDuration(&cfg.Worker.ShutdownTimeout, 30*time.Second)
	setString(&cfg.Worker.HealthAddr, DefaultWorkerHealthAddr)

	// ── Log / metrics ─────────────────────────────────────────────────────────
	setString(&cfg.Log.Level, DefaultLogLevel)
	setString(&cfg.Log.Format, DefaultLogFormat)
	setString(&cfg.Metrics.Path, DefaultMetricsPath)
	setString(&cfg.Metrics.Namespace, DefaultMetricsNamespace)
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setDuration(p *time.Duration, v time.Duration) {
	if *p == 0 {
		*p = v
	}
}
