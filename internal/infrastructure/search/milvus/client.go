// Package milvus stores training configurations as vectors and answers the
// nearest-neighbor queries behind extrapolation detection.
package milvus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// ClientFactory creates the SDK client.
type ClientFactory func(ctx context.Context, conf client.Config) (client.Client, error)

// milvusNewClient is replaced in tests.
var milvusNewClient ClientFactory = client.NewClient

var (
	ErrConnectionFailed = errors.New(errors.ErrCodeServiceUnavailable, "milvus connection failed")
	ErrUnhealthy        = errors.New(errors.ErrCodeServiceUnavailable, "milvus unhealthy")
)

// ClientConfig holds the connection settings.
type ClientConfig struct {
	Address             string
	Username            string
	Password            string
	DBName              string
	ConnectTimeout      time.Duration
	HealthCheckInterval time.Duration
	KeepAliveTime       time.Duration
	KeepAliveTimeout    time.Duration
}

// ClientConfigFrom maps the application config.
func ClientConfigFrom(cfg config.MilvusConfig) ClientConfig {
	return ClientConfig{
		Address:  cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.DBName,
	}
}

// Client owns the SDK connection and reconnects after repeated failed
// health checks.
type Client struct {
	milvusClient client.Client
	config       ClientConfig
	logger       logging.Logger
	healthy      atomic.Bool
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex
}

func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.DBName == "" {
		cfg.DBName = "default"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.KeepAliveTime == 0 {
		cfg.KeepAliveTime = 60 * time.Second
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 20 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	mc, err := connect(ctx, cfg)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to create milvus client")
	}

	c := &Client{
		milvusClient: mc,
		config:       cfg,
		logger:       logger.Named("milvus"),
		cancel:       cancel,
	}
	if err := c.CheckHealth(ctx); err != nil {
		_ = c.Close()
		return nil, ErrConnectionFailed.WithCause(err)
	}

	go c.startHealthCheck(ctx)

	c.logger.Info("Milvus client connected", logging.String("address", cfg.Address))
	return c, nil
}

func connect(ctx context.Context, cfg ClientConfig) (client.Client, error) {
	milvusCfg := client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.KeepAliveTime,
				Timeout:             cfg.KeepAliveTimeout,
				PermitWithoutStream: true,
			}),
		},
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	return milvusNewClient(connectCtx, milvusCfg)
}

func (c *Client) CheckHealth(ctx context.Context) error {
	mc := c.SDK()
	if mc == nil {
		return ErrConnectionFailed
	}
	state, err := mc.CheckHealth(ctx)
	if err != nil || (state != nil && !state.IsHealthy) {
		c.healthy.Store(false)
		if err == nil {
			return ErrUnhealthy
		}
		c.logger.Warn("Milvus health check failed", logging.Err(err))
		return ErrUnhealthy.WithCause(err)
	}
	c.healthy.Store(true)
	return nil
}

func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// HealthCheck reports the component state for the readiness endpoint.
func (c *Client) HealthCheck(ctx context.Context) common.ComponentHealth {
	start := time.Now()
	h := common.ComponentHealth{Name: "milvus", Status: common.HealthUp}
	if err := c.CheckHealth(ctx); err != nil {
		h.Status, h.Message = common.HealthDown, err.Error()
	}
	h.Latency = time.Since(start)
	return h
}

// SDK returns the current SDK client. It changes after a reconnect.
func (c *Client) SDK() client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.milvusClient
}

// Close is idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.milvusClient != nil {
			err = c.milvusClient.Close()
		}
		c.logger.Info("Milvus client closed")
	})
	return err
}

func (c *Client) startHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.CheckHealth(ctx)
			switch {
			case err == nil:
				if !prev {
					c.logger.Info("Milvus recovered")
				}
				failures = 0
				continue
			case prev:
				c.logger.Error("Milvus became unhealthy", logging.Err(err))
			}
			failures++
			if failures >= 3 {
				c.logger.Warn("Milvus consecutive failures, reconnecting")
				if err := c.reconnect(ctx); err != nil {
					c.logger.Error("Milvus reconnect failed", logging.Err(err))
				} else {
					failures = 0
				}
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	mc, err := connect(ctx, c.config)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.milvusClient
	c.milvusClient = mc
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.logger.Warn("Milvus client reconnected")
	return nil
}

func ValidateConfig(cfg ClientConfig) error {
	if cfg.Address == "" {
		return errors.New(errors.ErrCodeValidation, "milvus address is required")
	}
	if cfg.ConnectTimeout < 0 {
		return errors.New(errors.ErrCodeValidation, "ConnectTimeout must be >= 0")
	}
	return nil
}
