package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/internal/config"
)

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := config.HTTPConfig{Host: "127.0.0.1", Port: 18089, ReadTimeout: time.Second, WriteTimeout: time.Second}
	srv := NewServer(cfg, NewRouter(RouterConfig{Mode: gin.TestMode}), nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18089/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
