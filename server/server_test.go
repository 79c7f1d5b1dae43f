package server_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcwatch/rtcwatch/internal/server/config"
	"github.com/rtcwatch/rtcwatch/internal/util/testutil"
	"github.com/rtcwatch/rtcwatch/server"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func testConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Addr: addr, DataDir: t.TempDir()},
		Ingest: config.IngestConfig{MaxBodyBytes: 1 << 20, DedupMemoSize: 10, MaxWriteRetries: 3},
		API:    config.APIConfig{SessionListLimit: 1000, PageSize: 30, MaxPageSize: 200},
	}
}

func TestServerLifecycle(t *testing.T) {
	addr := freeAddr(t)
	srv, err := server.NewServer(testConfig(t, addr))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	base := fmt.Sprintf("http://%s", addr)
	testutil.RequireEventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "server never became healthy")

	// Prometheus metrics are served outside the API router.
	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-serveErr)
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, ":0")
	cfg.Ingest.MaxBodyBytes = 0
	_, err := server.NewServer(cfg)
	assert.Error(t, err)
}
