package httpserver_test

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerConfig(t *testing.T) {
	config := httpserver.DefaultServerConfig()

	assert.Equal(t, httpserver.DefaultHost, config.Host)
	assert.Equal(t, httpserver.DefaultPort, config.Port)
	assert.Equal(t, httpserver.DefaultReadTimeout, config.ReadTimeout)
	assert.Equal(t, httpserver.DefaultWriteTimeout, config.WriteTimeout)
	assert.Equal(t, httpserver.DefaultShutdownTimeout, config.ShutdownTimeout)
}

func TestNewServer(t *testing.T) {
	server := httpserver.NewServer(httpserver.ServerConfig{
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 20 * time.Second,
	}, nil)

	require.NotNil(t, server.Echo())
	assert.Equal(t, 15*time.Second, server.Echo().Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, server.Echo().Server.WriteTimeout)
	assert.Equal(t, httpserver.DefaultMaxHeaderBytes, server.Echo().Server.MaxHeaderBytes)
}

func TestServerAddress(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{name: "default", host: "0.0.0.0", port: 8080, expected: "0.0.0.0:8080"},
		{name: "localhost", host: "localhost", port: 3000, expected: "localhost:3000"},
		{name: "ipv6", host: "::1", port: 9000, expected: "[::1]:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httpserver.NewServer(httpserver.ServerConfig{Host: tt.host, Port: tt.port}, nil)
			assert.Equal(t, tt.expected, server.Address())
		})
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := httpserver.NewServer(httpserver.DefaultServerConfig(), slog.New(slog.DiscardHandler))
	server.Echo().GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	url := fmt.Sprintf("http://%s/ping", listener.Addr().String())
	require.Eventually(t, func() bool {
		resp, getErr := http.Get(url) //nolint:noctx // test helper
		if getErr != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Shutdown(context.Background()))

	select {
	case serveErr := <-done:
		require.NoError(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            "127.0.0.1",
		Port:            freePort(t),
		ShutdownTimeout: time.Second,
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, dialErr := net.Dial("tcp", server.Address())
		if dialErr != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}
