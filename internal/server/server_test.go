package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtbridge/internal/config"
	"rtbridge/internal/database"
	"rtbridge/internal/jsonrpc"
	"rtbridge/internal/plugin"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{
		"public": {"motd": "hello"},
		"private": {"token": "s3cr3t"}
	}`), 0o600))

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.WSPort = 0
	cfg.SeedFile = seed
	cfg.Rules = map[string]string{
		"/public": "true",
	}
	return cfg
}

func call(t *testing.T, conn *websocket.Conn, method string, params interface{}) *jsonrpc.Response {
	t.Helper()
	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(1))
	require.NoError(t, err)
	data, err := req.Bytes()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	resp, err := jsonrpc.ParseResponse(msg)
	require.NoError(t, err)
	return resp
}

func TestServerLifecycle(t *testing.T) {
	srv, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())
	assert.Equal(t, "hello", srv.Database().Get("/public/motd").Value)

	require.NoError(t, srv.Start())
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, plugin.MethodQueryGet, map[string]any{"path": "/public"})
	require.False(t, resp.HasError())
	var snap database.DataSnapshot
	require.NoError(t, resp.GetResultAs(&snap))
	assert.Equal(t, map[string]any{"motd": "hello"}, snap.Value)

	resp = call(t, conn, plugin.MethodQueryGet, map[string]any{"path": "/private"})
	require.True(t, resp.HasError())
	assert.Equal(t, jsonrpc.CodePermissionDenied, resp.Error.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	// The connection is closed by the server on shutdown
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestNewErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules = map[string]string{"/broken": "data ==="}
	_, err := New(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to compile rules")

	cfg = testConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "missing.json")
	_, err = New(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to read seed file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"a.b": 1}`), 0o600))
	cfg = testConfig(t)
	cfg.SeedFile = bad
	_, err = New(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to load seed")
}
