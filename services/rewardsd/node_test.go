package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	rewardsdconfig "poolrewards/services/rewardsd/config"
)

func testConfig(t *testing.T) rewardsdconfig.Config {
	t.Helper()
	cfg, err := rewardsdconfig.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.GenesisPath = filepath.Join(dir, "genesis.toml")
	cfg.Journal.DSN = "sqlite://" + filepath.Join(dir, "journal.db")
	cfg.Observability.LogRequests = false
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestBuildNodeServesDefaultGenesis(t *testing.T) {
	cfg := testConfig(t)
	n, err := buildNode(cfg, quietLogger())
	require.NoError(t, err)
	defer n.Close()
	require.NotNil(t, n.journal)
	require.Len(t, n.controller.Distributors(), 1)
	require.FileExists(t, cfg.GenesisPath)

	h, err := n.handler(cfg, quietLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/distributors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"rewardToken":"RWD"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events?type=rewards.speed_updated", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "rewards.speed_updated")
}

func TestBuildNodeReopensPersistentState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.DSN = ""
	cfg.DataDir = t.TempDir()

	first, err := buildNode(cfg, quietLogger())
	require.NoError(t, err)
	height, err := first.controller.AdvanceBlocks(7)
	require.NoError(t, err)
	first.Close()

	var logs bytes.Buffer
	second, err := buildNode(cfg, slog.New(slog.NewJSONHandler(&logs, nil)))
	require.NoError(t, err)
	defer second.Close()
	got, err := second.controller.BlockHeight()
	require.NoError(t, err)
	require.Equal(t, height, got)

	var ready struct {
		Msg            string `json:"msg"`
		Height         uint64 `json:"height"`
		GenesisApplied bool   `json:"genesis_applied"`
	}
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == "controller ready" {
			require.NoError(t, json.Unmarshal(line, &ready))
		}
	}
	require.Equal(t, "controller ready", ready.Msg)
	require.Equal(t, height, ready.Height)
	require.False(t, ready.GenesisApplied)
}

func TestHealthStatusFollowsPause(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.DSN = ""
	n, err := buildNode(cfg, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(n.controller, n.pauses))
	n.pauses.Set("controller", true)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(n.controller, n.pauses))
}

func TestTelemetryConfigEnvOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Endpoint = "collector:4318"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel.internal:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	out := telemetryConfig(cfg, "prod")
	require.Equal(t, "otel.internal:4318", out.Endpoint)
	require.False(t, out.Insecure)
	require.Equal(t, "rewardsd", out.ServiceName)
}
