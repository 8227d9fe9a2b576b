package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cfoust/tether/pkg/config"
	"github.com/cfoust/tether/pkg/ingress"
	"github.com/cfoust/tether/pkg/metrics"
	"github.com/cfoust/tether/pkg/server"
	"github.com/cfoust/tether/pkg/sim"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromDefaultConfig(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)

	options := serverOptions(cfg.Server)
	assert.Equal(t, time.Second/60, options.TickInterval)
	assert.EqualValues(t, 30, options.ResyncCadence)
	assert.Equal(t, 30*time.Second, options.ResumeWindow)
	assert.Equal(t, "welcome", options.WelcomeMessage)

	wsOptions := ingressOptions(cfg.Server)
	assert.Equal(t, 64, wsOptions.SendQueueSize)
	assert.Equal(t, 60, wsOptions.InputBurst)

	assert.Equal(t, "actor:", mirrorOptions(cfg.Server.Redis).KeyPrefix)
}

func TestRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	gameServer := server.New(server.DefaultOptions(), sim.NewWorld(sim.DefaultRules()), m)
	ws := ingress.NewWSIngress(ingress.DefaultOptions(), gameServer, ingress.NewIDAllocator(1), m)

	httpServer := httptest.NewServer(routes(ws, gameServer, registry))
	defer httpServer.Close()

	response, err := http.Get(httpServer.URL + "/api/status")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "application/cbor", response.Header.Get("Content-Type"))

	var status ingress.StatusMessage
	require.NoError(t, cbor.NewDecoder(response.Body).Decode(&status))
	assert.Zero(t, status.Connections)

	metricsResponse, err := http.Get(httpServer.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResponse.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResponse.StatusCode)

	missing, err := http.Get(httpServer.URL + "/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
