package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestGetHealthReflectsRegisteredComponents(t *testing.T) {
	resetHealthChecker()
	SetVersion("test-build")
	RegisterComponent("platform", true, "")
	RegisterComponent("registry", true, "")

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Len(t, health.Components, 2)
	require.Equal(t, "test-build", health.Version)
}

func TestGetHealthUnhealthyWhenAnyComponentIsUnhealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("platform", true, "")
	RegisterComponent("scheduler", false, "connection reset")

	health := GetHealth()
	require.Equal(t, "unhealthy", health.Status)
	require.Equal(t, "unhealthy: connection reset", health.Components["scheduler"])
}

func TestGetReadinessWaitsForEveryCriticalComponent(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("platform", true, "")
	// registry and scheduler not yet registered

	readiness := GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
	require.NotEmpty(t, readiness.Message)
	require.Equal(t, "not registered", readiness.Components["registry"])
}

func TestGetReadinessNotReadyWhenSchedulerDisconnected(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("platform", true, "")
	RegisterComponent("registry", true, "")
	RegisterComponent("scheduler", false, "waiting for connection")

	readiness := GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
}

func TestGetReadinessReadyOnceAllThreeConnect(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("platform", true, "")
	RegisterComponent("registry", true, "")
	RegisterComponent("scheduler", true, "")

	readiness := GetReadiness()
	require.Equal(t, "ready", readiness.Status)
}

func TestUpdateComponentOverwritesPriorStatus(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("scheduler", false, "waiting for connection")
	UpdateComponent("scheduler", true, "connected")

	comp := healthChecker.components["scheduler"]
	require.True(t, comp.Healthy)
	require.Equal(t, "connected", comp.Message)
}

func TestHealthHandlerServesJSONWithStatusCode(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("platform", false, "load failed")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	require.Equal(t, 503, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	require.Equal(t, "unhealthy", health.Status)
}

func TestReadyHandlerServesJSONWithStatusCode(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("platform", true, "")
	RegisterComponent("registry", true, "")
	RegisterComponent("scheduler", true, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	require.Equal(t, 200, w.Code)

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	require.Equal(t, "ready", readiness.Status)
}

func TestLivenessHandlerAlwaysReportsAlive(t *testing.T) {
	resetHealthChecker()

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()
	LivenessHandler()(w, req)

	require.Equal(t, 200, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, "alive", response["status"])
	require.NotEmpty(t, response["uptime"])
}
