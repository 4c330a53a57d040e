package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/walvault/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetricsServer_Endpoints(t *testing.T) {
	s := NewMetricsServer(&config.DebugConfig{
		ListenAddress:    "127.0.0.1:0",
		PProfEnabled:     true,
		MetricsEnabled:   true,
		MonitorUIEnabled: true,
	}, testLogger())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	t.Run("Metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "memstats")
	})

	t.Run("PProfIndex", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/debug/pprof/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestMetricsServer_DisabledEndpoints(t *testing.T) {
	s := NewMetricsServer(&config.DebugConfig{
		ListenAddress:  "127.0.0.1:0",
		PProfEnabled:   false,
		MetricsEnabled: false,
	}, testLogger())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsServer_StopBeforeStartIsNoop(t *testing.T) {
	s := NewMetricsServer(&config.DebugConfig{ListenAddress: "127.0.0.1:0"}, testLogger())
	s.Stop()
}

func TestSystemCollector_StartStop(t *testing.T) {
	sc := NewSystemCollector(t.TempDir(), 10*time.Millisecond, testLogger())
	sc.Start()
	time.Sleep(50 * time.Millisecond)
	sc.Stop()
}
