package influxdb_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/diagbridge/internal/infrastructure/config"
	"github.com/nerrad567/diagbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/diagbridge/internal/result"
)

// fakeServer answers /ping and records every line protocol body written.
type fakeServer struct {
	*httptest.Server
	mu     sync.Mutex
	writes []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ping":
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/v2/write" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			fs.mu.Lock()
			fs.writes = append(fs.writes, string(body))
			fs.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) body() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return strings.Join(fs.writes, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "diagbridge-test-token",
		Org:           "diagbridge",
		Bucket:        "diagnostics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_WritesReachServer(t *testing.T) {
	srv := newFakeServer(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.WritePing("uuid:U1", "/com/graylogic/Diagnostics/0", result.PingResult{Status: "Success", SuccessCount: 3})
	client.WriteDeviceEvent("uuid:U1", "/com/graylogic/Diagnostics/0", influxdb.EventFound)
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		body := srv.body()
		if strings.Contains(body, "diag_ping,") && strings.Contains(body, "diag_device,") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("server received %q, want diag_ping and diag_device points", srv.body())
}

func TestClose(t *testing.T) {
	srv := newFakeServer(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(t.Context()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and Flush after Close are no-ops.
	client.WriteDeviceEvent("uuid:U1", "/x/0", influxdb.EventLost)
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
