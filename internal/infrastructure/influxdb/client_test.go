package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/influxdb"
)

// fakeInflux is a minimal InfluxDB v2 HTTP endpoint: it answers pings and
// records line-protocol bodies posted to the write API.
type fakeInflux struct {
	srv *httptest.Server

	mu         sync.Mutex
	lines      []string
	pingStatus int
	writeQuery []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			f.mu.Lock()
			status := f.pingStatus
			f.mu.Unlock()
			w.WriteHeader(status)
		case strings.HasSuffix(r.URL.Path, "/api/v2/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writeQuery = append(f.writeQuery, r.URL.RawQuery)
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) setPingStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingStatus = status
}

// waitForLines polls until at least n lines have been written.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.lines) >= n {
			out := append([]string(nil), f.lines...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("got %d written lines, want >= %d", len(f.lines), n)
	return nil
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.srv.URL,
		Token:         "test-token",
		Org:           "rfid",
		Bucket:        "bridge",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"}

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	f := newFakeInflux(t)
	f.setPingStatus(http.StatusServiceUnavailable)

	_, err := influxdb.Connect(f.config())
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	tests := []struct {
		name          string
		batchSize     int
		flushInterval int
	}{
		{"zero", 0, 0},
		{"negative", -5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeInflux(t)
			cfg := f.config()
			cfg.BatchSize = tt.batchSize
			cfg.FlushInterval = tt.flushInterval

			client, err := influxdb.Connect(cfg)
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			defer client.Close()

			if !client.IsConnected() {
				t.Error("IsConnected() = false after Connect() with default batch settings")
			}
		})
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWritePoint(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WritePoint("bridge",
		map[string]string{"team_id": "its_ace"},
		map[string]any{"messages_forwarded": 120, "state": "running"})
	client.Flush()

	lines := f.waitForLines(t, 1)
	line := lines[0]
	if !strings.HasPrefix(line, "bridge,team_id=its_ace ") {
		t.Errorf("line = %q, want prefix %q", line, "bridge,team_id=its_ace ")
	}
	if !strings.Contains(line, "messages_forwarded=120i") {
		t.Errorf("line = %q, want messages_forwarded=120i", line)
	}
	if !strings.Contains(line, `state="running"`) {
		t.Errorf("line = %q, want state=\"running\"", line)
	}

	f.mu.Lock()
	query := f.writeQuery[0]
	f.mu.Unlock()
	if !strings.Contains(query, "bucket=bridge") || !strings.Contains(query, "org=rfid") {
		t.Errorf("write query = %q, want org and bucket", query)
	}
}

func TestWritePointWithTime(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Unix(1700000000, 0)
	client.WritePointWithTime("sessions", nil, map[string]any{"active": 3}, at)
	client.Flush()

	lines := f.waitForLines(t, 1)
	if want := "sessions active=3i 1700000000000000000"; lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
}

func TestWritePoint_NoFieldsDropped(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WritePoint("empty", nil, nil)
	client.WritePoint("kept", nil, map[string]any{"v": 1})
	client.Close()

	lines := f.waitForLines(t, 1)
	for _, l := range lines {
		if strings.HasPrefix(l, "empty") {
			t.Errorf("point without fields was written: %q", l)
		}
	}
}

func TestWritePoint_AfterCloseIsNoop(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	// Must not panic or block.
	client.WritePoint("late", nil, map[string]any{"v": 1})
	client.Flush()
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
