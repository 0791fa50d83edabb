package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.ObserveRequest(200, 10*time.Millisecond)
	c.ObserveRequest(200, 10*time.Millisecond)
	c.ObserveRequest(404, time.Millisecond)
	c.IncRetry()
	c.IncRateLimited()
	c.IncEntity("task", "ok")
	c.IncDocument(true, 2048)
	c.IncDocument(false, 0)
	c.AddRows("tasks", "inserted", 5)
	c.AddRows("tasks", "failed", 0)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"2xx requests", testutil.ToFloat64(c.requestsTotal.WithLabelValues("2xx")), 2},
		{"4xx requests", testutil.ToFloat64(c.requestsTotal.WithLabelValues("4xx")), 1},
		{"retries", testutil.ToFloat64(c.retriesTotal), 1},
		{"rate limited", testutil.ToFloat64(c.rateLimited), 1},
		{"task entities", testutil.ToFloat64(c.entitiesTotal.WithLabelValues("task", "ok")), 1},
		{"ok documents", testutil.ToFloat64(c.documentsTotal.WithLabelValues("ok")), 1},
		{"failed documents", testutil.ToFloat64(c.documentsTotal.WithLabelValues("failed")), 1},
		{"bytes", testutil.ToFloat64(c.bytesTotal), 2048},
		{"inserted rows", testutil.ToFloat64(c.rowsTotal.WithLabelValues("tasks", "inserted")), 5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveRequest(200, time.Second)
	c.IncRetry()
	c.IncRateLimited()
	c.IncEntity("project", "failed")
	c.IncDocument(true, 1)
	c.AddRows("projects", "inserted", 1)
	if err := c.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("WriteTextfile on nil collector: %v", err)
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := New()
	c.IncRetry()

	path := filepath.Join(t.TempDir(), "_metadata", "metrics.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "tgmigrate_retries_total 1") {
		t.Errorf("textfile missing retries counter:\n%s", data)
	}
}
