package monitoring

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler(t *testing.T) {
	FramesSent.Add(3)
	APECSMessages.WithLabelValues("query").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"zeus2be_stream_frames_sent_total", "zeus2be_apecs_messages_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestDirectiveCounter(t *testing.T) {
	before := testutil.ToFloat64(DirectivesTotal.WithLabelValues("configure", "ok"))
	DirectivesTotal.WithLabelValues("configure", "ok").Inc()
	after := testutil.ToFloat64(DirectivesTotal.WithLabelValues("configure", "ok"))
	if after-before != 1 {
		t.Errorf("counter moved by %v, want 1", after-before)
	}
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zeus2be.log")
	w := OpenLogFile(LogFileOptions{Path: path})
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRedirectStdLogWithoutFile(t *testing.T) {
	c := RedirectStdLog(LogFileOptions{})
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
