package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mindfulchat/internal/chat"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ chat.Recorder = (*Metrics)(nil)

func TestRecorderCounts(t *testing.T) {
	m := New()
	m.Outcome(chat.OutcomeBlocked)
	m.Outcome(chat.OutcomeBlocked)
	m.Outcome(chat.OutcomeAborted)
	m.Inflight(1)
	m.Inflight(1)
	m.Inflight(-1)
	m.RemoteDone(150 * time.Millisecond)

	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("blocked")); got != 2 {
		t.Fatalf("blocked = %v", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("fulfilled")); got != 0 {
		t.Fatalf("fulfilled = %v", got)
	}
	if got := testutil.ToFloat64(m.inflight); got != 1 {
		t.Fatalf("inflight = %v", got)
	}
	if n := testutil.CollectAndCount(m.outcomes); n != len(chat.Outcomes()) {
		t.Fatalf("expected every outcome pre-registered, got %d series", n)
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.Gauge("active_clients", "Clients held in memory.", func() float64 { return 3 })
	m.Outcome(chat.OutcomeFulfilled)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"mindfulchat_active_clients 3",
		`mindfulchat_pipeline_outcomes_total{outcome="fulfilled"} 1`,
		"mindfulchat_remote_request_seconds_bucket",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
