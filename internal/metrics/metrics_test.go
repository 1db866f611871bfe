package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestCountersRegistered(t *testing.T) {
	CyclesTotal.WithLabelValues("BTCUSDT").Inc()
	DecisionsTotal.WithLabelValues("BTCUSDT", "HOLD").Inc()
	IntentsTotal.WithLabelValues("BTCUSDT", "CONFIRMED").Inc()
	RetriesTotal.WithLabelValues("submit").Inc()
	ReconcilePassesTotal.Inc()

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"tradeguard_decision_cycles_total",
		"tradeguard_decisions_total",
		"tradeguard_intents_total",
		"tradeguard_external_retries_total",
		"tradeguard_reconcile_passes_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metric %s missing from scrape", name)
		}
	}
}
