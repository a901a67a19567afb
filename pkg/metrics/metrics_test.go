package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServerExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CacheHitsTotal.Inc()
	m.ProbeAvailable.WithLabelValues("analytics").Set(1)

	srv := httptest.NewServer(NewServer(0, reg).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"analytics_cache_hits_total 1", `upstream_available{upstream="analytics"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}

	idx, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	idx.Body.Close()
	if idx.StatusCode != http.StatusOK {
		t.Errorf("index status = %d", idx.StatusCode)
	}
	other, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	other.Body.Close()
	if other.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", other.StatusCode)
	}
}
