package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceview/internal/tracetree"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserver(t *testing.T) {
	m := New()
	var observer tracetree.Observer = m

	observer.ObserveFetch(120*time.Millisecond, nil)
	observer.ObserveFetch(30*time.Millisecond, errors.New("boom"))
	observer.ObserveSharedFetch()
	observer.ObserveSharedFetch()

	body := scrape(t, m)
	assert.Contains(t, body, `traceview_span_fetches_total{result="ok"} 1`)
	assert.Contains(t, body, `traceview_span_fetches_total{result="error"} 1`)
	assert.Contains(t, body, "traceview_span_fetches_shared_total 2")
	assert.Contains(t, body, "traceview_span_fetch_duration_seconds_count 2")
}

func TestHandler(t *testing.T) {
	m := New()
	m.OpenViews.Set(3)
	m.Operations.WithLabelValues("expand").Inc()

	body := scrape(t, m)
	assert.Contains(t, body, "traceview_open_views 3")
	assert.Contains(t, body, `traceview_view_operations_total{operation="expand"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveSharedFetch()
	assert.Contains(t, scrape(t, a), "traceview_span_fetches_shared_total 1")
	assert.Contains(t, scrape(t, b), "traceview_span_fetches_shared_total 0")
}
