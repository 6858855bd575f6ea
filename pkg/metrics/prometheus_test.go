package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_ServesRegistry(t *testing.T) {
	srv := httptest.NewServer(Router(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + DefaultPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(srv.URL+DefaultPath, "text/plain", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestPush_SendsToGateway(t *testing.T) {
	var gotPath string
	var gotBody []byte
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_pushed_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	require.NoError(t, Push(context.Background(), gw.URL, "etxbatch", reg))
	assert.Equal(t, "/metrics/job/etxbatch", gotPath)
	assert.NotEmpty(t, gotBody)
}
