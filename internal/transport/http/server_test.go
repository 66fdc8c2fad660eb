package http

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/metrics"
)

type nopRunner struct{}

func (nopRunner) Resurrect(ctx context.Context, req domain.RunRequest) <-chan domain.Event {
	out := make(chan domain.Event, 1)
	out <- domain.FailureEvent{Reason: "source unreachable", Kind: domain.FailureSourceUnreachable}
	close(out)
	return out
}

func (nopRunner) CommitArtifact(ctx context.Context, req domain.CommitRequest) domain.DeploymentOutcome {
	return domain.DeploymentOutcome{Status: domain.DeployStatusError, Message: "GITHUB_TOKEN is missing"}
}

func TestServerExposesMetrics(t *testing.T) {
	srv := httptest.NewServer(NewServer(nopRunner{}, metrics.New("lazarus_test")))
	defer srv.Close()

	resp, err := nethttp.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, err = nethttp.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `lazarus_test_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestServerSetsCORSHeader(t *testing.T) {
	srv := httptest.NewServer(NewServer(nopRunner{}, nil))
	defer srv.Close()

	req, err := nethttp.NewRequest(nethttp.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServerWithoutMetricsHasNoMetricsRoute(t *testing.T) {
	srv := httptest.NewServer(NewServer(nopRunner{}, nil))
	defer srv.Close()

	resp, err := nethttp.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}
