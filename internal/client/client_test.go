package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/metrics"
	"github.com/xiaot623/lazarus/internal/service"
	"github.com/xiaot623/lazarus/internal/stream"
)

const repoURL = "https://github.com/acme/legacy"

func ndjsonServer(t *testing.T, write func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/resurrect" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", stream.ContentType)
		w.WriteHeader(http.StatusOK)
		write(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeEvents(t *testing.T, w http.ResponseWriter, events ...domain.Event) {
	for _, ev := range events {
		data, err := stream.Marshal(ev)
		require.NoError(t, err)
		w.Write(data)
		w.(http.Flusher).Flush()
	}
}

func TestResurrectDeliversEventsInOrder(t *testing.T) {
	srv := ndjsonServer(t, func(w http.ResponseWriter) {
		writeEvents(t, w,
			domain.LogEvent{Message: "Initiating Deep Scan of Legacy Repository..."},
			domain.DebugEvent{Message: "plan:\nUse FastAPI."},
			domain.ResultEvent{
				Artifacts: domain.Artifacts{{Filename: "main.py", Content: "print(1)"}},
				Status:    domain.ResultStatusFallback,
			},
		)
	})

	var got []domain.Event
	err := New(srv.URL).Resurrect(context.Background(), domain.RunRequest{RepositoryURL: repoURL}, func(ev domain.Event) {
		got = append(got, ev)
	})

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.LogEvent{Message: "Initiating Deep Scan of Legacy Repository..."}, got[0])
	result, ok := got[2].(domain.ResultEvent)
	require.True(t, ok)
	assert.Equal(t, domain.ResultStatusFallback, result.Status)
	assert.Nil(t, result.Preview)
}

func TestResurrectStopsAtTerminalRecord(t *testing.T) {
	srv := ndjsonServer(t, func(w http.ResponseWriter) {
		writeEvents(t, w,
			domain.FailureEvent{Reason: "source unreachable", Kind: domain.FailureSourceUnreachable},
			domain.LogEvent{Message: "late"},
		)
	})

	var got []domain.Event
	err := New(srv.URL).Resurrect(context.Background(), domain.RunRequest{RepositoryURL: repoURL}, func(ev domain.Event) {
		got = append(got, ev)
	})

	require.NoError(t, err)
	assert.Equal(t, []domain.Event{
		domain.FailureEvent{Reason: "source unreachable", Kind: domain.FailureSourceUnreachable},
	}, got)
}

func TestResurrectSkipsMalformedRecords(t *testing.T) {
	srv := ndjsonServer(t, func(w http.ResponseWriter) {
		fmt.Fprint(w, "{not json}\n")
		fmt.Fprint(w, `{"type":"log","content":"ok"}`+"\n")
		// Terminal record split across writes and missing its newline.
		fmt.Fprint(w, `{"type":"error","content":"boom",`)
		w.(http.Flusher).Flush()
		fmt.Fprint(w, `"kind":"internal"}`)
	})

	m := metrics.New("test")
	var got []domain.Event
	err := New(srv.URL, WithMetrics(m)).Resurrect(context.Background(), domain.RunRequest{RepositoryURL: repoURL}, func(ev domain.Event) {
		got = append(got, ev)
	})

	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedRecords))
	assert.Equal(t, []domain.Event{
		domain.LogEvent{Message: "ok"},
		domain.FailureEvent{Reason: "boom", Kind: domain.FailureInternal},
	}, got)
}

func TestResurrectWithoutTerminalRecord(t *testing.T) {
	srv := ndjsonServer(t, func(w http.ResponseWriter) {
		writeEvents(t, w, domain.LogEvent{Message: "Architecting Resurrection Blueprint..."})
	})

	var got []domain.Event
	err := New(srv.URL).Resurrect(context.Background(), domain.RunRequest{RepositoryURL: repoURL}, func(ev domain.Event) {
		got = append(got, ev)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStreamTransport))
	assert.Len(t, got, 1)
}

func TestResurrectBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid request: repo_url is required"}`)
	}))
	defer srv.Close()

	err := New(srv.URL).Resurrect(context.Background(), domain.RunRequest{}, func(domain.Event) {
		t.Fatal("no events expected")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	assert.Contains(t, err.Error(), "repo_url is required")
}

func TestResurrectServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url).Resurrect(context.Background(), domain.RunRequest{RepositoryURL: repoURL}, func(domain.Event) {})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStreamTransport))
}

// commitServer fails every commit of a filename listed in reject.
type commitServer struct {
	reject map[string]bool

	mu       sync.Mutex
	requests []domain.CommitRequest
}

func (s *commitServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req domain.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid request body"}`)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	outcome := domain.DeploymentOutcome{
		Status:    domain.DeployStatusSuccess,
		Message:   "Committed to lazarus-resurrection. Ready to Merge.",
		CommitURL: "https://github.com/acme/legacy/compare/main...lazarus-resurrection",
	}
	if s.reject[req.Filename] {
		outcome = domain.DeploymentOutcome{Status: domain.DeployStatusError, Message: "commit failed: conflict"}
	}
	json.NewEncoder(w).Encode(outcome)
}

func TestCommit(t *testing.T) {
	cs := &commitServer{}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	outcome, err := New(srv.URL).Commit(context.Background(), repoURL, domain.Artifact{Filename: "main.py", Content: "print(1)"})

	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "https://github.com/acme/legacy/compare/main...lazarus-resurrection", outcome.CommitURL)
	require.Len(t, cs.requests, 1)
	assert.Equal(t, domain.CommitRequest{RepositoryURL: repoURL, Filename: "main.py", Content: "print(1)"}, cs.requests[0])
}

func TestCommitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	outcome, err := New(srv.URL).Commit(context.Background(), repoURL, domain.Artifact{Filename: "main.py"})

	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.True(t, errors.Is(err, domain.ErrCommitFailed))
	assert.Contains(t, err.Error(), "502")
}

func TestDeployOverHTTPStopsAtFirstFailure(t *testing.T) {
	cs := &commitServer{reject: map[string]bool{"b.py": true}}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	artifacts := domain.Artifacts{
		{Filename: "a.py", Content: "a"},
		{Filename: "b.py", Content: "b"},
		{Filename: "c.py", Content: "c"},
	}
	outcome := service.NewDeployer(New(srv.URL), nil).Deploy(context.Background(), repoURL, artifacts)

	assert.Equal(t, domain.DeployStatusError, outcome.Status)
	assert.Equal(t, "Failed to commit: b.py", outcome.Message)
	require.Len(t, cs.requests, 2)
	assert.Equal(t, "a.py", cs.requests[0].Filename)
	assert.Equal(t, "b.py", cs.requests[1].Filename)
}
