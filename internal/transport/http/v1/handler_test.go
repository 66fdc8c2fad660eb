package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/metrics"
	"github.com/xiaot623/lazarus/internal/stream"
)

type fakeRunner struct {
	events  []domain.Event
	outcome domain.DeploymentOutcome

	mu      sync.Mutex
	runs    []domain.RunRequest
	commits []domain.CommitRequest
}

func (f *fakeRunner) Resurrect(ctx context.Context, req domain.RunRequest) <-chan domain.Event {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	out := make(chan domain.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out
}

func (f *fakeRunner) CommitArtifact(ctx context.Context, req domain.CommitRequest) domain.DeploymentOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, req)
	return f.outcome
}

func sampleEvents() []domain.Event {
	preview := "<!DOCTYPE html><html></html>"
	return []domain.Event{
		domain.LogEvent{Message: "Initiating Deep Scan of Legacy Repository..."},
		domain.DebugEvent{Message: "STDOUT: ok"},
		domain.ResultEvent{
			Artifacts: domain.Artifacts{{Filename: "modernized_stack/backend/main.py", Content: "print(1)"}},
			Preview:   &preview,
			Status:    domain.ResultStatusResurrected,
			Logs:      "Initiating Deep Scan of Legacy Repository...",
		},
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h := NewHandler(&fakeRunner{}, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, h.Health(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"0.1.0"}`, rec.Body.String())
}

func TestResurrectStreamsNDJSON(t *testing.T) {
	e := echo.New()
	runner := &fakeRunner{events: sampleEvents()}
	h := NewHandler(runner, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/resurrect",
		`{"repo_url":"https://github.com/acme/legacy","vibe_instructions":"make it fast"}`), rec)
	require.NoError(t, h.Resurrect(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	lines := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n"), "\n")
	assert.Len(t, lines, 3)

	var got []domain.Event
	err := stream.Decode(rec.Body, func(ev domain.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, sampleEvents(), got)

	require.Len(t, runner.runs, 1)
	assert.Equal(t, "https://github.com/acme/legacy", runner.runs[0].RepositoryURL)
	assert.Equal(t, "make it fast", runner.runs[0].Intent)
}

func TestResurrectAcceptsAliases(t *testing.T) {
	e := echo.New()
	runner := &fakeRunner{events: sampleEvents()}
	h := NewHandler(runner, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/resurrect",
		`{"repository_reference":"https://github.com/acme/legacy","intent":"port to go"}`), rec)
	require.NoError(t, h.Resurrect(c))

	require.Len(t, runner.runs, 1)
	assert.Equal(t, "https://github.com/acme/legacy", runner.runs[0].RepositoryURL)
	assert.Equal(t, "port to go", runner.runs[0].Intent)
}

func TestResurrectRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"repo_url":`},
		{"missing repository", `{"vibe_instructions":"x"}`},
		{"not a url", `{"repo_url":"acme/legacy"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			runner := &fakeRunner{events: sampleEvents()}
			h := NewHandler(runner, nil)

			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPost, "/api/resurrect", tt.body), rec)
			require.NoError(t, h.Resurrect(c))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, "invalid request")
			assert.Empty(t, runner.runs)
		})
	}
}

func TestCommitReturnsOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.DeploymentOutcome
	}{
		{"success", domain.DeploymentOutcome{
			Status:    domain.DeployStatusSuccess,
			Message:   "Committed to lazarus-resurrection. Ready to Merge.",
			CommitURL: "https://github.com/acme/legacy/compare/main...lazarus-resurrection",
		}},
		{"error", domain.DeploymentOutcome{
			Status:  domain.DeployStatusError,
			Message: "denied by artifact policy: path traversal",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			runner := &fakeRunner{outcome: tt.outcome}
			h := NewHandler(runner, nil)

			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPost, "/api/commit",
				`{"repository_reference":"https://github.com/acme/legacy","filename":"main.py","content":"print(1)"}`), rec)
			require.NoError(t, h.Commit(c))

			assert.Equal(t, http.StatusOK, rec.Code)
			var got domain.DeploymentOutcome
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.outcome, got)

			require.Len(t, runner.commits, 1)
			assert.Equal(t, "https://github.com/acme/legacy", runner.commits[0].Normalize().RepositoryURL)
			assert.Equal(t, "main.py", runner.commits[0].Filename)
		})
	}
}

func TestCommitMalformedBody(t *testing.T) {
	e := echo.New()
	runner := &fakeRunner{}
	h := NewHandler(runner, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/commit", `not json`), rec)
	require.NoError(t, h.Commit(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.commits)
}

func dialRun(t *testing.T, runner Runner, m *metrics.Metrics) *websocket.Conn {
	t.Helper()
	e := echo.New()
	NewHandler(runner, m).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/resurrect/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

// readUntilClose reads frames until the server closes the connection.
func readUntilClose(t *testing.T, ws *websocket.Conn) ([]domain.Event, *websocket.CloseError) {
	t.Helper()
	var events []domain.Event
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			return events, ce
		}
		require.Equal(t, websocket.TextMessage, kind)
		assert.NotContains(t, string(data), "\n")
		ev, err := stream.Unmarshal(data)
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestResurrectWSMatchesNDJSON(t *testing.T) {
	runner := &fakeRunner{events: sampleEvents()}
	ws := dialRun(t, runner, metrics.New("test"))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"repo_url":"https://github.com/acme/legacy"}`)))

	events, closeErr := readUntilClose(t, ws)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, sampleEvents(), events)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.runs, 1)
	assert.Equal(t, domain.DefaultIntent, runner.runs[0].Intent)
}

func TestResurrectWSRejectsInvalidRequest(t *testing.T) {
	runner := &fakeRunner{events: sampleEvents()}
	ws := dialRun(t, runner, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{}`)))

	events, closeErr := readUntilClose(t, ws)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	require.Len(t, events, 1)
	failure, ok := events[0].(domain.FailureEvent)
	require.True(t, ok)
	assert.Equal(t, domain.FailureInvalidRequest, failure.Kind)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.runs)
}
