package preview

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lazarus/internal/config"
)

func TestPublish(t *testing.T) {
	var uploaded string
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/previews-bucket/previews/run_1234/preview.html" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		uploaded = string(body)
		contentType = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store, err := NewStore(config.PreviewConfig{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "previews-bucket",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	url, err := store.Publish(context.Background(), "run_1234", "<html>hi</html>", 30*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, uploaded, "<html>hi</html>")
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Contains(t, url, "/previews-bucket/previews/run_1234/preview.html")
	assert.Contains(t, url, "X-Amz-Expires=1800")
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(config.PreviewConfig{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewStore(config.PreviewConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "previews/run_ab12cd34/preview.html", Key("run_ab12cd34"))
}
