package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/errs"
)

func TestClient_StreamRelaysLinesVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"id\":\"1\"}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := New(config.Upstream{BaseURL: srv.URL, APIKey: "secret"})

	var lines []string
	err := c.Stream(context.Background(), chatapi.Request{Model: "gpt-test"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, "data: {\"id\":\"1\"}", lines[0])
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "data: [DONE]", lines[2])
	assert.Equal(t, "", lines[3])
}

func TestClient_StreamReturnsUpstreamErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := New(config.Upstream{BaseURL: srv.URL})
	err := c.Stream(context.Background(), chatapi.Request{}, func(string) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstream)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestClient_StreamCancelledContextStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"1\"}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(config.Upstream{BaseURL: srv.URL})

	first := true
	err := c.Stream(ctx, chatapi.Request{}, func(line string) {
		if first {
			first = false
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
