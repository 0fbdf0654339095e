package httpserver

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/metrics"
	"github.com/toolmesh/toolmeshd/pkg/reasoning"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
	"github.com/toolmesh/toolmeshd/pkg/upstream"
)

func testServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()
	reg := toolserver.NewRegistry()
	cat := catalog.New(reg)
	cfg := config.Config{
		ListenAddr: ":0",
		Upstream:   config.Upstream{Provider: "openai", BaseURL: upstreamURL, Model: "gpt-test"},
		Reasoning:  config.Reasoning{Enabled: false},
	}
	pipeline := reasoning.New(cfg.Reasoning, nil, cat, "", "")
	up := upstream.New(cfg.Upstream)
	m := metrics.New()
	return New(cfg, reg, cat, pipeline, up, m)
}

func TestServer_HealthReportsOK(t *testing.T) {
	s := testServer(t, "http://unused")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_ChatCompletionsRejectsNonStreaming(t *testing.T) {
	s := testServer(t, "http://unused")
	body := strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream must be true")
}

func TestServer_ChatCompletionsStreamsUpstreamAndTerminatesWithDone(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstreamSrv.Close()

	s := testServer(t, upstreamSrv.URL)
	body := strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	req = req.WithContext(context.Background())
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	lines := scanLines(rec.Body.String())
	require.NotEmpty(t, lines)
	assert.Equal(t, "data: [DONE]", lines[len(lines)-1])

	var sawUpstreamDelta, doneCount int
	for _, l := range lines {
		if strings.Contains(l, `"content":"hi"`) {
			sawUpstreamDelta++
		}
		if l == "data: [DONE]" {
			doneCount++
		}
	}
	assert.Equal(t, 1, sawUpstreamDelta)
	assert.Equal(t, 1, doneCount, "stream must end in exactly one DONE frame")
}

func scanLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out
}
