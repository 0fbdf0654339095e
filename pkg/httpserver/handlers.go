package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/chatapi"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/metrics"
	"github.com/toolmesh/toolmeshd/pkg/reasoning"
	"github.com/toolmesh/toolmeshd/pkg/tokens"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
	"github.com/toolmesh/toolmeshd/pkg/upstream"
)

type handler struct {
	cfg      config.Config
	reg      *toolserver.Registry
	cat      *catalog.Catalog
	pipeline *reasoning.Pipeline
	upstream *upstream.Client
	metrics  *metrics.Metrics
}

// handleHealth reports process liveness plus a per-server connection
// snapshot, the shape spec §6.1 calls the health check.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	type serverHealth struct {
		Name      string `json:"name"`
		Connected bool   `json:"connected"`
	}
	servers := h.reg.List()
	out := make([]serverHealth, 0, len(servers))
	healthy := true
	for _, s := range servers {
		connected := s.Status == toolserver.StatusConnected
		if !connected {
			healthy = false
		}
		out = append(out, serverHealth{Name: s.Config.Name, Connected: connected})
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "servers": out})
}

// handleModels reports the single upstream model this proxy forwards
// to, in the OpenAI-compatible models-list envelope.
func (h *handler) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": h.cfg.Upstream.Model, "object": "model", "owned_by": h.cfg.Upstream.Provider},
		},
	})
}

func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "toolmeshd"})
}

// handleChatCompletions implements the streaming-only boundary of
// spec §6.1/§6.3: the reasoning pipeline's synthetic events are
// flushed first in full (invariant 6), then the upstream's own SSE
// lines are relayed byte-for-byte, and exactly one `[DONE]` frame
// closes the stream regardless of where a failure occurred
// (invariant 5).
func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatapi.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !req.Stream {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "stream must be true: this endpoint only supports streaming responses"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages must not be empty"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	writeChunk := func(c chatapi.Chunk) {
		_, _ = w.Write(c.Encode())
		if canFlush {
			flusher.Flush()
		}
	}

	augmented := h.pipeline.Run(r.Context(), req, writeChunk)
	h.metrics.RecordPromptTokens(augmented.Model, tokens.CountMessages(augmented.Model, augmented.Messages))

	// The upstream's own SSE stream already ends in its own
	// `data: [DONE]` line; that one is swallowed here and the proxy
	// emits its own single DONE frame below so the client never sees
	// two in a row (spec §8 invariant 5).
	err := h.upstream.Stream(r.Context(), augmented, func(line string) {
		if strings.TrimSpace(line) == "data: [DONE]" {
			return
		}
		_, _ = w.Write([]byte(line + "\n"))
		if canFlush {
			flusher.Flush()
		}
	})
	if err != nil && r.Context().Err() == nil {
		slog.Error("upstream stream failed", "error", err)
		_, _ = w.Write(chatapi.EncodeError(err.Error()))
		if canFlush {
			flusher.Flush()
		}
	}

	_, _ = w.Write([]byte(chatapi.DoneFrame))
	if canFlush {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
