package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabelScores(t *testing.T) {
	labels := []string{"financial", "legal", "general"}

	t.Run("normalises and drops unknown labels", func(t *testing.T) {
		scores, err := parseLabelScores("Sure! {\"financial\": 0.6, \"legal\": 0.2, \"sports\": 0.9}", labels)
		require.NoError(t, err)
		assert.InDelta(t, 0.75, scores["financial"], 1e-9)
		assert.InDelta(t, 0.25, scores["legal"], 1e-9)
		assert.Equal(t, 0.0, scores["general"])
		assert.NotContains(t, scores, "sports")
	})

	t.Run("rejects output without json", func(t *testing.T) {
		_, err := parseLabelScores("financial", labels)
		assert.Error(t, err)
	})

	t.Run("rejects all-zero scores", func(t *testing.T) {
		_, err := parseLabelScores(`{"financial": 0}`, labels)
		assert.Error(t, err)
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			content := "1. invoices from 2023\n2. billing documents"
			if msgs, ok := req["messages"].([]any); ok && len(msgs) == 2 {
				content = `{"financial": 3, "general": 1}`
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "cmpl-1",
				"object":  "chat.completion",
				"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
				"usage":   map[string]any{"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8},
			})
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			data := make([]any, 0, len(req.Input))
			for i := range req.Input {
				data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1}})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestClient(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClient(Options{
		APIKey:         "test",
		BaseURL:        srv.URL + "/v1",
		Model:          "gpt-3.5-turbo",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        5 * time.Second,
	})

	t.Run("generate", func(t *testing.T) {
		out, err := c.Generate(t.Context(), "rephrase: find invoice")
		require.NoError(t, err)
		assert.Contains(t, out, "billing documents")
	})

	t.Run("encode batch keeps order", func(t *testing.T) {
		vecs, err := c.EncodeBatch(t.Context(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Equal(t, float32(2), vecs[2][0])
	})

	t.Run("zero shot", func(t *testing.T) {
		scores, err := c.ZeroShot(t.Context(), "quarterly revenue", []string{"financial", "general"})
		require.NoError(t, err)
		assert.InDelta(t, 0.75, scores["financial"], 1e-9)
	})
}
