package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-search/backend/internal/api/handlers"
	"github.com/adaptive-search/backend/internal/evaluation"
	"github.com/adaptive-search/backend/internal/ingestion"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/agents"
	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/internal/search/orchestrator"
	"github.com/adaptive-search/backend/internal/search/rewriter"
	"github.com/adaptive-search/backend/internal/search/searchtest"
	"github.com/adaptive-search/backend/internal/search/topics"
	"github.com/adaptive-search/backend/internal/search/worker"
	"github.com/adaptive-search/backend/internal/storage/sqlite"
	"github.com/adaptive-search/backend/internal/vector/zilliz"
	"github.com/adaptive-search/backend/pkg/config"
)

type nopChunks struct{ n int }

func (s *nopChunks) Insert(ctx context.Context, chunks []zilliz.Chunk) error {
	s.n += len(chunks)
	return nil
}

type batchEmbedder struct{}

func (batchEmbedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = searchtest.DeterministicVector(t, 4)
	}
	return out, nil
}

func newTestApp(t *testing.T) (func(req *http.Request) *http.Response, *controller.Controller) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())

	queue := worker.New(worker.Config{})
	opt, err := optimizer.New(ctx, store, optimizer.WithQueue(queue))
	require.NoError(t, err)

	vector := &searchtest.Agent{AgentName: agents.NameVector, Results: []search.SearchResult{
		{Content: "Apple revenue reached 383 billion", Score: 0.9, Source: search.SourceVector},
	}}
	graph := &searchtest.Agent{AgentName: agents.NameGraph}
	hybrid := &searchtest.Agent{AgentName: agents.NameHybrid, Results: []search.SearchResult{
		{Content: "Invoice 1001 for consulting services", Score: 0.8, Source: search.SourceHybrid},
	}}
	orch, err := orchestrator.New([]agents.Agent{vector, graph, hybrid}, 2)
	require.NoError(t, err)

	ctrl := controller.New(controller.Deps{
		Rewriter:     rewriter.New(&searchtest.Extractor{Orgs: []string{"Apple"}}, &searchtest.Completion{Reply: "1. invoice lookup"}),
		Optimizer:    opt,
		Orchestrator: orch,
		Ranker:       topics.New(nil, topics.Config{NumTopics: 2, Iterations: 50}),
		Store:        store,
		Queue:        queue,
	}, controller.Config{})

	processor := ingestion.NewProcessor(batchEmbedder{}, &nopChunks{}, ingestion.WithCorpus(store))
	app, stop := NewApp(Handlers{
		Search:    handlers.NewSearchHandler(ctrl),
		Admin:     handlers.NewAdminHandler(ctrl, evaluation.NewEvaluator(store, ctrl, nil)),
		Documents: handlers.NewDocumentHandler(processor, nil),
		WebSocket: handlers.NewWebSocketHandler(ctrl),
	}, Options{Server: config.ServerConfig{RateLimit: 1000}, Development: true})

	t.Cleanup(func() {
		stop()
		ctrl.Close()
		orch.Release()
		_ = store.Close()
	})

	do := func(req *http.Request) *http.Response {
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}
	return do, ctrl
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, v), string(body))
}

func TestSearchRoutes(t *testing.T) {
	do, ctrl := newTestApp(t)

	t.Run("search", func(t *testing.T) {
		resp := do(jsonRequest("POST", "/api/v1/search", `{"query":"find invoice"}`))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var out controller.SearchResponse
		decode(t, resp, &out)
		assert.Equal(t, "find invoice", out.QueryProcessing.OriginalQuery)
		require.NotEmpty(t, out.SearchResults)
		assert.Equal(t, "Invoice 1001 for consulting services", out.SearchResults[0].Content)
	})

	t.Run("blank query is a well-formed 400", func(t *testing.T) {
		resp := do(jsonRequest("POST", "/api/v1/search", `{"query":"  "}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var out controller.SearchResponse
		decode(t, resp, &out)
		assert.Equal(t, controller.KindValidation, out.ErrorKind)
		assert.NotNil(t, out.SearchResults)
	})

	t.Run("optimize", func(t *testing.T) {
		resp := do(jsonRequest("POST", "/api/v1/optimize", `{"query":"Apple revenue"}`))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var out controller.OptimizeResponse
		decode(t, resp, &out)
		assert.Equal(t, "Apple revenue", out.Original)
	})

	t.Run("session lifecycle", func(t *testing.T) {
		resp := do(jsonRequest("POST", "/api/v1/sessions", `{"user_id":"u1"}`))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var started struct {
			SessionID string `json:"session_id"`
		}
		decode(t, resp, &started)
		require.NotEmpty(t, started.SessionID)

		resp = do(jsonRequest("POST", "/api/v1/feedback",
			`{"session_id":"`+started.SessionID+`","query":"find invoice","clicked_results":[0],"satisfaction":5,"result_count":2}`))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(httptest.NewRequest("GET", "/api/v1/sessions/"+started.SessionID, nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(httptest.NewRequest("DELETE", "/api/v1/sessions/"+started.SessionID, nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(httptest.NewRequest("DELETE", "/api/v1/sessions/"+started.SessionID, nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("feedback validation", func(t *testing.T) {
		resp := do(jsonRequest("POST", "/api/v1/feedback", `{"query":""}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("suggestions", func(t *testing.T) {
		resp := do(httptest.NewRequest("GET", "/api/v1/suggestions?q=invoice", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Suggestions []string `json:"suggestions"`
		}
		decode(t, resp, &out)
		assert.Equal(t, []string{"invoice lookup"}, out.Suggestions)
	})

	t.Run("performance", func(t *testing.T) {
		ctrl.Drain()
		resp := do(httptest.NewRequest("GET", "/api/v1/metrics/performance", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]any
		decode(t, resp, &out)
		assert.Contains(t, out, "query_optimizer")
		assert.Contains(t, out, "agent_performance")
	})
}

func TestAdminRoutes(t *testing.T) {
	do, ctrl := newTestApp(t)

	resp := do(jsonRequest("POST", "/api/v1/search", `{"query":"find invoice"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ctrl.Drain()

	t.Run("patterns round trip", func(t *testing.T) {
		resp := do(httptest.NewRequest("GET", "/api/v1/patterns?format=yaml", nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/patterns?format=yaml", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/yaml")
		resp = do(req)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(jsonRequest("POST", "/api/v1/patterns", `{not json`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = do(httptest.NewRequest("GET", "/api/v1/patterns?format=xml", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("documents then topics", func(t *testing.T) {
		docs := []string{
			"stock market shares rose as investors bought equity",
			"bond yields fell and investors sold shares in the market",
			"patients received treatment from doctors at the hospital",
			"the hospital doctors prescribed treatment for patients",
		}
		for _, d := range docs {
			resp := do(jsonRequest("POST", "/api/v1/documents", `{"content":"`+d+`"}`))
			require.Equal(t, http.StatusCreated, resp.StatusCode)
		}

		resp := do(jsonRequest("POST", "/api/v1/documents", `{"url":"https://example.com/a"}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no fetcher configured")

		resp = do(jsonRequest("POST", "/api/v1/topics/fit", `{}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var fit struct {
			Documents int                `json:"documents"`
			Topics    []search.TopicInfo `json:"topics"`
		}
		decode(t, resp, &fit)
		assert.Equal(t, 4, fit.Documents)
		assert.Len(t, fit.Topics, 2)

		resp = do(jsonRequest("POST", "/api/v1/topics/fit", `{"corpus":["only one"]}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("evaluation", func(t *testing.T) {
		resp := do(httptest.NewRequest("GET", "/api/v1/evaluation/interactions", nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var report evaluation.InteractionReport
		decode(t, resp, &report)
		assert.GreaterOrEqual(t, report.Queries, 1)

		resp = do(jsonRequest("POST", "/api/v1/evaluation/dataset",
			`{"items":[{"query":"find invoice","expected":"invoice 1001"}]}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var ds evaluation.DatasetReport
		decode(t, resp, &ds)
		assert.Equal(t, 1, ds.Hits)

		resp = do(httptest.NewRequest("GET", "/api/v1/evaluation/interactions?limit=x", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestInfrastructureRoutes(t *testing.T) {
	do, _ := newTestApp(t)

	resp := do(httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp = do(httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(httptest.NewRequest("GET", "/ws/search", nil))
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
