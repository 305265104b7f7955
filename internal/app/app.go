// Package app builds the search engine and its backing services from
// configuration. Both binaries start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/api"
	"github.com/adaptive-search/backend/internal/api/handlers"
	"github.com/adaptive-search/backend/internal/cache"
	"github.com/adaptive-search/backend/internal/cache/redis"
	"github.com/adaptive-search/backend/internal/evaluation"
	"github.com/adaptive-search/backend/internal/ingestion"
	"github.com/adaptive-search/backend/internal/kg/builder"
	"github.com/adaptive-search/backend/internal/kg/neo4j"
	"github.com/adaptive-search/backend/internal/llm"
	"github.com/adaptive-search/backend/internal/nlp"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/agents"
	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/internal/search/optimizer"
	"github.com/adaptive-search/backend/internal/search/orchestrator"
	"github.com/adaptive-search/backend/internal/search/rewriter"
	"github.com/adaptive-search/backend/internal/search/topics"
	"github.com/adaptive-search/backend/internal/search/worker"
	"github.com/adaptive-search/backend/internal/storage"
	"github.com/adaptive-search/backend/internal/storage/badger"
	"github.com/adaptive-search/backend/internal/storage/sqlite"
	"github.com/adaptive-search/backend/internal/vector/zilliz"
	"github.com/adaptive-search/backend/pkg/config"
	"github.com/adaptive-search/backend/pkg/logger"
)

// App owns every long-lived component. Close releases them in reverse
// order of construction.
type App struct {
	Config     *config.Config
	Store      storage.Store
	Controller *controller.Controller
	Evaluator  *evaluation.Evaluator
	// Processor is nil when the vector store is disabled.
	Processor *ingestion.Processor
	Fetcher   *ingestion.Fetcher

	closers []func()
}

// Services are the external capabilities. Build fills the missing ones from
// configuration, so tests can inject doubles.
type Services struct {
	Store      storage.Store
	Embedder   search.Embedder
	Completion search.Completion
	Classifier search.Classifier
	Extractor  search.EntityExtractor
	Vector     search.VectorStore
	Graph      search.GraphStore

	BatchEmbedder ingestion.BatchEmbedder
	ChunkWriter   ingestion.ChunkWriter
	GraphWriter   builder.GraphWriter
}

var errDisabled = errors.New("disabled by configuration")

type offlineVector struct{}

func (offlineVector) Search(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]search.VectorHit, error) {
	return nil, search.Dependency("zilliz", "search", errDisabled)
}

type offlineGraph struct{}

func (offlineGraph) Query(ctx context.Context, matchText string, limit int) ([]search.GraphHit, error) {
	return nil, search.Dependency("neo4j", "query", errDisabled)
}

func (offlineGraph) Neighbors(ctx context.Context, docID, matchText string, limit int) ([]search.GraphNeighbor, error) {
	return nil, search.Dependency("neo4j", "neighbors", errDisabled)
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	return BuildWith(ctx, cfg, Services{})
}

func BuildWith(ctx context.Context, cfg *config.Config, svc Services) (*App, error) {
	a := &App{Config: cfg}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	if svc.Store == nil {
		store, err := openStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = store.Close() })
		svc.Store = store
	}
	a.Store = svc.Store

	if err := a.connectServices(ctx, cfg, &svc); err != nil {
		return nil, err
	}

	eng := cfg.Engine
	queue := worker.New(worker.Config{Size: eng.FeedbackQueueSize, MaxRetries: eng.FeedbackMaxRetries})
	a.onClose(queue.Close)

	opt, err := optimizer.New(ctx, svc.Store,
		optimizer.WithQueue(queue),
		optimizer.WithExpansionThreshold(eng.ExpansionSuccessThreshold),
		optimizer.WithSuccessRating(eng.SuccessRatingThreshold),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load query patterns: %w", err)
	}

	limits := agents.Limits{TopN: eng.TopN, OverFetch: eng.OverFetch}
	vector := agents.NewVector(svc.Embedder, svc.Vector, limits)
	graph := agents.NewGraph(svc.Graph, limits)
	hybrid := agents.NewHybrid(vector, graph, agents.HybridConfig{
		Mode:           eng.HybridMode,
		VectorBoost:    eng.HybridVectorBoost,
		VectorWeight:   eng.HybridVectorWeight,
		GraphWeight:    eng.HybridGraphWeight,
		DedupThreshold: eng.DedupThreshold,
		TopN:           eng.TopN,
	})
	orch, err := orchestrator.New([]agents.Agent{vector, graph, hybrid}, eng.AgentPoolSize,
		orchestrator.WithCallTimeout(eng.CallTimeout()),
		orchestrator.WithTopN(eng.TopN),
	)
	if err != nil {
		return nil, err
	}
	a.onClose(orch.Release)

	ranker := topics.New(svc.Classifier, topics.Config{
		NumTopics:  eng.NumTopics,
		Iterations: eng.TopicIterations,
		Weights: topics.Weights{
			Original: eng.RankOriginalWeight,
			Topic:    eng.RankTopicWeight,
			Domain:   eng.RankDomainWeight,
		},
		CallTimeout: eng.CallTimeout(),
	})
	if eng.TopicModelPath != "" {
		if err := ranker.Load(eng.TopicModelPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Saved topic model not loaded", zap.String("path", eng.TopicModelPath), zap.Error(err))
		}
	}

	a.Controller = controller.New(controller.Deps{
		Rewriter: rewriter.New(svc.Extractor, svc.Completion,
			rewriter.WithEmbedder(svc.Embedder),
			rewriter.WithCallTimeout(eng.CallTimeout()),
		),
		Optimizer:    opt,
		Orchestrator: orch,
		Ranker:       ranker,
		Store:        svc.Store,
		Queue:        queue,
	}, controller.Config{
		TopN:                         eng.TopN,
		SessionSuccessRequiresRating: eng.SessionSuccessRequiresRating,
		SuccessRatingThreshold:       eng.SuccessRatingThreshold,
		TopicModelPath:               eng.TopicModelPath,
	})
	a.onClose(a.Controller.Close)

	a.Evaluator = evaluation.NewEvaluator(svc.Store, a.Controller, svc.Embedder)

	if svc.BatchEmbedder != nil && svc.ChunkWriter != nil {
		opts := []ingestion.Option{ingestion.WithCorpus(svc.Store)}
		if svc.GraphWriter != nil {
			opts = append(opts, ingestion.WithGraph(builder.NewBuilder(svc.GraphWriter, svc.Completion, svc.Extractor)))
		}
		a.Processor = ingestion.NewProcessor(svc.BatchEmbedder, svc.ChunkWriter, opts...)
		a.Fetcher = ingestion.NewFetcher(time.Duration(cfg.LLM.TimeoutSec) * time.Second)
	}

	logger.Info("Search engine ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("ingestion", a.Processor != nil),
		zap.Bool("topics_fitted", ranker.Fitted()),
	)
	built = true
	return a, nil
}

// connectServices fills every nil capability in svc from configuration.
func (a *App) connectServices(ctx context.Context, cfg *config.Config, svc *Services) error {
	if svc.Embedder == nil || svc.Completion == nil || svc.Classifier == nil || svc.BatchEmbedder == nil {
		client := llm.NewClient(llm.Options{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
			Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		})
		if svc.Completion == nil {
			svc.Completion = client
		}
		if svc.Classifier == nil {
			svc.Classifier = client
		}
		if svc.BatchEmbedder == nil {
			svc.BatchEmbedder = client
		}
		if svc.Embedder == nil {
			embedder, err := a.cachedEmbedder(cfg, client)
			if err != nil {
				return err
			}
			svc.Embedder = embedder
		}
	}

	if svc.Extractor == nil {
		svc.Extractor = nlp.NewExtractor()
	}

	if svc.Vector == nil {
		if cfg.Zilliz.Enabled {
			client, err := zillizClient(ctx, cfg.Zilliz)
			if err != nil {
				return err
			}
			a.onClose(func() { _ = client.Close() })
			svc.Vector = client
			if svc.ChunkWriter == nil {
				svc.ChunkWriter = client
			}
		} else {
			svc.Vector = offlineVector{}
		}
	}

	if svc.Graph == nil {
		if cfg.Neo4j.Enabled {
			client, err := neo4j.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to neo4j: %w", err)
			}
			a.onClose(func() { _ = client.Close(context.Background()) })
			if err := client.EnsureSchema(ctx); err != nil {
				logger.Warn("Failed to ensure graph schema", zap.Error(err))
			}
			svc.Graph = client
			if svc.GraphWriter == nil {
				svc.GraphWriter = client
			}
		} else {
			svc.Graph = offlineGraph{}
		}
	}
	return nil
}

func (a *App) cachedEmbedder(cfg *config.Config, next search.Embedder) (search.Embedder, error) {
	var remote cache.Remote
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(redis.Options{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: "emb:" + cfg.LLM.EmbeddingModel,
		})
		if err != nil {
			logger.Warn("Redis unavailable, embedding cache is local only", zap.Error(err))
		} else {
			a.onClose(func() { _ = client.Close() })
			remote = client
		}
	}
	return cache.NewCachedEmbedder(next, cfg.Engine.EmbeddingCacheSize, remote, time.Duration(cfg.Redis.TTLMin)*time.Minute)
}

func zillizClient(ctx context.Context, cfg config.ZillizConfig) (*zilliz.Client, error) {
	client, err := zilliz.NewClient(ctx, cfg.Endpoint, cfg.APIKey, cfg.CollectionName, cfg.VectorDim)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zilliz: %w", err)
	}
	if err := client.CreateCollection(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to prepare collection: %w", err)
	}
	return client, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "badger":
		backend, err := badger.Open(cfg.BadgerPath, false)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		client, err := sqlite.NewClient(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	}
}

// Handlers returns the HTTP handlers for the API server.
func (a *App) Handlers() api.Handlers {
	h := api.Handlers{
		Search:    handlers.NewSearchHandler(a.Controller),
		Admin:     handlers.NewAdminHandler(a.Controller, a.Evaluator),
		WebSocket: handlers.NewWebSocketHandler(a.Controller),
	}
	if a.Processor != nil {
		h.Documents = handlers.NewDocumentHandler(a.Processor, a.Fetcher)
	}
	return h
}

func (a *App) onClose(f func()) {
	a.closers = append(a.closers, f)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
