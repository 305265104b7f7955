package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/circuitbreaker"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/retry"
)

// Client serves text-match traversal over (Document)-[:HAS_QUESTION]->(Question)
// graphs and writes indexed documents into them.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

var _ search.GraphStore = (*Client)(nil)

type QA struct {
	ID       string
	Question string
	Answer   string
}

// Document is a graph document node with its question/answer children and the
// entities it mentions.
type Document struct {
	ID        string
	Title     string
	Text      string
	Questions []QA
	Entities  []search.Entity
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		Cooldown:         20 * time.Second,
		Probes:           3,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.ObserveCircuit,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Operation:    "neo4j",
		Retryable:    circuitbreaker.Retryable,
		OnRetry:      metrics.CountRetry("neo4j"),
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		Logger:       logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, op string, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
	return search.Dependency("neo4j", op, err)
}

// EnsureSchema creates the uniqueness constraints the writers rely on.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT question_id IF NOT EXISTS FOR (q:Question) REQUIRE q.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
	}

	return c.executeWithRetry(ctx, "schema", func(session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to apply %q: %w", stmt, err)
			}
		}
		logger.Info("Neo4j schema ensured")
		return nil
	})
}

const queryCypher = `
	MATCH (d:Document)-[:HAS_QUESTION]->(q:Question)
	WHERE toLower(q.text) CONTAINS toLower($query_text)
	   OR toLower(d.text) CONTAINS toLower($query_text)
	WITH d, q,
	     size(split(toLower(coalesce(q.text, '') + ' ' + coalesce(d.text, '')), toLower($query_text))) - 1 AS relevance
	RETURN DISTINCT d.id AS doc_id, d.text AS doc_text, q.text AS question, q.answer AS answer, relevance
	ORDER BY relevance DESC
	LIMIT $limit
`

// Query returns document/question pairs whose text contains matchText,
// scored by the number of occurrences.
func (c *Client) Query(ctx context.Context, matchText string, limit int) ([]search.GraphHit, error) {
	var hits []search.GraphHit

	err := c.executeWithRetry(ctx, "query", func(session neo4j.SessionWithContext) error {
		hits = hits[:0]

		result, err := session.Run(ctx, queryCypher, map[string]any{
			"query_text": matchText,
			"limit":      limit,
		})
		if err != nil {
			return fmt.Errorf("failed to run graph query: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			hits = append(hits, search.GraphHit{
				DocID:     stringValue(record, "doc_id"),
				DocText:   stringValue(record, "doc_text"),
				Question:  stringValue(record, "question"),
				Answer:    stringValue(record, "answer"),
				Relevance: intValue(record, "relevance"),
			})
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Graph query completed", zap.Int("results", len(hits)))
	return hits, nil
}

const neighborsCypher = `
	MATCH (d:Document {id: $doc_id})-[r]-(related)
	WHERE related.text IS NOT NULL AND toLower(related.text) CONTAINS toLower($query_text)
	RETURN related.text AS text, type(r) AS relationship
	LIMIT $limit
`

// Neighbors returns one-hop neighbours of a document whose text contains matchText.
func (c *Client) Neighbors(ctx context.Context, docID, matchText string, limit int) ([]search.GraphNeighbor, error) {
	var neighbors []search.GraphNeighbor

	err := c.executeWithRetry(ctx, "neighbors", func(session neo4j.SessionWithContext) error {
		neighbors = neighbors[:0]

		result, err := session.Run(ctx, neighborsCypher, map[string]any{
			"doc_id":     docID,
			"query_text": matchText,
			"limit":      limit,
		})
		if err != nil {
			return fmt.Errorf("failed to expand document: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			neighbors = append(neighbors, search.GraphNeighbor{
				Text:         stringValue(record, "text"),
				Relationship: stringValue(record, "relationship"),
			})
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}
	return neighbors, nil
}

const upsertDocumentCypher = `
	MERGE (d:Document {id: $id})
	SET d.title = $title, d.text = $text, d.updated_at = timestamp()
	WITH d
	UNWIND $questions AS qa
	MERGE (q:Question {id: qa.id})
	SET q.text = qa.question, q.answer = qa.answer
	MERGE (d)-[:HAS_QUESTION]->(q)
`

const mentionCypher = `
	MATCH (d:Document {id: $id})
	UNWIND $entities AS ent
	MERGE (e:Entity {name: ent.name})
	SET e.text = ent.name, e.type = ent.type
	MERGE (d)-[:MENTIONS]->(e)
`

// UpsertDocument writes a document, its questions and the entities it mentions.
func (c *Client) UpsertDocument(ctx context.Context, doc Document) error {
	questions := make([]map[string]any, 0, len(doc.Questions))
	for _, qa := range doc.Questions {
		questions = append(questions, map[string]any{"id": qa.ID, "question": qa.Question, "answer": qa.Answer})
	}
	entities := make([]map[string]any, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		entities = append(entities, map[string]any{"name": e.Text, "type": string(e.Type)})
	}

	err := c.executeWithRetry(ctx, "upsert", func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			if _, err := tx.Run(ctx, upsertDocumentCypher, map[string]any{
				"id":        doc.ID,
				"title":     doc.Title,
				"text":      doc.Text,
				"questions": questions,
			}); err != nil {
				return nil, err
			}
			if len(entities) == 0 {
				return nil, nil
			}
			_, err := tx.Run(ctx, mentionCypher, map[string]any{"id": doc.ID, "entities": entities})
			return nil, err
		})
		return err
	})
	if err != nil {
		return err
	}

	logger.Debug("Document written to graph",
		zap.String("doc_id", doc.ID),
		zap.Int("questions", len(questions)),
		zap.Int("entities", len(entities)),
	)
	return nil
}

func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intValue(record *neo4j.Record, key string) int {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
