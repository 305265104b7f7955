// Package topics fits an unsupervised topic model over the indexed corpus and
// re-ranks search results by topic and domain affinity with the query.
package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/utils"
)

const (
	keywordsPerTopic   = 10
	maxQueryTopics     = 3
	queryTopicFloor    = 0.1
	relevantTopicFloor = 0.15
	primaryTopicBonus  = 0.2
	neutralRelevance   = 0.5
	domainSpan         = 500
	modelVersion       = 1
)

// Domains is the closed label set used for zero-shot domain scoring.
var Domains = []string{
	"financial", "legal", "technical", "medical", "business",
	"academic", "government", "personal", "news", "general",
}

var fallbackDomains = map[string]float64{"general": 1}

type Weights struct {
	Original float64 `json:"original"`
	Topic    float64 `json:"topic"`
	Domain   float64 `json:"domain"`
}

type Config struct {
	NumTopics   int
	Iterations  int
	Seed        uint64
	Weights     Weights
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NumTopics <= 0 {
		c.NumTopics = 10
	}
	if c.Iterations <= 0 {
		c.Iterations = 100
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Weights == (Weights{}) {
		c.Weights = Weights{Original: 0.6, Topic: 0.3, Domain: 0.1}
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	return c
}

type QueryTopic struct {
	TopicID     int      `json:"topic_id"`
	Probability float64  `json:"probability"`
	Keywords    []string `json:"keywords"`
}

type QueryTopics struct {
	Topics       []QueryTopic       `json:"topics"`
	Confidence   float64            `json:"confidence"`
	DomainScores map[string]float64 `json:"domain_scores,omitempty"`
}

type docTopics struct {
	Distribution []float64 `json:"distribution"`
	Primary      int       `json:"primary_topic"`
	Cluster      int       `json:"cluster"`
	Confidence   float64   `json:"confidence"`
}

// model is the fitted state. It is immutable once published.
type model struct {
	Version    int                  `json:"version"`
	NumTopics  int                  `json:"num_topics"`
	Alpha      float64              `json:"alpha"`
	Vocabulary []string             `json:"vocabulary"`
	IDF        []float64            `json:"idf"`
	TopicWord  [][]float64          `json:"topic_word"`
	Keywords   [][]string           `json:"keywords"`
	Centroids  [][]float64          `json:"centroids"`
	Documents  map[string]docTopics `json:"documents"`
	FittedAt   time.Time            `json:"fitted_at"`

	index map[string]int
}

func (m *model) validate() error {
	if m.Version > modelVersion {
		return fmt.Errorf("unsupported topic model version %d", m.Version)
	}
	if m.NumTopics <= 0 || len(m.TopicWord) != m.NumTopics || len(m.Keywords) != m.NumTopics {
		return fmt.Errorf("topic model has inconsistent topic count")
	}
	for _, row := range m.TopicWord {
		if len(row) != len(m.Vocabulary) {
			return fmt.Errorf("topic model has inconsistent vocabulary size")
		}
	}
	if len(m.IDF) != len(m.Vocabulary) {
		return fmt.Errorf("topic model has inconsistent idf size")
	}
	for _, c := range m.Centroids {
		if len(c) != len(m.Vocabulary) {
			return fmt.Errorf("topic model has inconsistent centroid size")
		}
	}
	return nil
}

// classify returns the topics of text, using the stored assignment for
// training documents and folding in anything else.
func (m *model) classify(text string) docTopics {
	cleaned := clean(text)
	if dt, ok := m.Documents[utils.HashString(cleaned)]; ok {
		return dt
	}
	doc := counts(terms(cleaned), m.index)
	theta := foldIn(m.TopicWord, m.Alpha, doc)
	primary := argmax(theta)
	cluster := -1
	if len(m.Centroids) > 0 {
		cluster = nearest(m.Centroids, tfidf(doc, m.IDF))
	}
	return docTopics{Distribution: theta, Primary: primary, Cluster: cluster, Confidence: theta[primary]}
}

// Ranker is safe for concurrent use. Fit and Load replace the model
// atomically; readers keep using the model they started with.
type Ranker struct {
	classifier search.Classifier
	cfg        Config

	mu    sync.RWMutex
	model *model
}

// New returns an unfitted ranker. classifier may be nil, in which case every
// text is scored as general.
func New(classifier search.Classifier, cfg Config) *Ranker {
	return &Ranker{classifier: classifier, cfg: cfg.withDefaults()}
}

func (r *Ranker) Fitted() bool {
	return r.current() != nil
}

func (r *Ranker) current() *model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

// Fit builds a new model from corpus. On error the previous model stays in place.
func (r *Ranker) Fit(ctx context.Context, corpus []string) error {
	start := time.Now()

	var docs [][]string
	var keys []string
	for _, text := range corpus {
		cleaned := clean(text)
		t := terms(cleaned)
		if len(t) == 0 {
			continue
		}
		docs = append(docs, t)
		keys = append(keys, utils.HashString(cleaned))
	}
	if len(docs) < 2 {
		return &search.ValidationError{Field: "corpus", Message: "need at least 2 non-empty documents"}
	}

	vocab := buildVocabulary(docs, defaultVocab)
	index := indexOf(vocab)

	bags := make([]map[int]int, len(docs))
	seqs := make([][]int, len(docs))
	for d, doc := range docs {
		bags[d] = counts(doc, index)
		for _, t := range doc {
			if id, ok := index[t]; ok {
				seqs[d] = append(seqs[d], id)
			}
		}
	}

	k := r.cfg.NumTopics
	alpha := 1 / float64(k)
	sampler := lda{
		k:          k,
		vocabSize:  len(vocab),
		alpha:      alpha,
		beta:       1 / float64(k),
		iterations: r.cfg.Iterations,
		seed:       r.cfg.Seed,
	}
	fit, err := sampler.fit(ctx, seqs)
	if err != nil {
		return fmt.Errorf("failed to fit topic model: %w", err)
	}

	idf := smoothIDF(bags, len(vocab))
	rows := make([][]float64, len(bags))
	for d, bag := range bags {
		rows[d] = tfidf(bag, idf)
	}
	centroids, clusters := kmeans(rows, k, r.cfg.Seed)

	m := &model{
		Version:    modelVersion,
		NumTopics:  k,
		Alpha:      alpha,
		Vocabulary: vocab,
		IDF:        idf,
		TopicWord:  fit.phi,
		Keywords:   make([][]string, k),
		Centroids:  centroids,
		Documents:  make(map[string]docTopics, len(docs)),
		FittedAt:   time.Now().UTC(),
		index:      index,
	}
	for t := 0; t < k; t++ {
		m.Keywords[t] = topWords(fit.phi[t], vocab, keywordsPerTopic)
	}
	for d, theta := range fit.theta {
		primary := argmax(theta)
		m.Documents[keys[d]] = docTopics{
			Distribution: theta,
			Primary:      primary,
			Cluster:      clusters[d],
			Confidence:   theta[primary],
		}
	}

	r.mu.Lock()
	r.model = m
	r.mu.Unlock()

	logger.Info("Fitted topic model",
		zap.Int("documents", len(docs)),
		zap.Int("vocabulary", len(vocab)),
		zap.Int("topics", k),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// QueryTopics returns the query's strongest topics and its domain scores.
// An unfitted ranker reports no topics.
func (r *Ranker) QueryTopics(ctx context.Context, query string) QueryTopics {
	m := r.current()
	if m == nil {
		return QueryTopics{Topics: []QueryTopic{}}
	}
	return r.queryTopics(ctx, m, query)
}

func (r *Ranker) queryTopics(ctx context.Context, m *model, query string) QueryTopics {
	out := QueryTopics{
		Topics:       []QueryTopic{},
		DomainScores: r.classifyDomain(ctx, query),
	}

	cleaned := clean(query)
	if cleaned == "" {
		return out
	}
	theta := foldIn(m.TopicWord, m.Alpha, counts(terms(cleaned), m.index))

	ids := make([]int, len(theta))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(a, b int) bool { return theta[ids[a]] > theta[ids[b]] })
	for _, id := range ids[:min(maxQueryTopics, len(ids))] {
		if theta[id] <= queryTopicFloor {
			continue
		}
		out.Topics = append(out.Topics, QueryTopic{
			TopicID:     id,
			Probability: theta[id],
			Keywords:    m.Keywords[id],
		})
	}
	if len(out.Topics) > 0 {
		out.Confidence = out.Topics[0].Probability
	}
	return out
}

func (r *Ranker) classifyDomain(ctx context.Context, text string) map[string]float64 {
	if r.classifier == nil || text == "" {
		return fallbackDomains
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	scores, err := r.classifier.ZeroShot(callCtx, text, Domains)
	if err != nil || len(scores) == 0 {
		if err != nil {
			logger.Debug("Domain classification failed", zap.Error(search.Dependency("classifier", "zero_shot", err)))
		}
		return fallbackDomains
	}
	return scores
}

// dominantDomain picks the highest scoring label, breaking ties by label order.
func dominantDomain(scores map[string]float64) string {
	best, bestScore := "general", -1.0
	for _, d := range Domains {
		if s, ok := scores[d]; ok && s > bestScore {
			best, bestScore = d, s
		}
	}
	return best
}

// topicRelevance sums q*d over the query's topics and adds a bonus when the
// document's primary topic is one of them.
func topicRelevance(qt QueryTopics, dt docTopics) float64 {
	if len(qt.Topics) == 0 || len(dt.Distribution) == 0 {
		return neutralRelevance
	}
	var sim float64
	bonus := false
	for _, t := range qt.Topics {
		if t.TopicID < len(dt.Distribution) {
			sim += t.Probability * dt.Distribution[t.TopicID]
		}
		if t.TopicID == dt.Primary {
			bonus = true
		}
	}
	if bonus {
		sim += primaryTopicBonus
	}
	return min(sim, 1.0)
}

// Rank rescores results by topic and domain affinity with query and sorts them
// by final score. An unfitted ranker passes results through in their original
// order and reports false.
func (r *Ranker) Rank(ctx context.Context, query string, results []search.SearchResult) ([]search.RankedResult, bool) {
	m := r.current()
	if m == nil {
		return passthrough(results), false
	}

	qt := r.queryTopics(ctx, m, query)
	domain := dominantDomain(qt.DomainScores)

	var relevant []int
	for _, t := range qt.Topics {
		if t.Probability > relevantTopicFloor {
			relevant = append(relevant, t.TopicID)
		}
	}
	if relevant == nil {
		relevant = []int{}
	}

	w := r.cfg.Weights
	ranked := make([]search.RankedResult, 0, len(results))
	for _, res := range results {
		if res.Content == "" {
			continue
		}
		dt := m.classify(res.Content)
		topic := topicRelevance(qt, dt)
		domainMatch := r.classifyDomain(ctx, leading(res.Content, domainSpan))[domain]

		md := make(map[string]any, len(res.Metadata)+4)
		for k, v := range res.Metadata {
			md[k] = v
		}
		md["domain_match"] = domainMatch
		md["primary_domain"] = domain
		md["topic_confidence"] = qt.Confidence
		md["topic_cluster"] = dt.Cluster

		out := search.RankedResult{
			SearchResult:  res,
			OriginalScore: res.Score,
			TopicScore:    topic,
			DomainScore:   domainMatch,
			FinalScore:    w.Original*res.Score + w.Topic*topic + w.Domain*domainMatch,
			TopicIDs:      relevant,
		}
		out.Metadata = md
		out.Score = out.FinalScore
		ranked = append(ranked, out)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	return ranked, true
}

func passthrough(results []search.SearchResult) []search.RankedResult {
	out := make([]search.RankedResult, len(results))
	for i, res := range results {
		out[i] = search.RankedResult{
			SearchResult:  res,
			OriginalScore: res.Score,
			FinalScore:    res.Score,
			TopicIDs:      []int{},
		}
	}
	return out
}

func leading(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// Summary describes every topic of the current model, ordered by id.
func (r *Ranker) Summary() []search.TopicInfo {
	m := r.current()
	if m == nil {
		return []search.TopicInfo{}
	}

	sizes := make([]int, m.NumTopics)
	conf := make([]float64, m.NumTopics)
	for _, dt := range m.Documents {
		if dt.Primary >= 0 && dt.Primary < m.NumTopics {
			sizes[dt.Primary]++
			conf[dt.Primary] += dt.Confidence
		}
	}

	out := make([]search.TopicInfo, m.NumTopics)
	for t := range out {
		out[t] = search.TopicInfo{
			TopicID:       t,
			Keywords:      m.Keywords[t],
			DocumentCount: sizes[t],
		}
		if sizes[t] > 0 {
			out[t].AverageConfidence = conf[t] / float64(sizes[t])
		}
	}
	return out
}

// Save writes the current model as JSON, creating parent directories.
func (r *Ranker) Save(path string) error {
	m := r.current()
	if m == nil {
		return fmt.Errorf("topic model not fitted")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode topic model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write topic model: %w", err)
	}
	logger.Info("Saved topic model", zap.String("path", path))
	return nil
}

// Load replaces the current model with the one stored at path.
func (r *Ranker) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read topic model: %w", err)
	}
	var m model
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode topic model: %w", err)
	}
	if err := m.validate(); err != nil {
		return err
	}
	m.index = indexOf(m.Vocabulary)
	if m.Documents == nil {
		m.Documents = map[string]docTopics{}
	}

	r.mu.Lock()
	r.model = &m
	r.mu.Unlock()

	logger.Info("Loaded topic model",
		zap.String("path", path),
		zap.Int("topics", m.NumTopics),
		zap.Int("vocabulary", len(m.Vocabulary)),
	)
	return nil
}
