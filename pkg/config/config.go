package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Neo4j   Neo4jConfig
	Zilliz  ZillizConfig
	Storage StorageConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Engine  EngineConfig
	MCP     MCPConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	RateLimit    int
	// Development relaxes the CSP and enables the access log.
	Development bool
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

// StorageConfig selects the pattern store backend.
type StorageConfig struct {
	Backend    string // sqlite | badger
	SQLitePath string
	BadgerPath string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLMin   int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

// EngineConfig tunes the search pipeline and the learning loop.
type EngineConfig struct {
	TopN                         int
	OverFetch                    int
	CallTimeoutSec               int
	AgentPoolSize                int
	SuccessRatingThreshold       int
	SessionSuccessRequiresRating bool
	ExpansionSuccessThreshold    float64
	FeedbackQueueSize            int
	FeedbackMaxRetries           int
	HybridMode                   string // boost | weighted
	HybridVectorBoost            float64
	HybridVectorWeight           float64
	HybridGraphWeight            float64
	DedupThreshold               float64
	NumTopics                    int
	TopicIterations              int
	TopicModelPath               string
	RankOriginalWeight           float64
	RankTopicWeight              float64
	RankDomainWeight             float64
	EmbeddingCacheSize           int
}

type MCPConfig struct {
	Name    string
	Version string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// CallTimeout is the per-collaborator deadline.
func (e EngineConfig) CallTimeout() time.Duration {
	if e.CallTimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.CallTimeoutSec) * time.Second
}

func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads the given config file, or searches the default locations when path is empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/adaptive-search")
	}

	v.SetEnvPrefix("ADAPTIVE_SEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Engine.HybridMode {
	case "boost", "weighted":
	default:
		return fmt.Errorf("unknown hybrid mode %q", c.Engine.HybridMode)
	}
	if c.Engine.SuccessRatingThreshold < 1 || c.Engine.SuccessRatingThreshold > 5 {
		return fmt.Errorf("engine.successRatingThreshold must be within 1..5, got %d", c.Engine.SuccessRatingThreshold)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimit", 100)
	v.SetDefault("server.development", false)

	v.SetDefault("neo4j.enabled", true)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("zilliz.enabled", true)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "search_chunks")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlitePath", "./data/patterns.db")
	v.SetDefault("storage.badgerPath", "./data/patterns.badger")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlMin", 1440)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 150)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("engine.topN", 5)
	v.SetDefault("engine.overFetch", 10)
	v.SetDefault("engine.callTimeoutSec", 5)
	v.SetDefault("engine.agentPoolSize", 4)
	v.SetDefault("engine.successRatingThreshold", 4)
	v.SetDefault("engine.sessionSuccessRequiresRating", false)
	v.SetDefault("engine.expansionSuccessThreshold", 0.7)
	v.SetDefault("engine.feedbackQueueSize", 256)
	v.SetDefault("engine.feedbackMaxRetries", 3)
	v.SetDefault("engine.hybridMode", "boost")
	v.SetDefault("engine.hybridVectorBoost", 1.1)
	v.SetDefault("engine.hybridVectorWeight", 0.7)
	v.SetDefault("engine.hybridGraphWeight", 0.3)
	v.SetDefault("engine.dedupThreshold", 0.8)
	v.SetDefault("engine.numTopics", 10)
	v.SetDefault("engine.topicIterations", 100)
	v.SetDefault("engine.topicModelPath", "./data/topic_model.json")
	v.SetDefault("engine.rankOriginalWeight", 0.6)
	v.SetDefault("engine.rankTopicWeight", 0.3)
	v.SetDefault("engine.rankDomainWeight", 0.1)
	v.SetDefault("engine.embeddingCacheSize", 1000)

	v.SetDefault("mcp.name", "adaptive-search")
	v.SetDefault("mcp.version", "1.0.0")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
