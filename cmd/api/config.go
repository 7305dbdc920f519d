package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Values come from defaults, then an
// optional YAML file named by CONFIG_FILE, then the environment.
type Config struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"corsOrigin"`

	// StoreBackend is "neo4j" (Qdrant + Neo4j) or "memory" for local runs.
	StoreBackend  string `yaml:"storeBackend"`
	QdrantURL     string `yaml:"qdrantUrl"`
	Neo4jURL      string `yaml:"neo4jUrl"`
	Neo4jUser     string `yaml:"neo4jUser"`
	Neo4jPass     string `yaml:"neo4jPass"`
	Neo4jDatabase string `yaml:"neo4jDatabase"`
	NATSURL       string `yaml:"natsUrl"`

	OpenAIKey     string `yaml:"openaiKey"`
	OpenAIBaseURL string `yaml:"openaiBaseUrl"`
	ChatModel     string `yaml:"chatModel"`
	EmbedBackend  string `yaml:"embedBackend"`
	EmbedModel    string `yaml:"embedModel"`
	EmbedDims     int    `yaml:"embedDims"`
	OllamaURL     string `yaml:"ollamaUrl"`

	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`

	CacheThreshold        float64       `yaml:"cacheThreshold"`
	CacheContextThreshold float64       `yaml:"cacheContextThreshold"`
	RateLimit             float64       `yaml:"rateLimit"`
	RateBurst             int           `yaml:"rateBurst"`
	InsightTimeout        time.Duration `yaml:"insightTimeout"`
}

func defaultConfig() Config {
	return Config{
		Port:                  "8080",
		CORSOrigin:            "*",
		StoreBackend:          "neo4j",
		QdrantURL:             "localhost:6334",
		Neo4jURL:              "neo4j://localhost:7687",
		Neo4jUser:             "neo4j",
		Neo4jPass:             "password",
		Neo4jDatabase:         "neo4j",
		EmbedBackend:          "openai",
		EmbedDims:             1536,
		OllamaURL:             "http://localhost:11434",
		JWTIssuer:             "wellness",
		CacheThreshold:        0.10,
		CacheContextThreshold: 0.08,
		RateLimit:             2,
		RateBurst:             10,
		InsightTimeout:        30 * time.Second,
	}
}

func loadConfig() (Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.CORSOrigin = envOr("CORS_ORIGIN", cfg.CORSOrigin)
	cfg.StoreBackend = envOr("STORE_BACKEND", cfg.StoreBackend)
	cfg.QdrantURL = envOr("QDRANT_URL", cfg.QdrantURL)
	cfg.Neo4jURL = envOr("NEO4J_URL", cfg.Neo4jURL)
	cfg.Neo4jUser = envOr("NEO4J_USER", cfg.Neo4jUser)
	cfg.Neo4jPass = envOr("NEO4J_PASS", cfg.Neo4jPass)
	cfg.Neo4jDatabase = envOr("NEO4J_DATABASE", cfg.Neo4jDatabase)
	cfg.NATSURL = envOr("NATS_URL", cfg.NATSURL)
	cfg.OpenAIKey = envOr("OPENAI_API_KEY", cfg.OpenAIKey)
	cfg.OpenAIBaseURL = envOr("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.ChatModel = envOr("CHAT_MODEL", cfg.ChatModel)
	cfg.EmbedBackend = envOr("EMBED_BACKEND", cfg.EmbedBackend)
	cfg.EmbedModel = envOr("EMBED_MODEL", cfg.EmbedModel)
	cfg.OllamaURL = envOr("OLLAMA_URL", cfg.OllamaURL)
	cfg.JWTSecret = envOr("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOr("JWT_ISSUER", cfg.JWTIssuer)

	var err error
	if cfg.EmbedDims, err = envInt("EMBED_DIMS", cfg.EmbedDims); err != nil {
		return Config{}, err
	}
	if cfg.CacheThreshold, err = envFloat("CACHE_THRESHOLD", cfg.CacheThreshold); err != nil {
		return Config{}, err
	}
	if cfg.CacheContextThreshold, err = envFloat("CACHE_CONTEXT_THRESHOLD", cfg.CacheContextThreshold); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit, err = envFloat("RATE_LIMIT", cfg.RateLimit); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.InsightTimeout, err = envDuration("INSIGHT_TIMEOUT", cfg.InsightTimeout); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("config: PORT is required")
	case c.StoreBackend != "neo4j" && c.StoreBackend != "memory":
		return fmt.Errorf("config: STORE_BACKEND %q must be neo4j or memory", c.StoreBackend)
	case c.EmbedBackend != "openai" && c.EmbedBackend != "ollama":
		return fmt.Errorf("config: EMBED_BACKEND %q must be openai or ollama", c.EmbedBackend)
	case c.OpenAIKey == "" && c.OpenAIBaseURL == "":
		return errors.New("config: OPENAI_API_KEY is required")
	case c.JWTSecret == "":
		return errors.New("config: JWT_SECRET is required")
	case c.EmbedDims <= 0:
		return fmt.Errorf("config: EMBED_DIMS %d must be positive", c.EmbedDims)
	case c.CacheThreshold <= 0 || c.CacheThreshold > 1:
		return fmt.Errorf("config: CACHE_THRESHOLD %v out of (0,1]", c.CacheThreshold)
	case c.CacheContextThreshold <= 0 || c.CacheContextThreshold > 1:
		return fmt.Errorf("config: CACHE_CONTEXT_THRESHOLD %v out of (0,1]", c.CacheContextThreshold)
	case c.CacheContextThreshold > c.CacheThreshold:
		return fmt.Errorf("config: CACHE_CONTEXT_THRESHOLD %v looser than CACHE_THRESHOLD %v", c.CacheContextThreshold, c.CacheThreshold)
	case c.RateLimit <= 0 || c.RateBurst <= 0:
		return errors.New("config: RATE_LIMIT and RATE_BURST must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
