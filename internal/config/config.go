package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Routing   RoutingConfig   `json:"routing"`
	Memory    MemoryConfig    `json:"memory"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// RoutingConfig carries the scoring weights and learning rates. These are
// configuration, not constants: operators tune them without a rebuild.
type RoutingConfig struct {
	SkillWeight     float64 `json:"skill_weight"`
	TrustWeight     float64 `json:"trust_weight"`
	SuccessWeight   float64 `json:"success_weight"`
	ConnectorWeight float64 `json:"connector_weight"`

	MemoryPriorEnabled bool    `json:"memory_prior_enabled"`
	MemoryWeight       float64 `json:"memory_weight"`
	MemoryThreshold    float64 `json:"memory_threshold"`

	LearningRate        float64 `json:"learning_rate"`
	DispatchPoolSize    int     `json:"dispatch_pool_size"`
	MaintenanceInterval string  `json:"maintenance_interval"` // Go duration, e.g. "1h"
}

// HasWeights reports whether the config carries an explicit weight profile.
// A profile zeroing individual factors is valid; only an all-zero profile
// means "not configured" and falls back to the engine defaults.
func (r RoutingConfig) HasWeights() bool {
	return r.SkillWeight+r.TrustWeight+r.SuccessWeight+r.ConnectorWeight > 0
}

type MemoryConfig struct {
	HalfLifeDays float64 `json:"half_life_days"`
	Index        string  `json:"index"` // "lexical" or "vector"
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references of the form ${VAR} and ${VAR:default}.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
