package configs

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	Engine EngineConfig
	Worker WorkerConfig
	Auth   AuthConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string
}

type RedisConfig struct {
	URL           string
	StreamName    string
	ConsumerGroup string
	MaxRetries    int
}

type KafkaConfig struct {
	Brokers       string
	Topic         string
	ConsumerGroup string
}

type EngineConfig struct {
	AnomalyThreshold    float64
	DecayFactor         float64
	DecayInterval       time.Duration
	ReverifyInterval    time.Duration
	DenyThreshold       float64
	ChallengeThreshold  float64
	RestrictThreshold   float64
	HopThreshold        int
	GNNSeed             int64
	EmbeddingDim        int
	HiddenDim           int
	MinRecommendedFlows int
}

type WorkerConfig struct {
	Concurrency      int
	BatchSize        int
	PollInterval     time.Duration
	RetryAttempts    int
	DeadLetterStream string
}

type AuthConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration
	OperatorEmail string
	// Hashed at startup; never stored in the clear after boot.
	OperatorPassword string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", ""),
			StreamName:    getEnv("REDIS_STREAM_NAME", "access-events"),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "access-workers"),
			MaxRetries:    getIntEnv("REDIS_MAX_RETRIES", 3),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnv("KAFKA_BROKERS", "localhost:9092"),
			Topic:         getEnv("KAFKA_TOPIC", "access-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "access-engine"),
		},
		Engine: EngineConfig{
			AnomalyThreshold:    getFloatEnv("ANOMALY_THRESHOLD", 0.7),
			DecayFactor:         getFloatEnv("BASELINE_DECAY_FACTOR", 0.995),
			DecayInterval:       getDurationEnv("BASELINE_DECAY_INTERVAL", time.Hour),
			ReverifyInterval:    getDurationEnv("REVERIFY_INTERVAL", 300*time.Second),
			DenyThreshold:       getFloatEnv("DENY_THRESHOLD", 0.3),
			ChallengeThreshold:  getFloatEnv("CHALLENGE_THRESHOLD", 0.5),
			RestrictThreshold:   getFloatEnv("RESTRICT_THRESHOLD", 0.7),
			HopThreshold:        getIntEnv("HOP_THRESHOLD", 3),
			GNNSeed:             int64(getIntEnv("GNN_SEED", 42)),
			EmbeddingDim:        getIntEnv("GNN_EMBEDDING_DIM", 8),
			HiddenDim:           getIntEnv("GNN_HIDDEN_DIM", 16),
			MinRecommendedFlows: getIntEnv("MICROSEG_MIN_FLOWS", 5),
		},
		Worker: WorkerConfig{
			Concurrency:      getIntEnv("WORKER_CONCURRENCY", 5),
			BatchSize:        getIntEnv("WORKER_BATCH_SIZE", 100),
			PollInterval:     getDurationEnv("WORKER_POLL_INTERVAL", 100*time.Millisecond),
			RetryAttempts:    getIntEnv("WORKER_RETRY_ATTEMPTS", 3),
			DeadLetterStream: getEnv("DEAD_LETTER_STREAM", "access-events-dlq"),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
			JWTExpiration:    getDurationEnv("AUTH_JWT_EXPIRATION", 24*time.Hour),
			OperatorEmail:    getEnv("AUTH_OPERATOR_EMAIL", "operator@zerotrust.local"),
			OperatorPassword: getEnv("AUTH_OPERATOR_PASSWORD", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
