package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}
}

// GetEnv gets an environment variable or returns a default value if not present
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// GetEnvInt gets an integer environment variable or returns a default value
func GetEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s=%q, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

// BuildBackend selects which executor runs the build pipeline
type BuildBackend string

const (
	BuildBackendDocker     BuildBackend = "docker"
	BuildBackendKubernetes BuildBackend = "kubernetes"
)

// GetBuildBackend returns the configured executor backend
func GetBuildBackend() BuildBackend {
	backend := GetEnv("BUILD_BACKEND", "docker")
	switch BuildBackend(backend) {
	case BuildBackendDocker, BuildBackendKubernetes:
		return BuildBackend(backend)
	}
	log.Printf("Warning: unknown BUILD_BACKEND %q, falling back to docker", backend)
	return BuildBackendDocker
}

// GetBuildConcurrency returns the cluster-wide cap on simultaneous builds
func GetBuildConcurrency() int {
	concurrency := GetEnvInt("BUILD_CONCURRENCY", 3)
	if concurrency < 1 {
		return 1
	}
	return concurrency
}

// GetQueuePollInterval returns the dispatch loop sleep when the queue is idle
func GetQueuePollInterval() time.Duration {
	ms := GetEnvInt("QUEUE_POLL_INTERVAL_MS", 2000)
	if ms < 100 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

// GetBaseDomain returns the domain suffix used for deployed site URLs
func GetBaseDomain() string {
	return GetEnv("BASE_DOMAIN", "sites.localhost")
}
