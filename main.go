package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/database"
	"github.com/sitepress-engine/lib/redis"
	"github.com/sitepress-engine/middleware"
	"github.com/sitepress-engine/routes"
	"github.com/sitepress-engine/services"
)

func main() {
	// Load environment variables
	config.LoadEnv()

	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	// Initialize database
	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Queue store: Redis in production, in-memory for single-node dev
	store, err := newQueueStore()
	if err != nil {
		log.Fatalf("Failed to initialize queue store: %v", err)
	}

	// Build backend selected by BUILD_BACKEND
	backend := config.GetBuildBackend()
	executor, err := services.NewExecutor(backend)
	if err != nil {
		log.Fatalf("Failed to initialize build executor: %v", err)
	}

	queue := services.NewBuildQueue(store, config.GetBuildConcurrency())
	worker := services.NewBuildWorker(queue, executor)

	// Start the dispatch loop and surface queue-store failures
	dispatcher := worker.Start(config.GetQueuePollInterval())
	defer dispatcher.Stop()
	go func() {
		for err := range dispatcher.Errors() {
			log.Printf("⚠️ Queue dispatcher error: %v", err)
		}
	}()

	// Initialize router
	router := gin.Default()

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		AllowCredentials: true,
	}))

	// API key authentication
	router.Use(middleware.APIKeyAuth())

	routes.SetupRoutes(router, worker)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("🚀 SitePress Engine starting on port %s (backend: %s)", port, backend)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func newQueueStore() (services.QueueStore, error) {
	if config.GetEnv("QUEUE_BACKEND", "redis") == "memory" {
		log.Printf("⚠️ Warning: using in-memory queue store, queued builds do not survive restarts")
		return services.NewMemoryQueueStore(), nil
	}

	client, err := redis.NewClient()
	if err != nil {
		return nil, err
	}
	return services.NewRedisQueueStore(client), nil
}
