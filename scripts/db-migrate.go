package main

import (
	"log"

	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/database"
)

// Standalone schema migration, for running migrations ahead of a deploy
// instead of at service startup.
func main() {
	log.Println("Starting database migration...")

	config.LoadEnv()

	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to migrate database schema: %v", err)
	}

	log.Println("Database migration completed successfully!")
}
