// Command router runs the narrative turn router's HTTP API: PipelineDriver,
// RunStore, Registry, and ModuleClient wired together behind gin.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/api"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/moduleclient"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/orchestrator"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/registry"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."), "Path to the directory holding .env")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client, err := moduleclient.New(cfg.ModuleRequestTimeout)
	if err != nil {
		log.Fatalf("Failed to build module client: %v", err)
	}
	reg := registry.New(cfg)
	st := store.New(cfg.GameProjectsRoot)
	driver := orchestrator.New(reg, client)

	server := api.NewServer(cfg, st, driver)
	router := server.Router()

	log.Printf("Starting narrative turn router")
	log.Printf("HTTP port: %s", cfg.Port)
	log.Printf("Game projects root: %s", cfg.GameProjectsRoot)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
