package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"eventposter/cmd"
	"eventposter/internal/config"
	"eventposter/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load configuration
	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		// Use default logger config if main config fails
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting eventposter")

	cmd.Execute(cfg, cfgErr)

	log.Debug().Msg("eventposter shutdown")
}
