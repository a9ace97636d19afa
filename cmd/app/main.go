package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/roomviz/render-engine/config"
	"github.com/roomviz/render-engine/internal/app"
)

func main() {
	// Config
	if _, err := os.Stat(".env"); err == nil {
		err = godotenv.Load()
		if err != nil {
			log.Fatalf("config error: %s", err)
		}
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %s", err)
	}

	// Run
	app.Run(cfg)
}
