package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"about-last-night/server/internal/app"
)

func main() {
	// Missing .env is fine; production configures through the environment.
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("%v", err)
	}
}
