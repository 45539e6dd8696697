package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"chama-wallet-service/internal/database"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Info().Msg("no .env file found, using system environment variables")
		}
	}

	// Initialize Database
	database.Connect()

	// Run Migrations
	log.Info().Msg("running database migrations")
	database.Migrate()

	log.Info().Msg("migrations completed successfully")
}
