package main

import (
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"chama-wallet-service/internal/consumers"
	"chama-wallet-service/internal/database"
	"chama-wallet-service/internal/services"
	"chama-wallet-service/internal/worker"
)

func main() {
	// Load env
	if err := godotenv.Load("../../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Info().Msg("no .env file found, using system environment variables")
		}
	}

	// Connect DB
	database.Connect()
	db := database.DB

	// Init Services
	helperService := services.NewHelperService(db)
	gatewayService := services.NewIndexPayService(db)
	reconcileService := services.NewReconcileService(db, gatewayService, helperService, services.PolicyFromEnv())

	// Processor
	processor := consumers.NewReconcileProcessor(db, reconcileService)

	// Redis
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	log.Info().Msg("starting reconciliation worker")
	worker.StartWorker(redisOpt, processor)
}
