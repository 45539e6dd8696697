package main

import (
	"os"

	"chama-wallet-service/internal/database"
	"chama-wallet-service/internal/handlers"
	"chama-wallet-service/internal/services"
	"chama-wallet-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using system environment variables")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	// Init Services
	helperService := services.NewHelperService(db)
	gatewayService := services.NewIndexPayService(db)
	policy := services.PolicyFromEnv()

	reconcileService := services.NewReconcileService(db, gatewayService, helperService, policy)
	chamaService := services.NewChamaService(db, gatewayService, helperService)
	walletService := services.NewWalletService(db, gatewayService, helperService)

	// Redis/Asynq Client
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	// Handlers
	walletHandler := handlers.NewWalletHandler(walletService)
	reconcileHandler := handlers.NewReconcileHandler(reconcileService, walletService)
	chamaHandler := handlers.NewChamaHandler(chamaService)

	// Initialize Gin
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome to Chama Wallet service",
		})
	})

	api := r.Group("/api/v1", handlers.AuthRequired())
	{
		api.GET("/wallets/balance", walletHandler.GetBalance)
		api.GET("/transactions", walletHandler.GetTransactions)
		api.POST("/deposits", walletHandler.InitiateDeposit)
		api.POST("/reconcile/deposits", reconcileHandler.ReconcileDeposits)
		api.POST("/reconcile/chama", reconcileHandler.ReconcileChama)
		api.POST("/chama/:groupId/collections", chamaHandler.StartCollection)
	}

	// Schedulers: periodic reconciliation runs in the worker via
	// asynq; cron only enqueues.
	startSchedulers(asynqClient)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Info().Str("port", port).Msg("HTTP server starting")
	if err := r.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

func startSchedulers(client *asynq.Client) {
	c := cron.New()

	// Every 5 minutes: sweep open deposits and open chama cycles.
	_, err := c.AddFunc("*/5 * * * *", func() {
		if _, err := client.Enqueue(worker.NewReconcileDepositsTask(), asynq.Queue("default")); err != nil {
			log.Error().Err(err).Msg("failed to enqueue deposit reconciliation")
		}

		task, err := worker.NewReconcileChamaTask(worker.ReconcileChamaPayload{})
		if err != nil {
			log.Error().Err(err).Msg("failed to build chama reconciliation task")
			return
		}
		if _, err := client.Enqueue(task, asynq.Queue("default")); err != nil {
			log.Error().Err(err).Msg("failed to enqueue chama reconciliation")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to schedule reconciliation sweeps")
		return
	}

	c.Start()
	log.Info().Msg("reconciliation scheduler started (every 5 minutes)")
}
