package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"chama-wallet-service/internal/consumers"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

type Worker struct {
	Processor *consumers.ReconcileProcessor
}

func NewWorker(processor *consumers.ReconcileProcessor) *Worker {
	return &Worker{Processor: processor}
}

func (w *Worker) HandleReconcileDeposits(ctx context.Context, t *asynq.Task) error {
	return w.Processor.ProcessDeposits(ctx)
}

func (w *Worker) HandleReconcileChama(ctx context.Context, t *asynq.Task) error {
	var p ReconcileChamaPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
	}
	return w.Processor.ProcessChama(ctx, p.GroupId)
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.ReconcileProcessor) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	worker := NewWorker(processor)
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeReconcileDeposits, worker.HandleReconcileDeposits)
	mux.HandleFunc(TypeReconcileChama, worker.HandleReconcileChama)

	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("could not run worker server")
	}
}
