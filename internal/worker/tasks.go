package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeReconcileDeposits = "reconcile:deposits"
	TypeReconcileChama    = "reconcile:chama"
)

// ReconcileChamaPayload narrows a chama reconciliation pass to one
// group; zero means every group with an open cycle.
type ReconcileChamaPayload struct {
	GroupId uint `json:"groupId"`
}

// Task Creators

func NewReconcileDepositsTask() *asynq.Task {
	return asynq.NewTask(TypeReconcileDeposits, nil)
}

func NewReconcileChamaTask(payload ReconcileChamaPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcileChama, data), nil
}
