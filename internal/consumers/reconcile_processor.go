package consumers

import (
	"context"
	"time"

	"chama-wallet-service/internal/models"
	"chama-wallet-service/internal/services"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ReconcileProcessor drives reconciliation passes from background
// tasks. It only selects what to reconcile; the engine does the rest.
type ReconcileProcessor struct {
	DB         *gorm.DB
	Reconciler *services.ReconcileService
}

func NewReconcileProcessor(db *gorm.DB, reconciler *services.ReconcileService) *ReconcileProcessor {
	return &ReconcileProcessor{DB: db, Reconciler: reconciler}
}

// ProcessDeposits reconciles every open deposit old enough to have
// plausibly settled. Records younger than a minute are skipped so the
// pass does not race a push the user is still looking at.
func (p *ReconcileProcessor) ProcessDeposits(ctx context.Context) error {
	var records []models.Transaction
	cutoff := time.Now().Add(-1 * time.Minute)
	if err := p.DB.
		Where("status IN ? AND created_at < ?", models.OpenStatuses(), cutoff).
		Order("created_at asc").
		Limit(500).
		Find(&records).Error; err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	summary := p.Reconciler.ReconcileDeposits(ctx, records)
	log.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("pending", summary.Pending).
		Msg("scheduled deposit reconciliation pass")
	return nil
}

// ProcessChama reconciles open collection cycles for one group, or
// all groups when groupId is zero.
func (p *ReconcileProcessor) ProcessChama(ctx context.Context, groupId uint) error {
	summary, err := p.Reconciler.ReconcileChama(ctx, groupId)
	if err != nil {
		return err
	}
	log.Info().
		Uint("group_id", groupId).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("pending", summary.Pending).
		Bool("all_final", summary.AllFinal).
		Msg("scheduled chama reconciliation pass")
	return nil
}
