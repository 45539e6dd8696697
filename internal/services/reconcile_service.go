package services

import (
	"context"
	"fmt"
	"time"

	"chama-wallet-service/internal/models"
	"chama-wallet-service/pkg/common"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RecordOutcome is the per-record result of one reconciliation pass.
type RecordOutcome struct {
	RecordId uint                 `json:"record_id"`
	Status   models.PaymentStatus `json:"status"`
	Message  string               `json:"message,omitempty"`
}

// ReconcileSummary aggregates one reconciliation pass. AllFinal tells
// the caller whether further polling is pointless.
type ReconcileSummary struct {
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Pending   int             `json:"pending"`
	AllFinal  bool            `json:"all_final"`
	Outcomes  []RecordOutcome `json:"outcomes"`
}

func (s *ReconcileSummary) add(o RecordOutcome) {
	switch o.Status {
	case models.StatusCompleted:
		s.Completed++
	case models.StatusFailed:
		s.Failed++
	default:
		s.Pending++
	}
	s.Outcomes = append(s.Outcomes, o)
}

func (s *ReconcileSummary) finalize() {
	s.AllFinal = s.Pending == 0
}

// ReconcileService converges local pending records with the gateway's
// settlement feed. It is stateless between invocations; two passes may
// run concurrently, and the guarded conditional updates are the only
// thing preventing double-crediting.
type ReconcileService struct {
	DB      *gorm.DB
	Gateway GatewayAPI
	Helper  *HelperService
	Policy  PolicyConfig

	now func() time.Time
}

func NewReconcileService(db *gorm.DB, gateway GatewayAPI, helper *HelperService, policy PolicyConfig) *ReconcileService {
	return &ReconcileService{
		DB:      db,
		Gateway: gateway,
		Helper:  helper,
		Policy:  policy,
		now:     time.Now,
	}
}

// settlementWindow is yesterday through tomorrow, wide enough to
// tolerate clock skew and late-arriving feed records.
func (s *ReconcileService) settlementWindow() (time.Time, time.Time) {
	now := s.now()
	return now.AddDate(0, 0, -1), now.AddDate(0, 0, 1)
}

// ReconcileDeposits runs the single-deposit flow over a batch of
// pending transactions. The settlement feed is fetched once per batch.
func (s *ReconcileService) ReconcileDeposits(ctx context.Context, records []models.Transaction) ReconcileSummary {
	summary := ReconcileSummary{}
	if len(records) == 0 {
		summary.finalize()
		return summary
	}

	from, to := s.settlementWindow()
	settlements := s.Gateway.ListSettlements(ctx, from, to)

	for i := range records {
		summary.add(s.reconcileDeposit(ctx, &records[i], settlements))
	}
	summary.finalize()
	return summary
}

func (s *ReconcileService) reconcileDeposit(ctx context.Context, rec *models.Transaction, settlements []Settlement) RecordOutcome {
	if rec.Status.Terminal() {
		return RecordOutcome{RecordId: rec.ID, Status: rec.Status}
	}

	// Step 1: settlement feed match.
	if match := findSettlement(settlements, depositKeys(rec), rec.GateName, rec.PhoneNumber, rec.Amount); match != nil {
		switch NormalizeSettlementStatus(match.Status) {
		case "success":
			return s.completeDeposit(rec, match.Receipt)
		case "failed":
			return s.failDeposit(rec, "gateway reported "+match.Status)
		}
		// Still pending at the gateway: fall through.
	}

	// Step 2: direct status-check fallback.
	ref := depositRef(rec)
	if rec.GateName != "" && ref != "" {
		res := s.Gateway.CheckStatus(ctx, rec.GateName, ref)
		switch res.Status {
		case "success":
			return s.completeDeposit(rec, res.Receipt)
		case "failed":
			return s.failDeposit(rec, "gateway reported failure: "+res.Message)
		}
	}

	// Step 3: age policy.
	age := s.now().Sub(rec.CreatedAt)
	if age > s.Policy.DepositRecheckAfter && rec.GateName != "" && ref != "" {
		res := s.Gateway.CheckStatus(ctx, rec.GateName, ref)
		switch res.Status {
		case "success":
			return s.completeDeposit(rec, res.Receipt)
		case "failed":
			return s.failDeposit(rec, "gateway reported failure: "+res.Message)
		}
	}
	if age > s.Policy.DepositExpiry {
		return s.failDeposit(rec, "expired: no confirmation received")
	}

	return RecordOutcome{RecordId: rec.ID, Status: rec.Status, Message: "awaiting confirmation"}
}

// completeDeposit transitions the record to completed and credits the
// wallet, both inside one transaction. The conditional update is the
// idempotency guard: zero rows affected means another pass already
// completed it, and the credit must not re-apply.
func (s *ReconcileService) completeDeposit(rec *models.Transaction, receipt string) RecordOutcome {
	credited := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status <> ?", rec.ID, models.StatusCompleted).
			Updates(map[string]interface{}{
				"status":               models.StatusCompleted,
				"mpesa_receipt_number": receipt,
				"error_message":        "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already completed by a concurrent pass.
			return nil
		}
		credited = true
		return s.Helper.CreditWallet(tx, rec.UserId, rec.Amount)
	})
	if err != nil {
		log.Error().Err(err).Uint("transaction_id", rec.ID).Msg("deposit completion failed")
		return RecordOutcome{RecordId: rec.ID, Status: rec.Status, Message: "storage error, will retry next pass"}
	}

	if credited {
		log.Info().Uint("transaction_id", rec.ID).Str("receipt", receipt).Float64("amount", rec.Amount).Msg("deposit completed")
		s.Helper.LogCallback("reconcile", "deposit completed", rec.TransactionNo, rec.GateName, 1, map[string]string{"receipt": receipt})
	}
	rec.Status = models.StatusCompleted
	rec.MpesaReceiptNumber = receipt
	return RecordOutcome{RecordId: rec.ID, Status: models.StatusCompleted}
}

func (s *ReconcileService) failDeposit(rec *models.Transaction, message string) RecordOutcome {
	res := s.DB.Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", rec.ID, openStatusStrings()).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": message,
		})
	if res.Error != nil {
		log.Error().Err(res.Error).Uint("transaction_id", rec.ID).Msg("deposit failure transition failed")
		return RecordOutcome{RecordId: rec.ID, Status: rec.Status}
	}
	if res.RowsAffected == 0 {
		// Raced with a completion; report what the row became.
		var current models.Transaction
		if err := s.DB.First(&current, rec.ID).Error; err == nil {
			return RecordOutcome{RecordId: rec.ID, Status: current.Status}
		}
		return RecordOutcome{RecordId: rec.ID, Status: rec.Status}
	}

	log.Info().Uint("transaction_id", rec.ID).Str("reason", message).Msg("deposit failed")
	s.Helper.LogCallback("reconcile", "deposit failed", rec.TransactionNo, rec.GateName, 0, map[string]string{"reason": message})
	rec.Status = models.StatusFailed
	rec.ErrorMessage = message
	return RecordOutcome{RecordId: rec.ID, Status: models.StatusFailed, Message: message}
}

// ReconcileChama runs the bulk flow over every open collection cycle
// (for one group, or all groups when groupId is zero). Unresolved
// requests are handed to the retry policy, which may re-dispatch.
func (s *ReconcileService) ReconcileChama(ctx context.Context, groupId uint) (ReconcileSummary, error) {
	summary := ReconcileSummary{}

	var cycles []models.CollectionCycle
	q := s.DB.Where("status IN ?", []models.CycleStatus{models.CycleCollecting, models.CycleCollected})
	if groupId != 0 {
		q = q.Where("group_id = ?", groupId)
	}
	if err := q.Find(&cycles).Error; err != nil {
		return summary, fmt.Errorf("load open cycles: %w", err)
	}
	if len(cycles) == 0 {
		summary.finalize()
		return summary, nil
	}

	cycleIds := make([]uint, len(cycles))
	for i, c := range cycles {
		cycleIds[i] = c.ID
	}

	var requests []models.StkRequest
	if err := s.DB.Where("cycle_id IN ? AND status IN ?", cycleIds, openStatusStrings()).Find(&requests).Error; err != nil {
		return summary, fmt.Errorf("load pending stk requests: %w", err)
	}

	var settlements []Settlement
	if len(requests) > 0 {
		from, to := s.settlementWindow()
		settlements = s.Gateway.ListSettlements(ctx, from, to)
	}

	for i := range requests {
		summary.add(s.reconcileStkRequest(ctx, &requests[i], settlements))
	}

	for i := range cycles {
		if err := s.refreshCycle(&cycles[i]); err != nil {
			log.Error().Err(err).Uint("cycle_id", cycles[i].ID).Msg("cycle counter refresh failed")
		}
	}

	summary.finalize()
	return summary, nil
}

func (s *ReconcileService) reconcileStkRequest(ctx context.Context, req *models.StkRequest, settlements []Settlement) RecordOutcome {
	if req.Status.Terminal() {
		return RecordOutcome{RecordId: req.ID, Status: req.Status}
	}

	// Step 1: settlement feed match.
	if match := findSettlement(settlements, stkKeys(req), req.GateName, req.PhoneNumber, req.Amount); match != nil {
		switch NormalizeSettlementStatus(match.Status) {
		case "success":
			return s.completeStkRequest(req, match.Receipt)
		case "failed":
			return s.failStkRequest(req, "gateway reported "+match.Status)
		}
	}

	// Step 2: direct status-check fallback.
	ref := stkRef(req)
	if req.GateName != "" && ref != "" {
		res := s.Gateway.CheckStatus(ctx, req.GateName, ref)
		switch res.Status {
		case "success":
			return s.completeStkRequest(req, res.Receipt)
		case "failed":
			return s.failStkRequest(req, "gateway reported failure: "+res.Message)
		}
	}

	// Step 3: retry policy. Each member's push is independently
	// retryable, so there is no hard ceiling here.
	decision := s.Policy.Decide(*req, s.now())
	switch decision.Action {
	case ActionGiveUp:
		return s.failStkRequest(req, fmt.Sprintf("no response after %d attempts", req.AttemptCount))
	case ActionRetry:
		return s.redispatchStkRequest(ctx, req)
	default:
		return RecordOutcome{RecordId: req.ID, Status: req.Status, Message: "awaiting confirmation"}
	}
}

func (s *ReconcileService) completeStkRequest(req *models.StkRequest, receipt string) RecordOutcome {
	credited := false
	var groupId uint
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.StkRequest{}).
			Where("id = ? AND status <> ?", req.ID, models.StatusCompleted).
			Updates(map[string]interface{}{
				"status":               models.StatusCompleted,
				"mpesa_receipt_number": receipt,
				"error_message":        "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		credited = true

		var cycle models.CollectionCycle
		if err := tx.First(&cycle, req.CycleId).Error; err != nil {
			return err
		}
		groupId = cycle.GroupId

		if err := tx.Model(&models.CollectionCycle{}).
			Where("id = ?", cycle.ID).
			UpdateColumn("collected_amount", gorm.Expr("collected_amount + ?", req.Amount)).Error; err != nil {
			return err
		}
		return s.Helper.CreditContribution(tx, req.MemberId, groupId, req.Amount)
	})
	if err != nil {
		log.Error().Err(err).Uint("stk_request_id", req.ID).Msg("stk completion failed")
		return RecordOutcome{RecordId: req.ID, Status: req.Status, Message: "storage error, will retry next pass"}
	}

	if credited {
		log.Info().Uint("stk_request_id", req.ID).Str("receipt", receipt).Float64("amount", req.Amount).Msg("contribution completed")
		s.Helper.LogCallback("reconcile", "contribution completed", req.AccountNumber, req.GateName, 1, map[string]string{"receipt": receipt})
	}
	req.Status = models.StatusCompleted
	req.MpesaReceiptNumber = receipt
	return RecordOutcome{RecordId: req.ID, Status: models.StatusCompleted}
}

func (s *ReconcileService) failStkRequest(req *models.StkRequest, message string) RecordOutcome {
	res := s.DB.Model(&models.StkRequest{}).
		Where("id = ? AND status IN ?", req.ID, openStatusStrings()).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": message,
		})
	if res.Error != nil {
		log.Error().Err(res.Error).Uint("stk_request_id", req.ID).Msg("stk failure transition failed")
		return RecordOutcome{RecordId: req.ID, Status: req.Status}
	}
	if res.RowsAffected == 0 {
		var current models.StkRequest
		if err := s.DB.First(&current, req.ID).Error; err == nil {
			return RecordOutcome{RecordId: req.ID, Status: current.Status}
		}
		return RecordOutcome{RecordId: req.ID, Status: req.Status}
	}

	log.Info().Uint("stk_request_id", req.ID).Str("reason", message).Msg("stk request failed")
	req.Status = models.StatusFailed
	req.ErrorMessage = message
	return RecordOutcome{RecordId: req.ID, Status: models.StatusFailed, Message: message}
}

// redispatchStkRequest re-sends the push for a member whose previous
// attempt expired unanswered. The attempt counter increments on every
// actual dispatch; a rejected dispatch only becomes terminal once the
// counter reaches the cap.
func (s *ReconcileService) redispatchStkRequest(ctx context.Context, req *models.StkRequest) RecordOutcome {
	result := s.Gateway.DispatchSTK(ctx, req.PhoneNumber, req.Amount, req.GateName, "", req.AccountNumber)
	now := s.now()
	attempts := req.AttemptCount + 1

	if result.Accepted {
		updates := map[string]interface{}{
			"status":          models.StatusSent,
			"attempt_count":   attempts,
			"last_attempt_at": now,
			"error_message":   "",
		}
		if result.CorrelationId != "" {
			updates["checkout_request_id"] = result.CorrelationId
		}
		res := s.DB.Model(&models.StkRequest{}).
			Where("id = ? AND status IN ?", req.ID, openStatusStrings()).
			Updates(updates)
		if res.Error == nil && res.RowsAffected > 0 {
			req.Status = models.StatusSent
			req.AttemptCount = attempts
			req.LastAttemptAt = now
			if result.CorrelationId != "" {
				req.CheckoutRequestId = result.CorrelationId
			}
			log.Info().Uint("stk_request_id", req.ID).Int("attempt", attempts).Msg("stk push re-dispatched")
		}
		return RecordOutcome{RecordId: req.ID, Status: req.Status, Message: fmt.Sprintf("retried, attempt %d", attempts)}
	}

	// Dispatch rejected. Burn the attempt; the record only fails for
	// good once the cap is reached.
	if attempts >= s.Policy.StkMaxAttempts {
		s.DB.Model(&models.StkRequest{}).
			Where("id = ? AND status IN ?", req.ID, openStatusStrings()).
			Updates(map[string]interface{}{
				"attempt_count":   attempts,
				"last_attempt_at": now,
			})
		req.AttemptCount = attempts
		return s.failStkRequest(req, fmt.Sprintf("no response after %d attempts", attempts))
	}

	s.DB.Model(&models.StkRequest{}).
		Where("id = ? AND status IN ?", req.ID, openStatusStrings()).
		Updates(map[string]interface{}{
			"attempt_count":   attempts,
			"last_attempt_at": now,
			"error_message":   result.RawError,
		})
	req.AttemptCount = attempts
	req.LastAttemptAt = now
	req.ErrorMessage = result.RawError
	return RecordOutcome{RecordId: req.ID, Status: req.Status, Message: "dispatch rejected: " + result.RawError}
}

// refreshCycle recomputes the cycle's member counters and promotes it
// to collected once every member record has completed.
func (s *ReconcileService) refreshCycle(cycle *models.CollectionCycle) error {
	var total, completed, failed int64
	if err := s.DB.Model(&models.StkRequest{}).Where("cycle_id = ?", cycle.ID).Count(&total).Error; err != nil {
		return err
	}
	if err := s.DB.Model(&models.StkRequest{}).Where("cycle_id = ? AND status = ?", cycle.ID, models.StatusCompleted).Count(&completed).Error; err != nil {
		return err
	}
	if err := s.DB.Model(&models.StkRequest{}).Where("cycle_id = ? AND status = ?", cycle.ID, models.StatusFailed).Count(&failed).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"members_pending": int(total - completed - failed),
		"members_failed":  int(failed),
	}
	if total > 0 && completed == total && cycle.Status == models.CycleCollecting {
		updates["status"] = models.CycleCollected
	}
	return s.DB.Model(&models.CollectionCycle{}).Where("id = ?", cycle.ID).Updates(updates).Error
}

func depositKeys(rec *models.Transaction) []string {
	keys := make([]string, 0, 3)
	for _, k := range []string{rec.CheckoutRequestId, rec.AccountNumber, rec.TransactionNo} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func depositRef(rec *models.Transaction) string {
	if rec.CheckoutRequestId != "" {
		return rec.CheckoutRequestId
	}
	return rec.AccountNumber
}

func stkKeys(req *models.StkRequest) []string {
	keys := make([]string, 0, 2)
	for _, k := range []string{req.CheckoutRequestId, req.AccountNumber} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func stkRef(req *models.StkRequest) string {
	if req.CheckoutRequestId != "" {
		return req.CheckoutRequestId
	}
	return req.AccountNumber
}

// findSettlement matches a record against the feed. Correlation keys
// are tried in priority order against every alias the feed carries;
// the gate must agree unless the record has none. Phone-suffix
// matching is a last resort and only accepted together with an exact
// amount match, since trailing digits alone can collide.
func findSettlement(settlements []Settlement, keys []string, gateName, phone string, amount float64) *Settlement {
	for _, key := range keys {
		for i := range settlements {
			st := &settlements[i]
			if gateName != "" && st.Gate != "" && st.Gate != gateName {
				continue
			}
			for _, sk := range st.CorrelationKeys() {
				if sk == key {
					return st
				}
			}
		}
	}

	if phone == "" {
		return nil
	}
	suffix := common.TrailingDigits(phone, 9)
	if suffix == "" {
		return nil
	}
	for i := range settlements {
		st := &settlements[i]
		if gateName != "" && st.Gate != "" && st.Gate != gateName {
			continue
		}
		if st.Amount != amount {
			continue
		}
		if common.TrailingDigits(st.Phone, 9) == suffix {
			return st
		}
	}
	return nil
}

func openStatusStrings() []models.PaymentStatus {
	return models.OpenStatuses()
}
