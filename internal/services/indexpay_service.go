package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chama-wallet-service/internal/models"
	"chama-wallet-service/pkg/common"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Settlement is one finalized or attempted transaction from the
// gateway's settlement feed. Fetched fresh on every reconciliation
// pass, never persisted.
type Settlement struct {
	TransactionId string
	AccountNumber string
	Gate          string
	Phone         string
	Status        string
	Receipt       string
	Amount        float64
}

// CorrelationKeys returns every identifier on the settlement that may
// match a local record's correlation key, in priority order.
func (s Settlement) CorrelationKeys() []string {
	keys := make([]string, 0, 2)
	if s.TransactionId != "" {
		keys = append(keys, s.TransactionId)
	}
	if s.AccountNumber != "" {
		keys = append(keys, s.AccountNumber)
	}
	return keys
}

// StatusResult is the outcome of a direct single-transaction status
// query.
type StatusResult struct {
	Status  string // success | failed | pending | unknown
	Receipt string
	Message string
}

// DispatchResult is the parsed outcome of an STK push request.
type DispatchResult struct {
	Accepted      bool
	CorrelationId string
	RawError      string
}

// GatewayAPI is the slice of the payment gateway the reconciliation
// and collection services depend on.
type GatewayAPI interface {
	ListSettlements(ctx context.Context, from, to time.Time) []Settlement
	CheckStatus(ctx context.Context, gateName, ref string) StatusResult
	DispatchSTK(ctx context.Context, phone string, amount float64, gateName, pocketName, accountRef string) DispatchResult
}

// IndexPayService talks to the IndexPay gateway. Response field names
// are not stable across calls, so every parse probes known aliases.
type IndexPayService struct {
	DB *gorm.DB
}

func NewIndexPayService(db *gorm.DB) *IndexPayService {
	return &IndexPayService{DB: db}
}

func (s *IndexPayService) settings(gateName string) (*models.Gate, error) {
	var gate models.Gate
	if gateName != "" {
		if err := s.DB.Where("gate_name = ? AND status = 1", gateName).First(&gate).Error; err == nil {
			return &gate, nil
		}
	}
	// Fall back to the first active gate for account-wide calls.
	if err := s.DB.Where("status = 1").Order("id asc").First(&gate).Error; err != nil {
		return nil, err
	}
	return &gate, nil
}

// ListSettlements fetches the settlement feed for the date window.
// Any transport or shape failure degrades to an empty list so callers
// fall through to "nothing matched".
func (s *IndexPayService) ListSettlements(ctx context.Context, from, to time.Time) []Settlement {
	gate, err := s.settings("")
	if err != nil {
		log.Warn().Err(err).Msg("no active gate configured for settlement fetch")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, common.GatewayTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"date_from": from.Format("2006-01-02"),
		"date_to":   to.Format("2006-01-02"),
	}
	res, err := common.Post(ctx, fmt.Sprintf("%s/api/v1/settlements", gate.BaseUrl), payload, s.headers(gate))
	if err != nil {
		log.Warn().Err(err).Msg("settlement feed fetch failed")
		return nil
	}

	settlements := ParseSettlements(res)
	log.Debug().Int("count", len(settlements)).Msg("settlement feed fetched")
	return settlements
}

// CheckStatus performs a direct status query for one transaction ref.
// Degrades to unknown on any failure.
func (s *IndexPayService) CheckStatus(ctx context.Context, gateName, ref string) StatusResult {
	gate, err := s.settings(gateName)
	if err != nil {
		return StatusResult{Status: "unknown", Message: "gate not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, common.GatewayTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"gate":  gateName,
		"tr_id": ref,
	}
	res, err := common.Post(ctx, fmt.Sprintf("%s/api/v1/transaction/status", gate.BaseUrl), payload, s.headers(gate))
	if err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("status check failed")
		return StatusResult{Status: "unknown", Message: err.Error()}
	}

	return ParseStatusResult(res)
}

// DispatchSTK sends one payment-request push. Errors are captured in
// the result rather than returned: dispatch always runs inside a
// fan-out that must not abort on one member's failure.
func (s *IndexPayService) DispatchSTK(ctx context.Context, phone string, amount float64, gateName, pocketName, accountRef string) DispatchResult {
	gate, err := s.settings(gateName)
	if err != nil {
		return DispatchResult{Accepted: false, RawError: "gate not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, common.GatewayTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"phone":          phone,
		"amount":         amount,
		"gate":           gateName,
		"pocket":         pocketName,
		"account_number": accountRef,
	}
	res, err := common.Post(ctx, fmt.Sprintf("%s/api/v1/stkpush", gate.BaseUrl), payload, s.headers(gate))
	if err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("stk dispatch failed")
		return DispatchResult{Accepted: false, RawError: err.Error()}
	}

	return ParseDispatchResult(res)
}

func (s *IndexPayService) headers(gate *models.Gate) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + gate.ApiKey,
	}
}

// ParseSettlements normalizes every observed settlement feed shape
// into a flat list: an array wrapping an object with a "transactions"
// field, a bare object with "transactions" or "settlements", or a
// bare array of settlement objects.
func ParseSettlements(res interface{}) []Settlement {
	items := settlementItems(res)
	settlements := make([]Settlement, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		settlements = append(settlements, Settlement{
			TransactionId: stringField(m, "tr_id", "trans_id", "transaction_id", "transactionId", "CheckoutRequestID"),
			AccountNumber: stringField(m, "account_number", "accountNumber", "account"),
			Gate:          stringField(m, "gate", "gate_name", "gateName"),
			Phone:         stringField(m, "phone", "phone_number", "msisdn"),
			Status:        stringField(m, "status", "state", "result"),
			Receipt:       stringField(m, "mpesa_receipt_number", "receipt", "receipt_number", "MpesaReceiptNumber"),
			Amount:        floatField(m, "amount", "transaction_amount"),
		})
	}
	return settlements
}

func settlementItems(res interface{}) []interface{} {
	switch v := res.(type) {
	case []interface{}:
		// Either a bare array of settlements, or an array wrapping an
		// object that carries the list.
		if len(v) > 0 {
			if m, ok := v[0].(map[string]interface{}); ok {
				if inner := listField(m, "transactions", "settlements"); inner != nil {
					return inner
				}
			}
		}
		return v
	case map[string]interface{}:
		if inner := listField(v, "transactions", "settlements", "data"); inner != nil {
			return inner
		}
	}
	return nil
}

// ParseStatusResult normalizes a direct status-check response.
func ParseStatusResult(res interface{}) StatusResult {
	m, ok := res.(map[string]interface{})
	if !ok {
		return StatusResult{Status: "unknown"}
	}
	if data, ok := m["data"].(map[string]interface{}); ok {
		m = data
	}

	raw := stringField(m, "status", "state", "result")
	return StatusResult{
		Status:  NormalizeSettlementStatus(raw),
		Receipt: stringField(m, "mpesa_receipt_number", "receipt", "receipt_number"),
		Message: stringField(m, "message", "description"),
	}
}

// ParseDispatchResult scans the gateway's dispatch response. The
// gateway may return an array of sub-results; the dispatch counts as
// accepted only if at least one item carries a true success flag.
func ParseDispatchResult(res interface{}) DispatchResult {
	var items []interface{}
	switch v := res.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		if inner := listField(v, "results", "data"); inner != nil {
			items = inner
		} else {
			items = []interface{}{v}
		}
	default:
		return DispatchResult{Accepted: false, RawError: "unrecognized dispatch response"}
	}

	out := DispatchResult{Accepted: false}
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := m["success"].(bool); ok && v {
			out.Accepted = true
		}
		if id := stringField(m, "tr_id", "trans_id", "transaction_id", "CheckoutRequestID", "account_number"); id != "" && out.CorrelationId == "" {
			out.CorrelationId = id
		}
		if msg := stringField(m, "error", "message"); msg != "" && out.RawError == "" {
			out.RawError = msg
		}
	}
	if out.Accepted {
		out.RawError = ""
	} else if out.RawError == "" {
		out.RawError = "dispatch rejected by gateway"
	}
	return out
}

// NormalizeSettlementStatus folds the gateway's free-text status into
// success, failed, or pending.
func NormalizeSettlementStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "completed", "complete":
		return "success"
	case "failed", "failure", "cancelled", "canceled":
		return "failed"
	default:
		return "pending"
	}
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func floatField(m map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case string:
			var f float64
			if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
				return f
			}
		}
	}
	return 0
}

func listField(m map[string]interface{}, keys ...string) []interface{} {
	for _, k := range keys {
		if v, ok := m[k].([]interface{}); ok {
			return v
		}
	}
	return nil
}
