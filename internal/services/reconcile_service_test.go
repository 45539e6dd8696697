package services

import (
	"context"
	"testing"
	"time"

	"chama-wallet-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestReconciler(db *gorm.DB, gw GatewayAPI, now time.Time) *ReconcileService {
	svc := NewReconcileService(db, gw, NewHelperService(db), DefaultPolicyConfig())
	svc.now = func() time.Time { return now }
	return svc
}

func seedWallet(t *testing.T, db *gorm.DB, userId int, balance float64) {
	t.Helper()
	w := models.Wallet{UserId: userId, Username: "tester", PhoneNumber: "254700111222", Balance: balance, Currency: "KES", Status: 1}
	require.NoError(t, db.Create(&w).Error)
}

func seedDeposit(t *testing.T, db *gorm.DB, userId int, amount float64, status models.PaymentStatus) models.Transaction {
	t.Helper()
	trx := models.Transaction{
		UserId:        userId,
		TransactionNo: "TRX0001",
		AccountNumber: "DEP-AB12CD3",
		Amount:        amount,
		PhoneNumber:   "254700111222",
		GateName:      "mpesa-ke",
		Status:        status,
		AttemptCount:  1,
		LastAttemptAt: time.Now(),
	}
	require.NoError(t, db.Create(&trx).Error)
	return trx
}

func TestReconcileDepositsSettlementMatchCreditsWallet(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 100)
	trx := seedDeposit(t, db, 7, 500, models.StatusSent)

	gw := newFakeGateway()
	gw.settlements = []Settlement{{
		AccountNumber: trx.AccountNumber,
		Gate:          "mpesa-ke",
		Status:        "SUCCESS",
		Receipt:       "QBC12XYZ",
		Amount:        500,
	}}

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	assert.Equal(t, 1, summary.Completed)
	assert.True(t, summary.AllFinal)

	var got models.Transaction
	require.NoError(t, db.First(&got, trx.ID).Error)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "QBC12XYZ", got.MpesaReceiptNumber)

	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", 7).First(&wallet).Error)
	assert.Equal(t, 600.0, wallet.Balance)
}

func TestReconcileDepositsRepeatPassCreditsOnce(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 250, models.StatusSent)

	gw := newFakeGateway()
	gw.settlements = []Settlement{{TransactionId: "CKR-777", Status: "completed", Receipt: "RCP1", Amount: 250}}
	require.NoError(t, db.Model(&trx).Update("checkout_request_id", "CKR-777").Error)
	trx.CheckoutRequestId = "CKR-777"

	svc := newTestReconciler(db, gw, time.Now())
	svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})
	// Second pass with the same stale in-memory record simulates a
	// concurrent poller that read the row before the first pass wrote it.
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	assert.Equal(t, 1, summary.Completed)

	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", 7).First(&wallet).Error)
	assert.Equal(t, 250.0, wallet.Balance)
}

func TestReconcileDepositsWrongKeyDoesNotMatch(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 250, models.StatusSent)

	gw := newFakeGateway()
	gw.settlements = []Settlement{{
		AccountNumber: "DEP-SOMEONE-ELSE",
		Status:        "success",
		Receipt:       "RCP9",
		Amount:        250,
		Phone:         "254799000111", // different suffix, no fallback match
	}}

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	assert.Equal(t, 1, summary.Pending)
	assert.False(t, summary.AllFinal)

	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", 7).First(&wallet).Error)
	assert.Equal(t, 0.0, wallet.Balance)
}

func TestReconcileDepositsPhoneSuffixFallbackNeedsExactAmount(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 250, models.StatusSent)

	gw := newFakeGateway()
	gw.settlements = []Settlement{
		{Phone: "+254700111222", Status: "success", Receipt: "RCP-NEAR", Amount: 300},
		{Phone: "0700111222", Status: "success", Receipt: "RCP-EXACT", Amount: 250},
	}

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	assert.Equal(t, 1, summary.Completed)

	var got models.Transaction
	require.NoError(t, db.First(&got, trx.ID).Error)
	assert.Equal(t, "RCP-EXACT", got.MpesaReceiptNumber)
}

func TestReconcileDepositsFailedSettlement(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 250, models.StatusSent)

	gw := newFakeGateway()
	gw.settlements = []Settlement{{AccountNumber: trx.AccountNumber, Status: "cancelled", Amount: 250}}

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	assert.Equal(t, 1, summary.Failed)

	var got models.Transaction
	require.NoError(t, db.First(&got, trx.ID).Error)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "cancelled")

	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", 7).First(&wallet).Error)
	assert.Equal(t, 0.0, wallet.Balance)
}

func TestReconcileDepositsStatusCheckFallback(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 120, models.StatusSent)

	gw := newFakeGateway()
	gw.statuses[trx.AccountNumber] = StatusResult{Status: "success", Receipt: "RCP-DIRECT"}

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	assert.Equal(t, 1, summary.Completed)

	var got models.Transaction
	require.NoError(t, db.First(&got, trx.ID).Error)
	assert.Equal(t, "RCP-DIRECT", got.MpesaReceiptNumber)
}

func TestReconcileDepositsExpiry(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 250, models.StatusSent)
	require.NoError(t, db.First(&trx, trx.ID).Error) // reload for the persisted created_at

	gw := newFakeGateway() // no settlements, status unknown

	// 90 minutes old: still inside the expiry window.
	svc := newTestReconciler(db, gw, trx.CreatedAt.Add(90*time.Minute))
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})
	assert.Equal(t, 1, summary.Pending)

	// Past two hours: the record expires.
	svc = newTestReconciler(db, gw, trx.CreatedAt.Add(2*time.Hour+time.Minute))
	summary = svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})
	assert.Equal(t, 1, summary.Failed)

	var got models.Transaction
	require.NoError(t, db.First(&got, trx.ID).Error)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "expired")
}

func TestFailDepositLosesRaceToCompletion(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, 7, 0)
	trx := seedDeposit(t, db, 7, 250, models.StatusSent)

	// Another pass completed the row while we held a stale copy.
	require.NoError(t, db.Model(&models.Transaction{}).Where("id = ?", trx.ID).
		Update("status", models.StatusCompleted).Error)

	gw := newFakeGateway()
	gw.settlements = []Settlement{{AccountNumber: trx.AccountNumber, Status: "failed", Amount: 250}}

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), []models.Transaction{trx})

	// The guard refuses the failure transition and reports the row as is.
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)

	var got models.Transaction
	require.NoError(t, db.First(&got, trx.ID).Error)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestReconcileDepositsEmptyBatch(t *testing.T) {
	db := setupTestDB(t)
	gw := newFakeGateway()

	svc := newTestReconciler(db, gw, time.Now())
	summary := svc.ReconcileDeposits(context.Background(), nil)

	assert.True(t, summary.AllFinal)
	assert.Empty(t, summary.Outcomes)
}
