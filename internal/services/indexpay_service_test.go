package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chama-wallet-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestParseSettlementsShapes(t *testing.T) {
	tests := []struct {
		name string
		res  interface{}
		want int
	}{
		{
			"array wrapping an object with transactions",
			[]interface{}{map[string]interface{}{
				"transactions": []interface{}{
					map[string]interface{}{"tr_id": "A1", "status": "success", "amount": 100.0},
					map[string]interface{}{"tr_id": "A2", "status": "failed", "amount": 50.0},
				},
			}},
			2,
		},
		{
			"bare object with settlements",
			map[string]interface{}{
				"settlements": []interface{}{
					map[string]interface{}{"trans_id": "B1", "state": "completed"},
				},
			},
			1,
		},
		{
			"bare object with data",
			map[string]interface{}{
				"data": []interface{}{
					map[string]interface{}{"transaction_id": "C1"},
				},
			},
			1,
		},
		{
			"bare array of settlements",
			[]interface{}{
				map[string]interface{}{"CheckoutRequestID": "D1", "MpesaReceiptNumber": "RCP"},
			},
			1,
		},
		{"nil response", nil, 0},
		{"string response", "upstream maintenance", 0},
		{"non-object items skipped", []interface{}{"garbage", 12.0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSettlements(tt.res)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseSettlementsFieldAliases(t *testing.T) {
	res := []interface{}{map[string]interface{}{
		"transactions": []interface{}{map[string]interface{}{
			"trans_id":       "TX-9",
			"accountNumber":  "ACC-9",
			"gate_name":      "mpesa-ke",
			"msisdn":         "254700111222",
			"result":         "Success",
			"receipt_number": "RCP-9",
			"amount":         "150.50",
		}},
	}}

	got := ParseSettlements(res)
	require.Len(t, got, 1)
	st := got[0]
	assert.Equal(t, "TX-9", st.TransactionId)
	assert.Equal(t, "ACC-9", st.AccountNumber)
	assert.Equal(t, "mpesa-ke", st.Gate)
	assert.Equal(t, "254700111222", st.Phone)
	assert.Equal(t, "Success", st.Status)
	assert.Equal(t, "RCP-9", st.Receipt)
	assert.Equal(t, 150.50, st.Amount)
	assert.Equal(t, []string{"TX-9", "ACC-9"}, st.CorrelationKeys())
}

func TestParseStatusResult(t *testing.T) {
	res := map[string]interface{}{
		"data": map[string]interface{}{
			"status":  "COMPLETED",
			"receipt": "RCP-22",
			"message": "ok",
		},
	}
	got := ParseStatusResult(res)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "RCP-22", got.Receipt)

	got = ParseStatusResult("service unavailable")
	assert.Equal(t, "unknown", got.Status)

	got = ParseStatusResult(map[string]interface{}{"state": "Cancelled"})
	assert.Equal(t, "failed", got.Status)
}

func TestParseDispatchResult(t *testing.T) {
	tests := []struct {
		name       string
		res        interface{}
		accepted   bool
		corrId     string
		errSnippet string
	}{
		{
			"object with success true",
			map[string]interface{}{"success": true, "tr_id": "CKR-1"},
			true, "CKR-1", "",
		},
		{
			"array with one success",
			[]interface{}{
				map[string]interface{}{"success": false, "error": "busy"},
				map[string]interface{}{"success": true, "trans_id": "CKR-2"},
			},
			true, "", "",
		},
		{
			"object wrapping results",
			map[string]interface{}{"results": []interface{}{
				map[string]interface{}{"success": true, "CheckoutRequestID": "CKR-3"},
			}},
			true, "CKR-3", "",
		},
		{
			"rejected with message",
			map[string]interface{}{"success": false, "message": "insufficient float"},
			false, "", "insufficient float",
		},
		{
			"rejected without message",
			map[string]interface{}{"success": false},
			false, "", "rejected by gateway",
		},
		{
			"unrecognized shape",
			"plain text",
			false, "", "unrecognized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDispatchResult(tt.res)
			assert.Equal(t, tt.accepted, got.Accepted)
			if tt.corrId != "" {
				assert.Equal(t, tt.corrId, got.CorrelationId)
			}
			if tt.errSnippet != "" {
				assert.Contains(t, got.RawError, tt.errSnippet)
			} else if tt.accepted {
				assert.Empty(t, got.RawError)
			}
		})
	}
}

func TestNormalizeSettlementStatus(t *testing.T) {
	assert.Equal(t, "success", NormalizeSettlementStatus("SUCCESS"))
	assert.Equal(t, "success", NormalizeSettlementStatus(" completed "))
	assert.Equal(t, "success", NormalizeSettlementStatus("Successful"))
	assert.Equal(t, "failed", NormalizeSettlementStatus("Cancelled"))
	assert.Equal(t, "failed", NormalizeSettlementStatus("failure"))
	assert.Equal(t, "pending", NormalizeSettlementStatus("processing"))
	assert.Equal(t, "pending", NormalizeSettlementStatus(""))
}

func seedGate(t *testing.T, db *gorm.DB, baseUrl string) {
	t.Helper()
	gate := models.Gate{GateName: "mpesa-ke", PocketName: "main", BaseUrl: baseUrl, ApiKey: "key-123", Status: 1}
	require.NoError(t, db.Create(&gate).Error)
}

func TestIndexPayServiceRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/settlements":
			w.Write([]byte(`[{"transactions":[{"tr_id":"TX-1","status":"success","amount":75}]}]`))
		case "/api/v1/transaction/status":
			w.Write([]byte(`{"data":{"status":"success","receipt":"RCP-7"}}`))
		case "/api/v1/stkpush":
			w.Write([]byte(`{"success":true,"tr_id":"CKR-55"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	db := setupTestDB(t)
	seedGate(t, db, srv.URL)
	svc := NewIndexPayService(db)
	ctx := context.Background()

	settlements := svc.ListSettlements(ctx, time.Now().AddDate(0, 0, -1), time.Now())
	require.Len(t, settlements, 1)
	assert.Equal(t, "TX-1", settlements[0].TransactionId)
	assert.Equal(t, 75.0, settlements[0].Amount)

	status := svc.CheckStatus(ctx, "mpesa-ke", "TX-1")
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, "RCP-7", status.Receipt)

	dispatch := svc.DispatchSTK(ctx, "254700111222", 75, "mpesa-ke", "main", "ACC-1")
	assert.True(t, dispatch.Accepted)
	assert.Equal(t, "CKR-55", dispatch.CorrelationId)
}

func TestIndexPayServiceDegradesOnFailure(t *testing.T) {
	db := setupTestDB(t)
	// Unreachable gateway.
	seedGate(t, db, "http://127.0.0.1:1")
	svc := NewIndexPayService(db)
	ctx := context.Background()

	assert.Empty(t, svc.ListSettlements(ctx, time.Now(), time.Now()))
	assert.Equal(t, "unknown", svc.CheckStatus(ctx, "mpesa-ke", "TX-1").Status)

	dispatch := svc.DispatchSTK(ctx, "254700111222", 75, "mpesa-ke", "main", "ACC-1")
	assert.False(t, dispatch.Accepted)
	assert.NotEmpty(t, dispatch.RawError)
}

func TestIndexPayServiceNoGateConfigured(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIndexPayService(db)
	ctx := context.Background()

	assert.Empty(t, svc.ListSettlements(ctx, time.Now(), time.Now()))
	res := svc.CheckStatus(ctx, "missing", "TX-1")
	assert.Equal(t, "unknown", res.Status)

	dispatch := svc.DispatchSTK(ctx, "254700111222", 75, "missing", "main", "ACC-1")
	assert.False(t, dispatch.Accepted)
	assert.Equal(t, "gate not configured", dispatch.RawError)
}
