package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chama-wallet-service/internal/database"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// fakeGateway is a scriptable GatewayAPI for service tests.
type fakeGateway struct {
	mu sync.Mutex

	settlements []Settlement
	statuses    map[string]StatusResult // keyed by correlation ref

	dispatchDelay time.Duration
	failPhones    map[string]bool
	dispatchCount int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses:   map[string]StatusResult{},
		failPhones: map[string]bool{},
	}
}

func (f *fakeGateway) ListSettlements(ctx context.Context, from, to time.Time) []Settlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Settlement, len(f.settlements))
	copy(out, f.settlements)
	return out
}

func (f *fakeGateway) CheckStatus(ctx context.Context, gateName, ref string) StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.statuses[ref]; ok {
		return res
	}
	return StatusResult{Status: "unknown"}
}

func (f *fakeGateway) DispatchSTK(ctx context.Context, phone string, amount float64, gateName, pocketName, accountRef string) DispatchResult {
	if f.dispatchDelay > 0 {
		time.Sleep(f.dispatchDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchCount++

	if f.failPhones[phone] {
		return DispatchResult{Accepted: false, RawError: "subscriber unreachable"}
	}
	return DispatchResult{Accepted: true, CorrelationId: "CKR-" + uuid.NewString()[:8]}
}

func (f *fakeGateway) dispatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatchCount
}
