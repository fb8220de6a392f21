package commission

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"futures-safety-bot/internal/database"
	"futures-safety-bot/internal/logging"
)

// mockStore is an in-memory BalanceStore with the same conditional-update and
// idempotence semantics as the SQL repository
type mockStore struct {
	mu        sync.Mutex
	balances  map[string]float64
	applied   map[string]bool // positionID -> deducted
	failed    []string        // positionIDs of recorded failures
	lookupErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		balances: make(map[string]float64),
		applied:  make(map[string]bool),
	}
}

func (m *mockStore) GetUserBalance(ctx context.Context, userID string) (*database.UserBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	balance, ok := m.balances[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &database.UserBalance{UserID: userID, GasFeeBalance: balance}, nil
}

func (m *mockStore) ApplyCommission(ctx context.Context, userID, positionID string, profit, commission, rate float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied[positionID] {
		return 0, database.ErrDuplicateDeduction
	}
	balance, ok := m.balances[userID]
	if !ok || balance < commission {
		return 0, database.ErrInsufficientBalance
	}
	m.applied[positionID] = true
	m.balances[userID] = balance - commission
	return m.balances[userID], nil
}

func (m *mockStore) RecordFailedCommission(ctx context.Context, userID, positionID string, profit, commission, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, positionID)
	return nil
}

func (m *mockStore) GetCommissionSummary(ctx context.Context, userID string) (*database.CommissionSummary, error) {
	return &database.CommissionSummary{UserID: userID}, nil
}

func newTestEngine(store *mockStore, rate float64) *Engine {
	return NewEngine(store, StaticRateSource(rate), 10.0, logging.Nop())
}

func TestComputeSafeProfitCeiling(t *testing.T) {
	tests := []struct {
		name          string
		balance       float64
		rate          float64
		wantMax       float64
		wantThreshold float64
	}{
		{"balance 100 rate 20", 100, 20, 500, 450},
		{"balance 50 rate 10", 50, 10, 500, 450},
		{"balance 1000 rate 25", 1000, 25, 4000, 3600},
		{"small balance", 1, 20, 5, 4.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.balances["u1"] = tt.balance
			engine := newTestEngine(store, tt.rate)

			ceiling, err := engine.ComputeSafeProfitCeiling(context.Background(), "u1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(ceiling.MaxProfit-tt.wantMax) > 1e-9 {
				t.Errorf("MaxProfit = %.6f, want %.6f", ceiling.MaxProfit, tt.wantMax)
			}
			if math.Abs(ceiling.AutoCloseThreshold-tt.wantThreshold) > 1e-9 {
				t.Errorf("AutoCloseThreshold = %.6f, want %.6f", ceiling.AutoCloseThreshold, tt.wantThreshold)
			}
		})
	}
}

func TestComputeSafeProfitCeilingZeroRate(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 100
	engine := newTestEngine(store, 0)

	if _, err := engine.ComputeSafeProfitCeiling(context.Background(), "u1"); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestShouldAutoClose(t *testing.T) {
	// balance 100, rate 20% -> maxProfit 500, threshold 450
	tests := []struct {
		name      string
		profit    float64
		wantClose bool
	}{
		{"well below threshold", 100, false},
		{"just below threshold", 449.99, false},
		{"at threshold", 450, true},
		{"above threshold", 500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.balances["u1"] = 100
			engine := newTestEngine(store, 20)

			close, reason, ceiling, err := engine.ShouldAutoClose(context.Background(), "u1", tt.profit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if close != tt.wantClose {
				t.Errorf("close = %v, want %v", close, tt.wantClose)
			}
			if tt.wantClose && reason == "" {
				t.Error("expected a reason for forced close")
			}
			if ceiling.AutoCloseThreshold != 450 {
				t.Errorf("threshold = %.4f, want 450", ceiling.AutoCloseThreshold)
			}
		})
	}
}

func TestShouldAutoCloseFailsClosed(t *testing.T) {
	store := newMockStore()
	store.lookupErr = errors.New("connection refused")
	engine := newTestEngine(store, 20)

	close, _, _, err := engine.ShouldAutoClose(context.Background(), "u1", 1000)
	if err == nil {
		t.Fatal("expected error when balance lookup fails")
	}
	if close {
		t.Error("lookup failure must not force a close on its own")
	}
}

func TestCanTrade(t *testing.T) {
	tests := []struct {
		name        string
		balance     float64
		wantAllowed bool
	}{
		{"above floor", 50, true},
		{"at floor", 10, true},
		{"below floor", 9.99, false},
		{"zero balance", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.balances["u1"] = tt.balance
			engine := newTestEngine(store, 20)

			allowed, balance, reason, err := engine.CanTrade(context.Background(), "u1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.wantAllowed)
			}
			if balance != tt.balance {
				t.Errorf("balance = %.4f, want %.4f", balance, tt.balance)
			}
			if !tt.wantAllowed && reason == "" {
				t.Error("expected a reason when trading is denied")
			}
		})
	}
}

func TestCanTradeUnknownUserFailsClosed(t *testing.T) {
	engine := newTestEngine(newMockStore(), 20)

	allowed, _, reason, err := engine.CanTrade(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for unknown user")
	}
	if allowed {
		t.Error("unknown user must not be allowed to trade")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestDeductCommission(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 100
	engine := newTestEngine(store, 20)

	deduction, err := engine.DeductCommission(context.Background(), "u1", 50, "pos-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(deduction.Commission-10) > 1e-9 {
		t.Errorf("commission = %.4f, want 10", deduction.Commission)
	}
	if math.Abs(deduction.RemainingBalance-90) > 1e-9 {
		t.Errorf("remaining = %.4f, want 90", deduction.RemainingBalance)
	}
}

func TestDeductCommissionIdempotent(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 100
	engine := newTestEngine(store, 20)

	if _, err := engine.DeductCommission(context.Background(), "u1", 50, "pos-1"); err != nil {
		t.Fatalf("first deduction failed: %v", err)
	}
	_, err := engine.DeductCommission(context.Background(), "u1", 50, "pos-1")
	if !errors.Is(err, database.ErrDuplicateDeduction) {
		t.Fatalf("expected ErrDuplicateDeduction on replay, got %v", err)
	}
	if store.balances["u1"] != 90 {
		t.Errorf("balance = %.4f after replay, want 90 (deducted at most once)", store.balances["u1"])
	}
}

func TestDeductCommissionInsufficientBalance(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 5
	engine := newTestEngine(store, 20)

	// profit 100 at 20% -> commission 20 > balance 5
	_, err := engine.DeductCommission(context.Background(), "u1", 100, "pos-1")

	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Required != 20 {
		t.Errorf("Required = %.4f, want 20", insufficient.Required)
	}
	if insufficient.Available != 5 {
		t.Errorf("Available = %.4f, want 5", insufficient.Available)
	}
	if store.balances["u1"] != 5 {
		t.Errorf("balance changed on failed deduction: %.4f", store.balances["u1"])
	}
	if len(store.failed) != 1 || store.failed[0] != "pos-1" {
		t.Errorf("failed deduction not recorded in audit trail: %v", store.failed)
	}
}

func TestDeductCommissionNeverNegative(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 100
	engine := newTestEngine(store, 20)

	// A sequence of deductions; once the balance cannot cover a commission
	// the deduction fails and the balance is unchanged.
	profits := []float64{200, 150, 100, 300, 50}
	for i, profit := range profits {
		engine.DeductCommission(context.Background(), "u1", profit, positionID(i))
		if store.balances["u1"] < 0 {
			t.Fatalf("balance went negative: %.4f", store.balances["u1"])
		}
	}
}

func TestDeductCommissionNonPositiveProfit(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 100
	engine := newTestEngine(store, 20)

	if _, err := engine.DeductCommission(context.Background(), "u1", -5, "pos-1"); !errors.Is(err, ErrNoCommissionDue) {
		t.Fatalf("expected ErrNoCommissionDue, got %v", err)
	}
}

func positionID(i int) string {
	return "pos-" + string(rune('a'+i))
}
