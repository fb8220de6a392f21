package exchange

import (
	"context"
	"errors"
	"testing"

	"futures-safety-bot/internal/logging"
)

func fixedPrice(price float64) PriceProvider {
	return func(symbol string) (float64, error) { return price, nil }
}

func openLong(t *testing.T, c *SimulatedClient) *Position {
	t.Helper()
	pos, err := c.OpenPosition(context.Background(), OpenRequest{
		UserID:     "u1",
		PositionID: "pos-1",
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 100,
		Quantity:   2,
		Leverage:   5,
		StopLoss:   90,
		TakeProfit: 120,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return pos
}

func TestSimulatedProfitTracking(t *testing.T) {
	client := NewSimulatedClient(fixedPrice(100), logging.Nop())
	openLong(t, client)

	client.SetPriceProvider(fixedPrice(110))
	status, err := client.PositionStatus(context.Background(), "pos-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Open {
		t.Fatal("position should still be open at 110")
	}
	if status.Profit != 20 {
		t.Errorf("Profit = %.2f, want 20 for +10 move at quantity 2", status.Profit)
	}
}

func TestSimulatedTakeProfitExit(t *testing.T) {
	client := NewSimulatedClient(fixedPrice(100), logging.Nop())
	openLong(t, client)

	client.SetPriceProvider(fixedPrice(125))
	status, err := client.PositionStatus(context.Background(), "pos-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Open {
		t.Fatal("position must close when price crosses take profit")
	}
	if status.ExitType != ExitTakeProfit {
		t.Errorf("ExitType = %s, want %s", status.ExitType, ExitTakeProfit)
	}

	// Already closed: force-close is rejected, status stays terminal.
	if _, err := client.ClosePosition(context.Background(), "pos-1"); !errors.Is(err, ErrPositionClosed) {
		t.Errorf("close after exit: err = %v, want ErrPositionClosed", err)
	}
}

func TestSimulatedStopLossExitShort(t *testing.T) {
	client := NewSimulatedClient(fixedPrice(100), logging.Nop())
	_, err := client.OpenPosition(context.Background(), OpenRequest{
		UserID:     "u1",
		PositionID: "pos-2",
		Symbol:     "ETHUSDT",
		Side:       SideShort,
		EntryPrice: 100,
		Quantity:   1,
		StopLoss:   110,
		TakeProfit: 80,
	})
	if err != nil {
		t.Fatalf("open short: %v", err)
	}

	client.SetPriceProvider(fixedPrice(112))
	status, err := client.PositionStatus(context.Background(), "pos-2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Open || status.ExitType != ExitStopLoss {
		t.Errorf("short at 112: open=%v exit=%s, want closed %s", status.Open, status.ExitType, ExitStopLoss)
	}
	if status.Profit != -12 {
		t.Errorf("Profit = %.2f, want -12", status.Profit)
	}
}

func TestSimulatedForceClose(t *testing.T) {
	client := NewSimulatedClient(fixedPrice(100), logging.Nop())
	openLong(t, client)

	client.SetPriceProvider(fixedPrice(108))
	result, err := client.ClosePosition(context.Background(), "pos-1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.Profit != 16 {
		t.Errorf("Profit = %.2f, want 16", result.Profit)
	}
	if result.ExitPrice != 108 {
		t.Errorf("ExitPrice = %.2f, want 108", result.ExitPrice)
	}
}

func TestSimulatedDuplicateOpenRejected(t *testing.T) {
	client := NewSimulatedClient(fixedPrice(100), logging.Nop())
	openLong(t, client)

	_, err := client.OpenPosition(context.Background(), OpenRequest{
		UserID:     "u1",
		PositionID: "pos-1",
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 100,
		Quantity:   1,
	})
	if err == nil {
		t.Fatal("duplicate position id must be rejected")
	}
}

func TestSimulatedUnknownPosition(t *testing.T) {
	client := NewSimulatedClient(nil, logging.Nop())
	if _, err := client.PositionStatus(context.Background(), "nope"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("status: err = %v, want ErrPositionNotFound", err)
	}
	if _, err := client.ClosePosition(context.Background(), "nope"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("close: err = %v, want ErrPositionNotFound", err)
	}
}
