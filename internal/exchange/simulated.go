package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Exit types reported on close
const (
	ExitStopLoss   = "STOP_LOSS"
	ExitTakeProfit = "TAKE_PROFIT"
	ExitForced     = "FORCED"
)

// PriceProvider supplies the current mark price for a symbol
type PriceProvider func(symbol string) (float64, error)

type simPosition struct {
	Position
	closed    bool
	exitType  string
	exitPrice float64
}

// SimulatedClient is an in-memory execution layer for dry-run mode. It fills
// opens instantly at the requested entry price and triggers stop-loss /
// take-profit exits when the mark price crosses them, so the monitoring loop
// sees the same close paths a live exchange produces.
type SimulatedClient struct {
	mu        sync.Mutex
	positions map[string]*simPosition
	prices    PriceProvider
	logger    zerolog.Logger
}

// NewSimulatedClient creates a simulated exchange. A nil price provider pins
// every mark price to the entry price, which keeps profit at zero.
func NewSimulatedClient(prices PriceProvider, logger zerolog.Logger) *SimulatedClient {
	return &SimulatedClient{
		positions: make(map[string]*simPosition),
		prices:    prices,
		logger:    logger.With().Str("component", "exchange_sim").Logger(),
	}
}

// SetPriceProvider swaps the mark price source. Used by tests to steer a
// position's profit between polls.
func (c *SimulatedClient) SetPriceProvider(prices PriceProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = prices
}

func (c *SimulatedClient) OpenPosition(ctx context.Context, req OpenRequest) (*Position, error) {
	if req.PositionID == "" {
		return nil, fmt.Errorf("open %s %s: position id is required", req.Side, req.Symbol)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("open %s %s: quantity must be positive", req.Side, req.Symbol)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.positions[req.PositionID]; exists {
		return nil, fmt.Errorf("open %s %s: position %s already exists", req.Side, req.Symbol, req.PositionID)
	}

	pos := &simPosition{
		Position: Position{
			ID:         req.PositionID,
			UserID:     req.UserID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			EntryPrice: req.EntryPrice,
			Quantity:   req.Quantity,
			Leverage:   req.Leverage,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			OpenedAt:   time.Now().UTC(),
		},
	}
	c.positions[req.PositionID] = pos

	c.logger.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", pos.Side).
		Float64("entry_price", pos.EntryPrice).
		Msg("Simulated position opened")

	copied := pos.Position
	return &copied, nil
}

// PositionStatus reports live profit at the current mark price and fires the
// stop-loss / take-profit exit when the price has crossed either level.
func (c *SimulatedClient) PositionStatus(ctx context.Context, positionID string) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.closed {
		return &Status{
			Open:      false,
			Profit:    pos.profitAt(pos.exitPrice),
			MarkPrice: pos.exitPrice,
			ExitType:  pos.exitType,
			ExitPrice: pos.exitPrice,
		}, nil
	}

	price := pos.EntryPrice
	if c.prices != nil {
		p, err := c.prices(pos.Symbol)
		if err != nil {
			return nil, fmt.Errorf("mark price for %s: %w", pos.Symbol, err)
		}
		price = p
	}

	if exitType, hit := pos.exitHit(price); hit {
		pos.closed = true
		pos.exitType = exitType
		pos.exitPrice = price
		c.logger.Info().
			Str("position_id", pos.ID).
			Str("exit_type", exitType).
			Float64("exit_price", price).
			Msg("Simulated position closed by price level")
		return &Status{
			Open:      false,
			Profit:    pos.profitAt(price),
			MarkPrice: price,
			ExitType:  exitType,
			ExitPrice: price,
		}, nil
	}

	return &Status{Open: true, Profit: pos.profitAt(price), MarkPrice: price}, nil
}

// ClosePosition force-closes at the current mark price
func (c *SimulatedClient) ClosePosition(ctx context.Context, positionID string) (*CloseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.closed {
		return nil, ErrPositionClosed
	}

	price := pos.EntryPrice
	if c.prices != nil {
		p, err := c.prices(pos.Symbol)
		if err != nil {
			return nil, fmt.Errorf("mark price for %s: %w", pos.Symbol, err)
		}
		price = p
	}

	pos.closed = true
	pos.exitType = ExitForced
	pos.exitPrice = price
	closedAt := time.Now().UTC()

	c.logger.Info().
		Str("position_id", pos.ID).
		Float64("exit_price", price).
		Float64("profit", pos.profitAt(price)).
		Msg("Simulated position force-closed")

	return &CloseResult{Profit: pos.profitAt(price), ExitPrice: price, ClosedAt: closedAt}, nil
}

func (p *simPosition) profitAt(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

func (p *simPosition) exitHit(price float64) (string, bool) {
	if p.Side == SideShort {
		if p.StopLoss > 0 && price >= p.StopLoss {
			return ExitStopLoss, true
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return ExitTakeProfit, true
		}
		return "", false
	}
	if p.StopLoss > 0 && price <= p.StopLoss {
		return ExitStopLoss, true
	}
	if p.TakeProfit > 0 && price >= p.TakeProfit {
		return ExitTakeProfit, true
	}
	return "", false
}
