// Package exchange defines the execution-layer contract the bot talks to and
// a simulated in-memory implementation of it.
package exchange

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
)

// Position sides
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// OpenRequest describes the position the bot wants opened
type OpenRequest struct {
	UserID     string
	PositionID string
	Symbol     string
	Side       string
	EntryPrice float64
	Quantity   float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
}

// Position is an open futures position as the exchange reports it
type Position struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	Leverage   int       `json:"leverage"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Status is one poll of a position: live profit while open, or the terminal
// exit details once the exchange has closed it (stop-loss or take-profit
// filled server-side).
type Status struct {
	Open      bool    `json:"open"`
	Profit    float64 `json:"profit"`
	MarkPrice float64 `json:"mark_price"`
	ExitType  string  `json:"exit_type,omitempty"`
	ExitPrice float64 `json:"exit_price,omitempty"`
}

// CloseResult is the realized outcome of a force-close
type CloseResult struct {
	Profit    float64   `json:"profit"`
	ExitPrice float64   `json:"exit_price"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Client is the execution layer the bot drives. Implementations must be safe
// for concurrent use; every bot loop polls Status on its own ticker.
type Client interface {
	OpenPosition(ctx context.Context, req OpenRequest) (*Position, error)
	PositionStatus(ctx context.Context, positionID string) (*Status, error)
	ClosePosition(ctx context.Context, positionID string) (*CloseResult, error)
}
